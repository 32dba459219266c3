package chains

import (
	"fmt"
	"sort"
	"sync"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/logging"
)

// Registry holds the configured chain adapters keyed by chain key
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      *logging.Logger
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		log:      logging.Default().WithComponent("chains"),
	}
}

// Register adds an adapter. Registering the same chain key twice is a
// configuration error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := a.ChainKey()
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("chain adapter already registered for %s", key)
	}
	r.adapters[key] = a
	r.log.Info("Registered chain adapter", "chain", key, "hot_wallet", a.HotWalletAddress())
	return nil
}

// Get returns the adapter for a chain key
func (r *Registry) Get(chainKey string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[chainKey]
	if !ok {
		return nil, fmt.Errorf("no chain adapter registered for %s", chainKey)
	}
	return a, nil
}

// ChainKeys returns the registered chain keys in sorted order
func (r *Registry) ChainKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.adapters))
	for key := range r.adapters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRegistry constructs adapters for every configured chain
func BuildRegistry(cfgs []config.ChainConfig) (*Registry, error) {
	registry := NewRegistry()

	for _, cfg := range cfgs {
		var (
			adapter Adapter
			err     error
		)
		switch cfg.Family {
		case config.ChainFamilyUTXO:
			adapter, err = NewBitcoinAdapter(cfg)
		case config.ChainFamilyEVM:
			adapter, err = NewEVMAdapter(cfg)
		case config.ChainFamilySolana:
			adapter, err = NewSolanaAdapter(cfg)
		default:
			err = fmt.Errorf("unknown chain family %q for %s", cfg.Family, cfg.ChainKey)
		}
		if err != nil {
			return nil, fmt.Errorf("error building adapter for %s: %w", cfg.ChainKey, err)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
