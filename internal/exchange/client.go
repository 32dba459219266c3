package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// RESTClient is a thin signed wrapper around the exchange wallet API
type RESTClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	cache      *AddressCache // Optional deposit-address memoization
}

// NewRESTClient creates a new exchange client. cache may be nil.
func NewRESTClient(apiKey, secretKey, baseURL string, cache *AddressCache) *RESTClient {
	return &RESTClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
	}
}

// IsAPIEnabled checks the account API restrictions for withdrawal permission
func (c *RESTClient) IsAPIEnabled(ctx context.Context) (bool, error) {
	body, err := c.signedRequest(ctx, "GET", "/sapi/v1/account/apiRestrictions", url.Values{})
	if err != nil {
		return false, err
	}

	var restrictions struct {
		EnableReading     bool `json:"enableReading"`
		EnableWithdrawals bool `json:"enableWithdrawals"`
	}
	if err := json.Unmarshal(body, &restrictions); err != nil {
		return false, fmt.Errorf("error parsing api restrictions: %w", err)
	}

	return restrictions.EnableReading && restrictions.EnableWithdrawals, nil
}

// GetAssetBalance fetches the account balance row for one asset
func (c *RESTClient) GetAssetBalance(ctx context.Context, asset string) (*AssetBalance, error) {
	body, err := c.signedRequest(ctx, "GET", "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("error parsing account: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("error parsing free balance %q: %w", b.Free, err)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("error parsing locked balance %q: %w", b.Locked, err)
		}
		return &AssetBalance{Asset: b.Asset, Free: free, Locked: locked}, nil
	}

	return nil, nil
}

// GetDepositAddress resolves the deposit address for an asset/network pair.
// Addresses are memoized in the cache when one is configured.
func (c *RESTClient) GetDepositAddress(ctx context.Context, asset, network string) (*DepositAddress, error) {
	if c.cache != nil {
		if addr, ok := c.cache.Get(ctx, asset, network); ok {
			return addr, nil
		}
	}

	params := url.Values{}
	params.Set("coin", asset)
	params.Set("network", network)

	body, err := c.signedRequest(ctx, "GET", "/sapi/v1/capital/deposit/address", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Coin    string `json:"coin"`
		Address string `json:"address"`
		Tag     string `json:"tag"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing deposit address: %w", err)
	}
	if resp.Address == "" {
		return nil, fmt.Errorf("exchange returned no deposit address for %s/%s", asset, network)
	}

	addr := &DepositAddress{Asset: asset, Network: network, Address: resp.Address, Tag: resp.Tag}
	if c.cache != nil {
		c.cache.Set(ctx, addr)
	}

	return addr, nil
}

// Withdraw submits a withdrawal request and returns the withdrawal id
func (c *RESTClient) Withdraw(ctx context.Context, req WithdrawRequest) (string, error) {
	params := url.Values{}
	params.Set("coin", req.Asset)
	params.Set("network", req.Network)
	params.Set("address", req.Address)
	params.Set("amount", req.Amount.String())
	if req.Tag != "" {
		params.Set("addressTag", req.Tag)
	}

	body, err := c.signedRequest(ctx, "POST", "/sapi/v1/capital/withdraw/apply", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("error parsing withdraw response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("exchange returned empty withdrawal id")
	}

	return resp.ID, nil
}

// GetDepositHistory lists deposit records for an asset within a time window
func (c *RESTClient) GetDepositHistory(ctx context.Context, asset string, start, end time.Time) ([]DepositRecord, error) {
	params := url.Values{}
	params.Set("coin", asset)
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}

	body, err := c.signedRequest(ctx, "GET", "/sapi/v1/capital/deposit/hisrec", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Coin       string `json:"coin"`
		Network    string `json:"network"`
		Address    string `json:"address"`
		TxID       string `json:"txId"`
		Amount     string `json:"amount"`
		Status     int    `json:"status"`
		InsertTime int64  `json:"insertTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing deposit history: %w", err)
	}

	records := make([]DepositRecord, 0, len(raw))
	for _, r := range raw {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("error parsing deposit amount %q: %w", r.Amount, err)
		}
		records = append(records, DepositRecord{
			Asset:      r.Coin,
			Network:    r.Network,
			Address:    r.Address,
			TxID:       r.TxID,
			Amount:     amount,
			Status:     r.Status,
			InsertTime: time.UnixMilli(r.InsertTime),
		})
	}

	return records, nil
}

// GetWithdrawalStatus returns the record for one withdrawal id
func (c *RESTClient) GetWithdrawalStatus(ctx context.Context, asset, id string) (*WithdrawalRecord, error) {
	params := url.Values{}
	if asset != "" {
		params.Set("coin", asset)
	}

	body, err := c.signedRequest(ctx, "GET", "/sapi/v1/capital/withdraw/history", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID             string `json:"id"`
		Coin           string `json:"coin"`
		Network        string `json:"network"`
		Address        string `json:"address"`
		TxID           string `json:"txId"`
		Amount         string `json:"amount"`
		TransactionFee string `json:"transactionFee"`
		Status         int    `json:"status"`
		ApplyTime      string `json:"applyTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing withdrawal history: %w", err)
	}

	for _, r := range raw {
		if r.ID != id {
			continue
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("error parsing withdrawal amount %q: %w", r.Amount, err)
		}
		fee := decimal.Zero
		if r.TransactionFee != "" {
			fee, err = decimal.NewFromString(r.TransactionFee)
			if err != nil {
				return nil, fmt.Errorf("error parsing withdrawal fee %q: %w", r.TransactionFee, err)
			}
		}
		applyTime, _ := time.Parse("2006-01-02 15:04:05", r.ApplyTime)
		return &WithdrawalRecord{
			ID:        r.ID,
			Asset:     r.Coin,
			Network:   r.Network,
			Address:   r.Address,
			TxID:      r.TxID,
			Amount:    amount,
			Fee:       fee,
			Status:    r.Status,
			ApplyTime: applyTime,
		}, nil
	}

	return nil, fmt.Errorf("withdrawal %s not found in exchange history", id)
}

// signedRequest issues an authenticated request. The signature covers the
// encoded query string exactly as sent.
func (c *RESTClient) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, query)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// sign creates an HMAC-SHA256 signature over the query string
func (c *RESTClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
