package exchange

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// CoinbaseAdapter talks to Coinbase Advanced Trade over its REST API,
// grounded on the teacher's CoinbaseBroker (broker_coinbase.go): same
// JWT/RS256 auth minting, same /api/v3/brokerage/* paths, same
// firstString/parseFloat-style tolerant JSON field extraction.
// Generalized from the teacher's single market-buy-by-quote operation
// to the full post-only limit-order surface §6.1 requires: place,
// cancel, list-open, fills-since, and ticker/fill polling loops that
// stand in for genuine push streams (Advanced Trade's WebSocket feed
// is out of scope for this adapter; §6.1's stream_* methods are
// satisfied here by short-interval REST polling).
type CoinbaseAdapter struct {
	apiBase       string
	hc            *http.Client
	keyName       string
	privateKeyPEM string
}

// NewCoinbaseAdapter builds an adapter from the RSA API key pair
// issued by Coinbase's Advanced Trade developer portal.
func NewCoinbaseAdapter(keyName, privateKeyPEM string) *CoinbaseAdapter {
	return &CoinbaseAdapter{
		apiBase:       "https://api.coinbase.com",
		hc:            &http.Client{Timeout: 10 * time.Second},
		keyName:       strings.TrimSpace(keyName),
		privateKeyPEM: normalizeMultiline(privateKeyPEM),
	}
}

func (c *CoinbaseAdapter) Name() string { return "coinbase" }

func (c *CoinbaseAdapter) GetProducts(ctx context.Context) ([]Product, error) {
	var payload struct {
		Products []struct {
			ProductID      string `json:"product_id"`
			BaseIncrement  string `json:"base_increment"`
			QuoteIncrement string `json:"quote_increment"`
			BaseMinSize    string `json:"base_min_size"`
		} `json:"products"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/products", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(payload.Products))
	for _, p := range payload.Products {
		out = append(out, Product{
			ID:             p.ProductID,
			BaseIncrement:  decOrZero(p.BaseIncrement),
			QuoteIncrement: decOrZero(p.QuoteIncrement),
			MinSize:        decOrZero(p.BaseMinSize),
		})
	}
	return out, nil
}

func (c *CoinbaseAdapter) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var payload struct {
		Accounts []struct {
			AvailableBalance struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"available_balance"`
		} `json:"accounts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/accounts?limit=250", nil, &payload); err != nil {
		return nil, err
	}
	out := map[string]decimal.Decimal{}
	for _, a := range payload.Accounts {
		cur := strings.ToUpper(a.AvailableBalance.Currency)
		if cur == "" {
			continue
		}
		out[cur] = out[cur].Add(decOrZero(a.AvailableBalance.Value))
	}
	return out, nil
}

func (c *CoinbaseAdapter) GetTicker(ctx context.Context, marketID string) (decimal.Decimal, error) {
	var payload map[string]any
	path := "/api/v3/brokerage/products/" + url.PathEscape(marketID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return decimal.Zero, err
	}
	for _, k := range []string{"price", "mid_market_price", "best_bid", "best_ask"} {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok {
				if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil && d.IsPositive() {
					return d, nil
				}
			}
		}
	}
	return decimal.Zero, &model.PermanentExchangeError{Op: "GetTicker", Err: errors.New("no usable price in product payload")}
}

// PlaceLimitOrder submits a post-only limit order keyed by clientTag
// as Coinbase's client_order_id, which the exchange itself de-dupes:
// a retry with the same tag returns the original order without a
// second placement.
func (c *CoinbaseAdapter) PlaceLimitOrder(ctx context.Context, marketID string, side model.OrderSide, price, size decimal.Decimal, clientTag string, postOnly bool) (string, error) {
	body := map[string]any{
		"client_order_id": clientTag,
		"product_id":      marketID,
		"side":            strings.ToUpper(string(side)),
		"order_configuration": map[string]any{
			"limit_limit_gtc": map[string]any{
				"base_size":   size.String(),
				"limit_price": price.String(),
				"post_only":   postOnly,
			},
		},
	}
	var resp struct {
		OrderID         string `json:"order_id"`
		SuccessResponse struct {
			OrderID string `json:"order_id"`
		} `json:"success_response"`
		ErrorResponse struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		} `json:"error_response"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v3/brokerage/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.ErrorResponse.Error != "" {
		return "", &model.PermanentExchangeError{Op: "PlaceLimitOrder", Err: fmt.Errorf("%s: %s", resp.ErrorResponse.Error, resp.ErrorResponse.Message)}
	}
	id := resp.OrderID
	if id == "" {
		id = resp.SuccessResponse.OrderID
	}
	if id == "" {
		return "", &model.PermanentExchangeError{Op: "PlaceLimitOrder", Err: errors.New("no order_id in response")}
	}
	return id, nil
}

func (c *CoinbaseAdapter) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"order_ids": []string{orderID}}
	var resp struct {
		Results []struct {
			OrderID string `json:"order_id"`
			Success bool   `json:"success"`
		} `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v3/brokerage/orders/batch_cancel", body, &resp); err != nil {
		return err
	}
	for _, r := range resp.Results {
		if r.OrderID == orderID && !r.Success {
			return &model.PermanentExchangeError{Op: "CancelOrder", Err: fmt.Errorf("cancel rejected for %s", orderID)}
		}
	}
	return nil
}

func (c *CoinbaseAdapter) ListOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	q := url.Values{"product_id": {marketID}, "order_status": {"OPEN"}}
	var payload struct {
		Orders []coinbaseOrder `json:"orders"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/orders/historical/batch?"+q.Encode(), nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(payload.Orders))
	for _, o := range payload.Orders {
		out = append(out, o.toModel())
	}
	return out, nil
}

func (c *CoinbaseAdapter) GetFills(ctx context.Context, sinceUnix int64) ([]model.Fill, error) {
	q := url.Values{"start_sequence_timestamp": {time.Unix(sinceUnix, 0).UTC().Format(time.RFC3339)}}
	var payload struct {
		Fills []struct {
			TradeID   string `json:"trade_id"`
			OrderID   string `json:"order_id"`
			ProductID string `json:"product_id"`
			Side      string `json:"side"`
			Price     string `json:"price"`
			Size      string `json:"size"`
			Commission string `json:"commission"`
			TradeTime string `json:"trade_time"`
		} `json:"fills"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/orders/historical/fills?"+q.Encode(), nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.Fill, 0, len(payload.Fills))
	for _, f := range payload.Fills {
		ts, _ := time.Parse(time.RFC3339, f.TradeTime)
		out = append(out, model.Fill{
			ID:        f.TradeID,
			OrderID:   f.OrderID,
			MarketID:  f.ProductID,
			Side:      model.OrderSide(strings.ToUpper(f.Side)),
			Price:     decOrZero(f.Price),
			Size:      decOrZero(f.Size),
			Fee:       decOrZero(f.Commission),
			Timestamp: ts,
		})
	}
	return out, nil
}

// StreamTicker polls get_ticker at a short fixed interval, since this
// adapter targets the REST surface only (§6.1 allows at-least-once
// delivery, which a poll loop trivially satisfies).
func (c *CoinbaseAdapter) StreamTicker(ctx context.Context, marketID string, cb TickerCallback) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			price, err := c.GetTicker(ctx, marketID)
			if err != nil {
				continue
			}
			cb(marketID, price, time.Now().UTC())
		}
	}
}

// StreamFills polls get_fills since the last poll, at-least-once.
func (c *CoinbaseAdapter) StreamFills(ctx context.Context, cb FillCallback) error {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	since := time.Now().UTC().Unix()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fills, err := c.GetFills(ctx, since)
			if err != nil {
				continue
			}
			for _, f := range fills {
				cb(f)
				if f.Timestamp.Unix() >= since {
					since = f.Timestamp.Unix() + 1
				}
			}
		}
	}
}

type coinbaseOrder struct {
	OrderID           string `json:"order_id"`
	ClientOrderID     string `json:"client_order_id"`
	ProductID         string `json:"product_id"`
	Side              string `json:"side"`
	Status            string `json:"status"`
	FilledSize        string `json:"filled_size"`
	OrderConfiguration struct {
		LimitLimitGTC struct {
			BaseSize   string `json:"base_size"`
			LimitPrice string `json:"limit_price"`
		} `json:"limit_limit_gtc"`
	} `json:"order_configuration"`
}

func (o coinbaseOrder) toModel() model.Order {
	return model.Order{
		ID:         o.OrderID,
		ClientTag:  o.ClientOrderID,
		MarketID:   o.ProductID,
		Side:       model.OrderSide(strings.ToUpper(o.Side)),
		Price:      decOrZero(o.OrderConfiguration.LimitLimitGTC.LimitPrice),
		Size:       decOrZero(o.OrderConfiguration.LimitLimitGTC.BaseSize),
		FilledSize: decOrZero(o.FilledSize),
		Status:     mapCoinbaseStatus(o.Status),
	}
}

func mapCoinbaseStatus(s string) model.OrderStatus {
	switch strings.ToUpper(s) {
	case "OPEN":
		return model.OrderOpen
	case "FILLED":
		return model.OrderFilled
	case "CANCELLED", "CANCELED":
		return model.OrderCanceled
	case "PENDING":
		return model.OrderPendingPlace
	case "REJECTED", "FAILED":
		return model.OrderRejected
	default:
		return model.OrderUnknown
	}
}

// doJSON issues an authenticated request and decodes a JSON response,
// classifying non-2xx responses per §7: 429/5xx are transient (the
// caller retries with backoff), everything else is permanent.
func (c *CoinbaseAdapter) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return &model.PermanentExchangeError{Op: "doJSON:marshal", Err: err}
		}
		reader = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return &model.PermanentExchangeError{Op: "doJSON:newRequest", Err: err}
	}
	req.Header.Set("User-Agent", "gridbot/coinbase-go")
	req.Header.Set("Content-Type", "application/json")
	if err := c.addAuth(req); err != nil {
		return &model.PermanentExchangeError{Op: "doJSON:auth", Err: err}
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return &model.TransientExchangeError{Op: "doJSON:do", Err: err}
	}
	defer res.Body.Close()

	rb, _ := io.ReadAll(res.Body)
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return &model.TransientExchangeError{Op: "doJSON", Err: fmt.Errorf("%d: %s", res.StatusCode, string(rb))}
	}
	if res.StatusCode >= 300 {
		return &model.PermanentExchangeError{Op: "doJSON", Err: fmt.Errorf("%d: %s", res.StatusCode, string(rb))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rb, out); err != nil {
		return &model.PermanentExchangeError{Op: "doJSON:decode", Err: err}
	}
	return nil
}

func (c *CoinbaseAdapter) addAuth(req *http.Request) error {
	if c.keyName == "" || c.privateKeyPEM == "" {
		return errors.New("coinbase auth not configured: set COINBASE_API_KEY and COINBASE_API_SECRET")
	}
	token, err := mintCoinbaseJWT(c.keyName, c.privateKeyPEM, 25*time.Second)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func mintCoinbaseJWT(keyName, privatePEM string, ttl time.Duration) (string, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return "", errors.New("invalid private key: no PEM block")
	}
	var priv *rsa.PrivateKey
	switch block.Type {
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", err
		}
		var ok bool
		priv, ok = k.(*rsa.PrivateKey)
		if !ok {
			return "", errors.New("private key is not RSA")
		}
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return "", err
		}
		priv = k
	default:
		return "", fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": keyName,
		"aud": []string{"retail_rest_api"},
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"jti": uuid.New().String(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return t.SignedString(priv)
}

func decOrZero(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func normalizeMultiline(s string) string {
	if strings.Contains(s, `\n`) {
		return strings.ReplaceAll(s, `\n`, "\n")
	}
	return s
}
