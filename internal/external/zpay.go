package external

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"gaiya/internal/types"
)

// ZPayClient talks to the Z-Pay aggregation gateway. Payment pages are
// plain signed redirects; order queries go through the merchant API.
// All requests and callbacks are authenticated with an MD5 signature
// over the sorted parameter set.
type ZPayClient struct {
	base       *BaseClient
	pid        string
	key        types.SecretString
	gatewayURL string
	logger     *slog.Logger
}

// NewZPayClient creates a Z-Pay client. gatewayURL should not carry a
// trailing slash.
func NewZPayClient(base *BaseClient, pid string, key types.SecretString, gatewayURL string, logger *slog.Logger) *ZPayClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZPayClient{
		base:       base,
		pid:        pid,
		key:        key,
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		logger:     logger,
	}
}

// Sign computes the Z-Pay MD5 signature for a parameter set: keys sorted
// by ASCII, joined as key=value with '&', empty values and the sign and
// sign_type keys excluded, merchant key appended, MD5 hex lowercase.
func (c *ZPayClient) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sum := md5.Sum([]byte(strings.Join(pairs, "&") + c.key.Unmask()))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks the sign parameter of a callback against the
// recomputed signature.
func (c *ZPayClient) VerifySignature(params map[string]string) bool {
	provided := strings.ToLower(params["sign"])
	if provided == "" {
		return false
	}
	expected := c.Sign(params)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// BuildPaymentURL returns the signed gateway redirect for an order.
// payType is the Z-Pay channel ("alipay" or "wxpay").
func (c *ZPayClient) BuildPaymentURL(order *types.Order, productName, payType, notifyURL, returnURL string) string {
	params := map[string]string{
		"pid":          c.pid,
		"type":         payType,
		"out_trade_no": order.OutTradeNo,
		"notify_url":   notifyURL,
		"return_url":   returnURL,
		"name":         productName,
		"money":        order.Amount,
	}
	params["sign"] = c.Sign(params)
	params["sign_type"] = "MD5"

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return c.gatewayURL + "/submit.php?" + values.Encode()
}

// ZPayOrderStatus is the subset of the merchant query response the
// payment service consumes.
type ZPayOrderStatus struct {
	OutTradeNo     string
	GatewayTradeNo string
	Paid           bool
	Amount         string
}

// zpayQueryResponse mirrors the merchant API JSON. The gateway is loose
// with types, so status comes back as json.Number-compatible raw text.
type zpayQueryResponse struct {
	Code       json.Number `json:"code"`
	Msg        string      `json:"msg"`
	Status     json.Number `json:"status"`
	OutTradeNo string      `json:"out_trade_no"`
	TradeNo    string      `json:"trade_no"`
	Money      string      `json:"money"`
}

// QueryOrder asks the gateway for the settlement state of an order.
// The query endpoint is known to answer with an HTML error page under
// load; any non-JSON body maps to upstream_gateway_unavailable so the
// caller can fall back to the local ledger.
func (c *ZPayClient) QueryOrder(ctx context.Context, outTradeNo string) (*ZPayOrderStatus, error) {
	values := url.Values{}
	values.Set("act", "order")
	values.Set("pid", c.pid)
	values.Set("key", c.key.Unmask())
	values.Set("out_trade_no", outTradeNo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.gatewayURL+"/api.php?"+values.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build gateway query", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway, "failed to read gateway response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway,
			fmt.Sprintf("gateway query returned %d", resp.StatusCode), nil)
	}

	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		c.logger.Warn("gateway query returned non-JSON body", "out_trade_no", outTradeNo)
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway, "gateway returned a non-JSON response", nil)
	}

	var parsed zpayQueryResponse
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway, "failed to parse gateway response", err)
	}

	if parsed.Code.String() != "1" {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway,
			fmt.Sprintf("gateway query rejected: %s", parsed.Msg), nil)
	}

	return &ZPayOrderStatus{
		OutTradeNo:     parsed.OutTradeNo,
		GatewayTradeNo: parsed.TradeNo,
		Paid:           parsed.Status.String() == "1",
		Amount:         parsed.Money,
	}, nil
}
