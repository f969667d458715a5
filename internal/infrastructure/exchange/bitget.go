package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avdev/alert_relay/internal/domain"
	"go.uber.org/zap"
)

const (
	BitgetBaseURL     = "https://api.bitget.com"
	bitgetProductType = "usdt-futures"
	bitgetMarginCoin  = "USDT"
)

// BitgetAdapter talks to the Bitget v2 mix (USDT-futures) API.
//
// In dry-run mode every call short-circuits with domain.ErrDryRun, and with
// empty credentials the signed calls return domain.ErrNotConfigured; both
// latch the poller's circuit breaker instead of burning rate limit on an
// integration that cannot work this session.
type BitgetAdapter struct {
	apiKey     string
	apiSecret  string
	passphrase string
	baseURL    string
	paper      bool // demo (paper trading) account
	dryRun     bool
	client     *http.Client
	logger     *zap.Logger
}

func NewBitgetAdapter(apiKey, apiSecret, passphrase, baseURL string, paper, dryRun bool, logger *zap.Logger) *BitgetAdapter {
	if baseURL == "" {
		baseURL = BitgetBaseURL
	}
	return &BitgetAdapter{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		baseURL:    baseURL,
		paper:      paper,
		dryRun:     dryRun,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (b *BitgetAdapter) configured() bool {
	return b.apiKey != "" && b.apiSecret != "" && b.passphrase != ""
}

// sign builds the Bitget signature: base64(hmac-sha256(timestamp + METHOD +
// requestPath + body)).
func (b *BitgetAdapter) sign(timestamp, method, requestPath, body string) string {
	payload := timestamp + strings.ToUpper(method) + requestPath + body
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (b *BitgetAdapter) sendRequest(ctx context.Context, method, requestPath string, payload any) ([]byte, error) {
	if b.dryRun {
		return nil, domain.ErrDryRun
	}
	if !b.configured() {
		return nil, domain.ErrNotConfigured
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("ACCESS-KEY", b.apiKey)
	req.Header.Set("ACCESS-SIGN", b.sign(timestamp, method, requestPath, string(body)))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", b.passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")
	if b.paper {
		req.Header.Set("paptrading", "1")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &domain.HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (b *BitgetAdapter) decode(raw []byte, out any) error {
	var env bitgetEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Code != "" && env.Code != "00000" {
		return fmt.Errorf("bitget error %s: %s", env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// GetPosition fetches the single-position snapshot for a canonical symbol.
// No position on the exchange yields Found=false with reason not_found.
func (b *BitgetAdapter) GetPosition(ctx context.Context, symbol string) (*domain.PositionSnapshot, error) {
	path := fmt.Sprintf("/api/v2/mix/position/single-position?productType=%s&symbol=%s&marginCoin=%s",
		bitgetProductType, symbol, bitgetMarginCoin)

	raw, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var positions []struct {
		HoldSide         string `json:"holdSide"`
		Total            string `json:"total"`
		OpenPriceAvg     string `json:"openPriceAvg"`
		MarkPrice        string `json:"markPrice"`
		MarginSize       string `json:"marginSize"`
		Leverage         string `json:"leverage"`
		LiquidationPrice string `json:"liquidationPrice"`
		UnrealizedPL     string `json:"unrealizedPL"`
		AchievedProfits  string `json:"achievedProfits"`
	}
	if err := b.decode(raw, &positions); err != nil {
		return nil, err
	}

	snap := &domain.PositionSnapshot{Symbol: symbol}
	for _, p := range positions {
		size := parseFloat(p.Total)
		if size == 0 {
			continue
		}

		snap.Found = true
		snap.Size = size
		snap.Side = domain.SideLong
		if strings.EqualFold(p.HoldSide, "short") {
			snap.Side = domain.SideShort
		}
		snap.EntryPrice = parseFloat(p.OpenPriceAvg)
		snap.MarkPrice = parseFloat(p.MarkPrice)
		snap.Margin = parseFloat(p.MarginSize)
		snap.Leverage = int(parseFloat(p.Leverage))
		snap.LiquidationPrice = parseFloat(p.LiquidationPrice)
		snap.UnrealizedPnL = parseFloatOpt(p.UnrealizedPL)
		if snap.UnrealizedPnL != nil && snap.Margin > 0 {
			ratio := *snap.UnrealizedPnL / snap.Margin
			snap.PnLRatio = &ratio
		}
		break
	}

	if !snap.Found {
		snap.Failure = domain.FailureNotFound
	}
	return snap, nil
}

// GetPrice resolves the last traded price from the public ticker.
func (b *BitgetAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	path := fmt.Sprintf("/api/v2/mix/market/ticker?productType=%s&symbol=%s", bitgetProductType, symbol)

	raw, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	var tickers []struct {
		LastPr string `json:"lastPr"`
	}
	if err := b.decode(raw, &tickers); err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	return strconv.ParseFloat(tickers[0].LastPr, 64)
}

// PlaceOrder submits a market order and returns the raw exchange response
// for the ledger's response column.
func (b *BitgetAdapter) PlaceOrder(ctx context.Context, symbol string, side domain.Side, size float64) (string, error) {
	orderSide := "buy"
	if side == domain.SideShort {
		orderSide = "sell"
	}

	payload := map[string]any{
		"productType": bitgetProductType,
		"symbol":      symbol,
		"side":        orderSide,
		"orderType":   "market",
		"size":        strconv.FormatFloat(size, 'f', -1, 64),
		"marginCoin":  bitgetMarginCoin,
		"marginMode":  "crossed",
		"clientOid":   domain.NewTradeID(),
	}

	raw, err := b.sendRequest(ctx, http.MethodPost, "/api/v2/mix/order/place-order", payload)
	if err != nil {
		return "", err
	}
	if err := b.decode(raw, nil); err != nil {
		return string(raw), err
	}

	b.logger.Debug("order accepted", zap.String("symbol", symbol), zap.String("side", orderSide))
	return string(raw), nil
}

// ClosePosition flattens the live position with a reduce-only market order.
// No live position is a success: the goal state already holds.
func (b *BitgetAdapter) ClosePosition(ctx context.Context, symbol string) error {
	pos, err := b.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if !pos.Found {
		return nil
	}

	closeSide := "sell"
	if pos.Side == domain.SideShort {
		closeSide = "buy"
	}

	payload := map[string]any{
		"productType": bitgetProductType,
		"symbol":      symbol,
		"side":        closeSide,
		"orderType":   "market",
		"size":        strconv.FormatFloat(pos.Size, 'f', -1, 64),
		"marginCoin":  bitgetMarginCoin,
		"marginMode":  "crossed",
		"reduceOnly":  "YES",
		"clientOid":   domain.NewTradeID(),
	}

	raw, err := b.sendRequest(ctx, http.MethodPost, "/api/v2/mix/order/place-order", payload)
	if err != nil {
		return err
	}
	return b.decode(raw, nil)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFloatOpt distinguishes an absent field from a reported zero.
func parseFloatOpt(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
