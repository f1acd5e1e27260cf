package polymarket

import (
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/wkoss/polystop/internal/domain"
)

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIPosition is a single position record as returned by the Polymarket Data
// API /positions endpoint. All numeric fields arrive as JSON numbers. The
// schema is pinned here so an upstream field rename fails loudly at this
// boundary instead of producing zero-valued positions downstream.
type APIPosition struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"` // ERC-1155 token ID, decimal string
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CurPrice     float64 `json:"curPrice"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	Redeemable   bool    `json:"redeemable"`
	EndDate      string  `json:"endDate"`
}

// Validate checks the invariants a position record must satisfy before it is
// allowed into the domain. Records failing validation are skipped by the
// caller, never silently coerced.
func (p *APIPosition) Validate() error {
	if p.Asset == "" {
		return errors.New("missing asset id")
	}
	if p.Size <= 0 {
		return errors.New("non-positive size")
	}
	if p.CurPrice < 0 || p.CurPrice > 1 {
		return errors.New("price outside [0,1]")
	}
	return nil
}

// ToDomainPosition converts a validated APIPosition to a domain.Position,
// applying display defaults for missing optional fields.
func (p *APIPosition) ToDomainPosition() domain.Position {
	title := p.Title
	if title == "" {
		title = "Unknown market"
	}
	outcome := p.Outcome
	if outcome == "" {
		outcome = "?"
	}
	return domain.NewPosition(p.Asset, title, outcome, p.Size, p.CurPrice, p.CurrentValue, p.InitialValue)
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder represents an order as returned by the Polymarket CLOB API.
type APIOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	AssetID       string `json:"asset_id"`
	Side          string `json:"side"` // "BUY" or "SELL"
	Type          string `json:"type"` // "GTC", "FOK"
	OriginalSize  string `json:"original_size"`
	SizeMatched   string `json:"size_matched"`
	Price         string `json:"price"`
	MakerAmount   string `json:"maker_amount"`
	TakerAmount   string `json:"taker_amount"`
	Owner         string `json:"owner"`
	Signature     string `json:"signature"`
	SignatureType int    `json:"signature_type"`
	CreatedAt     string `json:"created_at"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIBook is the REST /book response for a single token.
type APIBook struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// APIBookLevel is a single bid/ask level in the REST or WebSocket book data.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
// Its shape matches APIBook plus the msg_type envelope field.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// PriceChangeMessage represents an incremental orderbook price-level update.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToDomainOrder converts an APIOrder to a domain.Order.
func (a *APIOrder) ToDomainOrder() domain.Order {
	o := domain.Order{
		ID:        a.ID,
		TokenID:   a.AssetID,
		Wallet:    a.Owner,
		Signature: a.Signature,
	}

	switch a.Side {
	case "BUY":
		o.Side = domain.OrderSideBuy
	case "SELL":
		o.Side = domain.OrderSideSell
	}

	switch a.Type {
	case "GTC":
		o.Type = domain.OrderTypeGTC
	case "FOK":
		o.Type = domain.OrderTypeFOK
	}

	o.Status = mapOrderStatus(a.Status, true)

	if price, err := strconv.ParseFloat(a.Price, 64); err == nil {
		o.PriceTicks = int64(price * 1e6)
	}
	if orig, err := strconv.ParseFloat(a.OriginalSize, 64); err == nil {
		o.SizeUnits = int64(orig * 1e6)
	}
	if ma, ok := new(big.Int).SetString(a.MakerAmount, 10); ok {
		o.MakerAmount = ma
	}
	if ta, ok := new(big.Int).SetString(a.TakerAmount, 10); ok {
		o.TakerAmount = ta
	}
	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		o.CreatedAt = t
	}

	return o
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Status:      mapOrderStatus(r.Status, r.Success),
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
	}
}

func mapOrderStatus(s string, success bool) domain.OrderStatus {
	switch s {
	case "live", "open":
		return domain.OrderStatusOpen
	case "matched":
		return domain.OrderStatusMatched
	case "filled":
		return domain.OrderStatusFilled
	case "cancelled":
		return domain.OrderStatusCancelled
	case "delayed":
		return domain.OrderStatusPending
	}
	if success {
		return domain.OrderStatusPending
	}
	return domain.OrderStatusFailed
}

// bookToDomainSnapshot converts REST or WebSocket book levels to a
// domain.OrderbookSnapshot, computing BBO along the way.
func bookToDomainSnapshot(assetID string, bids, asks []APIBookLevel, timestamp string) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{AssetID: assetID}

	for _, lvl := range bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if snap.BestAsk == 0 || p < snap.BestAsk {
			snap.BestAsk = p
		}
	}

	snap.Timestamp = parseWireTimestamp(timestamp)
	return snap
}

// BookToDomainSnapshot converts a BookMessage to a domain.OrderbookSnapshot.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	return bookToDomainSnapshot(b.AssetID, b.Bids, b.Asks, b.Timestamp)
}

// ToDomainSnapshot converts a REST APIBook to a domain.OrderbookSnapshot.
func (b *APIBook) ToDomainSnapshot() domain.OrderbookSnapshot {
	return bookToDomainSnapshot(b.AssetID, b.Bids, b.Asks, b.Timestamp)
}

// PriceChangeToDomain converts a PriceChangeMessage to a domain.PriceChange.
func PriceChangeToDomain(p *PriceChangeMessage) domain.PriceChange {
	pc := domain.PriceChange{
		AssetID: p.AssetID,
		Side:    p.Side,
	}
	pc.Price, _ = strconv.ParseFloat(p.Price, 64)
	pc.Size, _ = strconv.ParseFloat(p.Size, 64)
	pc.Timestamp = parseWireTimestamp(p.Timestamp)
	return pc
}

// parseWireTimestamp handles the three timestamp encodings the venue emits:
// Unix milliseconds, Unix seconds, and RFC 3339. Falls back to now.
func parseWireTimestamp(s string) time.Time {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
