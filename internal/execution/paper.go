package execution

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/marketdata"
	"fyers_desk/pkg/quant"
	"fyers_desk/pkg/safe"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoQuote           = errors.New("no quote available")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderClosed       = errors.New("order is no longer open")
)

// Fill is a simulated execution.
type Fill struct {
	OrderID  string
	Symbol   string
	Exchange string
	Action   domain.Action
	Price    quant.PriceMicros
	Qty      int64
	At       time.Time
}

type instrument struct {
	symbol, exchange string
}

func instrumentOf(symbol, exchange string) instrument {
	return instrument{strings.ToUpper(strings.TrimSpace(symbol)), strings.ToUpper(strings.TrimSpace(exchange))}
}

type paperPosition struct {
	product  domain.ProductType
	netQty   int64
	avgPrice quant.PriceMicros
	realized decimal.Decimal
}

// PaperBroker simulates the broker in memory against live quotes.
// Market orders fill at the last quote, marketable limit orders at their
// limit, stop orders once the quote crosses the trigger.
type PaperBroker struct {
	mu        sync.Mutex
	initial   quant.PriceMicros
	cash      quant.PriceMicros
	orders    map[string]*domain.Order
	seq       []string // order ids in placement order
	positions map[instrument]*paperPosition
	prices    map[instrument]quant.PriceMicros
	fills     []Fill
	now       func() time.Time
}

var _ domain.Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a paper account holding initialCash.
func NewPaperBroker(initialCash quant.PriceMicros) *PaperBroker {
	return &PaperBroker{
		initial:   initialCash,
		cash:      initialCash,
		orders:    make(map[string]*domain.Order),
		positions: make(map[instrument]*paperPosition),
		prices:    make(map[instrument]quant.PriceMicros),
		now:       time.Now,
	}
}

// UpdatePrice records the last traded price and works resting orders.
func (p *PaperBroker) UpdatePrice(symbol, exchange string, ltp quant.PriceMicros) {
	if ltp <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := instrumentOf(symbol, exchange)
	p.prices[key] = ltp
	for _, id := range p.seq {
		o := p.orders[id]
		if o.IsOpen() && instrumentOf(o.Symbol, o.Exchange) == key {
			p.workLocked(o)
		}
	}
}

// OnQuote adapts UpdatePrice to a market data listener.
func (p *PaperBroker) OnQuote(ev marketdata.QuoteEvent) {
	if ev.Kind != marketdata.EventUpdate {
		return
	}
	p.UpdatePrice(ev.Snapshot.Symbol, ev.Snapshot.Exchange, ev.Snapshot.LTP)
}

func (p *PaperBroker) Funds(ctx context.Context) (domain.Funds, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var used decimal.Decimal
	for _, pos := range p.positions {
		used = used.Add(pos.avgPrice.Decimal().Mul(decimal.NewFromInt(pos.netQty).Abs()))
	}
	var realized decimal.Decimal
	for _, pos := range p.positions {
		realized = realized.Add(pos.realized)
	}
	return domain.Funds{
		Total:     quant.FromDecimal(p.initial.Decimal().Add(realized)),
		Available: p.cash,
		Used:      quant.FromDecimal(used),
	}, nil
}

func (p *PaperBroker) Positions(ctx context.Context) ([]domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Position, 0, len(p.positions))
	for key, pos := range p.positions {
		ltp, ok := p.prices[key]
		if !ok {
			ltp = pos.avgPrice
		}
		out = append(out, domain.Position{
			Symbol:      key.symbol,
			Exchange:    key.exchange,
			Product:     pos.product,
			NetQty:      pos.netQty,
			AvgPrice:    pos.avgPrice,
			LTP:         ltp,
			RealizedPnL: pos.realized,
		})
	}
	slices.SortFunc(out, func(a, b domain.Position) int {
		return cmp.Or(cmp.Compare(a.Exchange, b.Exchange), cmp.Compare(a.Symbol, b.Symbol))
	})
	return out, nil
}

// Holdings is always empty: paper fills never settle into the demat account.
func (p *PaperBroker) Holdings(ctx context.Context) ([]domain.Holding, error) {
	return []domain.Holding{}, nil
}

func (p *PaperBroker) Orders(ctx context.Context) ([]domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Order, 0, len(p.seq))
	for _, id := range p.seq {
		out = append(out, *p.orders[id])
	}
	return out, nil
}

// Fills returns a copy of every simulated execution.
func (p *PaperBroker) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.fills)
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := instrumentOf(req.Symbol, req.Exchange)
	o := &domain.Order{
		ID:       uuid.NewString(),
		Symbol:   key.symbol,
		Exchange: key.exchange,
		Action:   req.Action,
		Kind:     req.Kind,
		Product:  req.Product,
		Quantity: req.Quantity,
		Status:   domain.StatusPending,
		PlacedAt: p.now(),
	}
	if req.Price != nil {
		o.Price = *req.Price
	}
	if req.TriggerPrice != nil {
		o.TriggerPrice = *req.TriggerPrice
		o.Status = domain.StatusTransit
	}

	if req.Kind == domain.KindMarket {
		if _, ok := p.prices[key]; !ok {
			return "", fmt.Errorf("paper %s %s: %w", req.Action, key.symbol, ErrNoQuote)
		}
	}

	p.orders[o.ID] = o
	p.seq = append(p.seq, o.ID)
	p.workLocked(o)

	slog.Info("PAPER order accepted",
		slog.String("id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("action", string(o.Action)),
		slog.String("kind", o.Kind.String()),
		slog.Int64("qty", o.Quantity),
		slog.String("status", o.Status.String()))

	if o.Status == domain.StatusRejected {
		return o.ID, fmt.Errorf("paper order %s rejected: %s", o.ID, o.Message)
	}
	return o.ID, nil
}

func (p *PaperBroker) ModifyOrder(ctx context.Context, mod domain.OrderModification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, err := p.openOrderLocked(mod.OrderID)
	if err != nil {
		return err
	}
	if mod.Quantity != nil {
		o.Quantity = *mod.Quantity
	}
	if mod.Kind != nil {
		o.Kind = *mod.Kind
	}
	if mod.Price != nil {
		o.Price = *mod.Price
	}
	if mod.TriggerPrice != nil {
		o.TriggerPrice = *mod.TriggerPrice
		o.Status = domain.StatusTransit
	}
	p.workLocked(o)
	return nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, err := p.openOrderLocked(orderID)
	if err != nil {
		return err
	}
	o.Status = domain.StatusCancelled
	slog.Info("PAPER order cancelled", slog.String("id", o.ID))
	return nil
}

// CloseAllPositions squares off every open position at the last quote,
// or at the average price when no quote has been seen.
func (p *PaperBroker) CloseAllPositions(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, pos := range p.positions {
		if pos.netQty == 0 {
			continue
		}
		price, ok := p.prices[key]
		if !ok {
			price = pos.avgPrice
		}
		action := domain.ActionSell
		qty := pos.netQty
		if qty < 0 {
			action, qty = domain.ActionBuy, -qty
		}
		o := &domain.Order{
			ID: uuid.NewString(), Symbol: key.symbol, Exchange: key.exchange,
			Action: action, Kind: domain.KindMarket, Product: pos.product,
			Quantity: qty, Status: domain.StatusPending, PlacedAt: p.now(),
		}
		p.orders[o.ID] = o
		p.seq = append(p.seq, o.ID)
		if err := p.fillLocked(o, price); err != nil {
			return err
		}
	}
	return nil
}

func (p *PaperBroker) openOrderLocked(id string) (*domain.Order, error) {
	o, ok := p.orders[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("order %s is %s: %w", id, o.Status, ErrOrderClosed)
	}
	return o, nil
}

// workLocked fills o if the last quote allows it.
func (p *PaperBroker) workLocked(o *domain.Order) {
	ltp, ok := p.prices[instrumentOf(o.Symbol, o.Exchange)]
	if !ok {
		return
	}

	if o.Status == domain.StatusTransit {
		if !triggered(o.Action, o.TriggerPrice, ltp) {
			return
		}
		o.Status = domain.StatusPending
	}

	var price quant.PriceMicros
	switch o.Kind {
	case domain.KindMarket, domain.KindStopMarket:
		price = ltp
	case domain.KindLimit, domain.KindStop:
		if !marketable(o.Action, o.Price, ltp) {
			return
		}
		price = o.Price
	default:
		return
	}

	if err := p.fillLocked(o, price); err != nil {
		o.Status = domain.StatusRejected
		o.Message = err.Error()
		slog.Warn("PAPER order rejected", slog.String("id", o.ID), slog.Any("error", err))
	}
}

// stops trigger when the price moves through them in the order's direction
func triggered(a domain.Action, trigger, ltp quant.PriceMicros) bool {
	if a == domain.ActionBuy {
		return ltp >= trigger
	}
	return ltp <= trigger
}

func marketable(a domain.Action, limit, ltp quant.PriceMicros) bool {
	if a == domain.ActionBuy {
		return ltp <= limit
	}
	return ltp >= limit
}

// fillLocked books a full fill of o at price.
func (p *PaperBroker) fillLocked(o *domain.Order, price quant.PriceMicros) error {
	notional, err := safe.Mul(int64(price), o.Quantity)
	if err != nil {
		return fmt.Errorf("notional of %d x %s: %w", o.Quantity, price, err)
	}

	key := instrumentOf(o.Symbol, o.Exchange)
	pos := p.positions[key]
	if pos == nil {
		pos = &paperPosition{product: o.Product}
	}
	signed := o.Quantity * int64(o.Action.Side())

	// only the part that opens or extends exposure needs cash
	opening := o.Quantity
	if pos.netQty != 0 && (pos.netQty > 0) != (signed > 0) {
		closing := min(o.Quantity, abs(pos.netQty))
		opening = o.Quantity - closing
	}
	need, err := safe.Mul(int64(price), opening)
	if err != nil {
		return err
	}
	if o.Action == domain.ActionBuy && quant.PriceMicros(need) > p.cash {
		return fmt.Errorf("need %s, have %s: %w", quant.PriceMicros(need), p.cash, ErrInsufficientFunds)
	}

	cash, err := safe.Sub(int64(p.cash), notional*int64(o.Action.Side()))
	if err != nil {
		return err
	}
	newQty, err := safe.Add(pos.netQty, signed)
	if err != nil {
		return err
	}

	switch {
	case pos.netQty == 0 || (pos.netQty > 0) == (signed > 0):
		// extend: weighted average
		total := pos.avgPrice.Decimal().Mul(decimal.NewFromInt(abs(pos.netQty))).
			Add(price.Decimal().Mul(decimal.NewFromInt(o.Quantity)))
		pos.avgPrice = quant.FromDecimal(total.Div(decimal.NewFromInt(abs(newQty))))
	default:
		closed := min(o.Quantity, abs(pos.netQty))
		pnl := quant.PnL(price, pos.avgPrice, closed)
		if pos.netQty < 0 {
			pnl = pnl.Neg()
		}
		pos.realized = pos.realized.Add(pnl)
		if newQty != 0 && (newQty > 0) != (pos.netQty > 0) {
			// flipped: the remainder opens at the fill price
			pos.avgPrice = price
		}
	}

	pos.netQty = newQty
	if newQty == 0 {
		pos.avgPrice = 0
	}
	p.positions[key] = pos
	p.cash = quant.PriceMicros(cash)

	o.Status = domain.StatusTraded
	o.FilledQty = o.Quantity
	p.fills = append(p.fills, Fill{
		OrderID: o.ID, Symbol: o.Symbol, Exchange: o.Exchange,
		Action: o.Action, Price: price, Qty: o.Quantity, At: p.now(),
	})

	slog.Info("PAPER order filled",
		slog.String("id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("action", string(o.Action)),
		slog.String("price", price.String()),
		slog.Int64("qty", o.Quantity))
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
