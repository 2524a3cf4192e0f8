package positions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/shopspring/decimal"
)

// CloseBroker es el subconjunto de ports.Broker que usa el evaluador de cierre.
type CloseBroker interface {
	ClosePosition(ctx context.Context, req domain.CloseRequest) (string, error)
	UpdateLevels(ctx context.Context, upd domain.LevelUpdate) (string, error)
	Confirm(ctx context.Context, dealReference string) (domain.DealConfirmation, error)
}

// Tracker olvida la metadata local de una posición cerrada.
type Tracker interface {
	Expire(ctx context.Context, dealID string) error
}

// CloseConfig son los márgenes del ajuste de niveles cuando un cierre llega en pérdida.
type CloseConfig struct {
	StopBuffer      float64 // distancia del stop protector al precio actual (0.04 = 4%)
	TargetBuffer    float64 // distancia del objetivo al precio de entrada (0.005 = 0.5%)
	ConfirmAttempts int
	ConfirmDelay    time.Duration
}

func DefaultCloseConfig() CloseConfig {
	return CloseConfig{StopBuffer: 0.04, TargetBuffer: 0.005, ConfirmAttempts: 3, ConfirmDelay: 500 * time.Millisecond}
}

// Closer decide y ejecuta el cierre condicional de una posición.
type Closer struct {
	broker  CloseBroker
	tracker Tracker
	cfg     CloseConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewCloser crea el evaluador. tracker puede ser nil.
func NewCloser(broker CloseBroker, tracker Tracker, cfg CloseConfig) *Closer {
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = 3
	}
	return &Closer{broker: broker, tracker: tracker, cfg: cfg, sleep: sleepCtx}
}

// WithSleep reemplaza la espera entre confirmaciones (tests).
func (c *Closer) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Closer {
	c.sleep = fn
	return c
}

// Close aplica la regla de cierre condicional: con P&L negativo no se cierra,
// se mueve el stop cerca del precio y el objetivo al punto de entrada más un
// margen; con P&L cero o positivo se cierra la posición completa. Sin P&L del
// broker ni cotización el signo es desconocido y no se actúa.
func (c *Closer) Close(ctx context.Context, p domain.OpenPosition) domain.CloseDecision {
	if !p.HasLivePnL && p.ReferencePrice() <= 0 {
		d := domain.CloseDecision{Action: domain.CloseActionClosed, Position: p}
		return failed(d, fmt.Errorf("positions.Close: %s: no live P&L nor quote: %w", p.DealID, domain.ErrMarketDataUnavailable))
	}
	pnl := p.PnL()
	if pnl < 0 {
		return c.adjust(ctx, p, pnl)
	}

	req := domain.CloseRequest{
		DealID:    p.DealID,
		VenueID:   p.VenueID,
		Direction: p.Direction.Opposite(),
		Size:      p.Size,
	}
	d := domain.CloseDecision{Action: domain.CloseActionClosed, Position: p, PnL: pnl, Request: &req}
	slog.Info("positions: cerrando", "deal_id", p.DealID, "venue", p.VenueID, "direction", req.Direction, "size", req.Size, "pnl", pnl)

	ref, err := c.broker.ClosePosition(ctx, req)
	if err != nil {
		return failed(d, fmt.Errorf("positions.Close: %s: %w", p.DealID, err))
	}
	d.DealRef = ref
	if err := c.confirm(ctx, p.VenueID, ref); err != nil {
		return failed(d, fmt.Errorf("positions.Close: %s: %w", p.DealID, err))
	}

	if c.tracker != nil {
		if err := c.tracker.Expire(ctx, p.DealID); err != nil {
			slog.Warn("positions: no se pudo limpiar el tracker", "deal_id", p.DealID, "err", err)
		}
	}
	return d
}

func (c *Closer) adjust(ctx context.Context, p domain.OpenPosition, pnl float64) domain.CloseDecision {
	stop, limit := ProtectiveLevels(p, c.cfg.StopBuffer, c.cfg.TargetBuffer)
	upd := domain.LevelUpdate{DealID: p.DealID, StopLevel: stop, LimitLevel: limit}
	d := domain.CloseDecision{Action: domain.CloseActionAdjust, Position: p, PnL: pnl, Update: &upd}
	if stop <= 0 || limit <= 0 {
		return failed(d, fmt.Errorf("positions.adjust: %s: no price to derive levels: %w", p.DealID, domain.ErrMarketDataUnavailable))
	}
	slog.Info("positions: cierre en pérdida, se ajustan niveles",
		"deal_id", p.DealID, "pnl", pnl, "stop", stop, "limit", limit)

	ref, err := c.broker.UpdateLevels(ctx, upd)
	if err != nil {
		return failed(d, fmt.Errorf("positions.adjust: %s: %w", p.DealID, err))
	}
	d.DealRef = ref
	if err := c.confirm(ctx, p.VenueID, ref); err != nil {
		return failed(d, fmt.Errorf("positions.adjust: %s: %w", p.DealID, err))
	}
	return d
}

// UpdateLevel mueve el stop o el objetivo de la posición a level.
func (c *Closer) UpdateLevel(ctx context.Context, p domain.OpenPosition, kind domain.LevelKind, level float64) domain.CloseDecision {
	upd := domain.LevelUpdate{DealID: p.DealID}
	if kind == domain.LevelLimit {
		upd.LimitLevel = level
	} else {
		upd.StopLevel = level
	}
	d := domain.CloseDecision{Action: domain.CloseActionAdjust, Position: p, PnL: p.PnL(), Update: &upd}
	if level <= 0 {
		return failed(d, fmt.Errorf("positions.UpdateLevel: %s: invalid %s level %v", p.DealID, kind, level))
	}
	if !p.LevelCompatible(kind, level) {
		slog.Info("positions: nivel sin efecto o en el lado equivocado del precio, se omite",
			"deal_id", p.DealID, "kind", kind, "level", level, "price", p.ReferencePrice())
		d.Action = domain.CloseActionSkipped
		return d
	}

	ref, err := c.broker.UpdateLevels(ctx, upd)
	if err != nil {
		return failed(d, fmt.Errorf("positions.UpdateLevel: %s: %w", p.DealID, err))
	}
	d.DealRef = ref
	if err := c.confirm(ctx, p.VenueID, ref); err != nil {
		return failed(d, fmt.Errorf("positions.UpdateLevel: %s: %w", p.DealID, err))
	}
	slog.Info("positions: nivel actualizado", "deal_id", p.DealID, "kind", kind, "level", level)
	return d
}

func failed(d domain.CloseDecision, err error) domain.CloseDecision {
	slog.Warn("positions: operación fallida", "deal_id", d.Position.DealID, "action", d.Action, "err", err)
	d.Action = domain.CloseActionFailed
	d.Err = err
	return d
}

// ProtectiveLevels calcula stop y objetivo para una posición en pérdida.
//
//	BUY:  stop = bid × (1 − stopBuf),   limit = open × (1 + targetBuf)
//	SELL: stop = offer × (1 + stopBuf), limit = open × (1 − targetBuf)
//
// Los niveles se redondean a la precisión de la cotización.
func ProtectiveLevels(p domain.OpenPosition, stopBuf, targetBuf float64) (stop, limit float64) {
	price := p.ReferencePrice()
	if price <= 0 || p.OpenLevel <= 0 {
		return 0, 0
	}
	places := pricePlaces(p.Bid, p.Offer, p.OpenLevel)
	one := decimal.NewFromInt(1)
	sb := decimal.NewFromFloat(stopBuf)
	tb := decimal.NewFromFloat(targetBuf)
	px := decimal.NewFromFloat(price)
	open := decimal.NewFromFloat(p.OpenLevel)

	var s, l decimal.Decimal
	if p.Direction == domain.Sell {
		s = px.Mul(one.Add(sb))
		l = open.Mul(one.Sub(tb))
	} else {
		s = px.Mul(one.Sub(sb))
		l = open.Mul(one.Add(tb))
	}
	stop, _ = s.Round(places).Float64()
	limit, _ = l.Round(places).Float64()
	return stop, limit
}

// pricePlaces es el mayor número de decimales entre los precios, entre 2 y 5.
func pricePlaces(prices ...float64) int32 {
	places := int32(2)
	for _, v := range prices {
		if v <= 0 {
			continue
		}
		if e := -decimal.NewFromFloat(v).Exponent(); e > places {
			places = e
		}
	}
	if places > 5 {
		places = 5
	}
	return places
}

func (c *Closer) confirm(ctx context.Context, venueID, ref string) error {
	var lastErr error
	for i := 0; i < c.cfg.ConfirmAttempts; i++ {
		if i > 0 {
			if err := c.sleep(ctx, c.cfg.ConfirmDelay); err != nil {
				return err
			}
		}
		conf, err := c.broker.Confirm(ctx, ref)
		if err != nil || conf.Status == "" {
			lastErr = err
			continue
		}
		if !conf.Accepted() {
			return &domain.VenueRejection{VenueID: venueID, Status: conf.Status, Reason: conf.Reason}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("empty confirmation")
	}
	return fmt.Errorf("confirm %s: %w", ref, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
