package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
)

var _ ports.Broker = (*Client)(nil)

// OpenPositions devuelve las posiciones abiertas de la cuenta (GET /positions v2).
func (c *Client) OpenPositions(ctx context.Context) ([]domain.OpenPosition, error) {
	res, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/positions",
		version:    "2",
		limiter:    c.readLimiter,
		idempotent: true,
	})
	if err != nil {
		return nil, fmt.Errorf("broker.OpenPositions: %w", err)
	}
	return mapPositions(res), nil
}

type openOrder struct {
	Epic           string   `json:"epic"`
	Expiry         string   `json:"expiry"`
	Direction      string   `json:"direction"`
	Size           float64  `json:"size"`
	OrderType      string   `json:"orderType"`
	CurrencyCode   string   `json:"currencyCode"`
	ForceOpen      bool     `json:"forceOpen"`
	GuaranteedStop bool     `json:"guaranteedStop"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	LimitLevel     *float64 `json:"limitLevel,omitempty"`
}

// PlaceOrder envía una orden a mercado (POST /positions/otc v2) y devuelve
// el deal reference. No se reintenta tras un fallo de red.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	expiry := req.Expiry
	if expiry == "" {
		expiry = "-"
	}
	body := openOrder{
		Epic:         req.VenueID,
		Expiry:       expiry,
		Direction:    string(req.Direction),
		Size:         req.Size,
		OrderType:    "MARKET",
		CurrencyCode: req.Currency,
		ForceOpen:    true,
		StopLevel:    optional(req.StopLevel),
		LimitLevel:   optional(req.LimitLevel),
	}
	res, err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/positions/otc",
		version: "2",
		body:    body,
		limiter: c.dealLimiter,
	})
	if err != nil {
		return "", fmt.Errorf("broker.PlaceOrder: %s: %w", req.VenueID, rejection(req.VenueID, err))
	}
	return dealReference(res.Get("dealReference").String(), "PlaceOrder")
}

// ClosePosition cierra una posición (POST /positions/otc con _method=DELETE).
func (c *Client) ClosePosition(ctx context.Context, req domain.CloseRequest) (string, error) {
	body := map[string]any{
		"dealId":    req.DealID,
		"direction": string(req.Direction),
		"size":      req.Size,
		"orderType": "MARKET",
	}
	res, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/positions/otc",
		version:  "1",
		body:     body,
		override: http.MethodDelete,
		limiter:  c.dealLimiter,
	})
	if err != nil {
		return "", fmt.Errorf("broker.ClosePosition: %s: %w", req.DealID, rejection(req.VenueID, err))
	}
	return dealReference(res.Get("dealReference").String(), "ClosePosition")
}

// UpdateLevels cambia stop y/o límite (PUT /positions/otc/{dealId} v2).
// Solo se envían los niveles que cambian.
func (c *Client) UpdateLevels(ctx context.Context, upd domain.LevelUpdate) (string, error) {
	body := map[string]any{"trailingStop": false}
	if upd.StopLevel > 0 {
		body["stopLevel"] = upd.StopLevel
	}
	if upd.LimitLevel > 0 {
		body["limitLevel"] = upd.LimitLevel
	}
	res, err := c.do(ctx, request{
		method:  http.MethodPut,
		path:    "/positions/otc/" + url.PathEscape(upd.DealID),
		version: "2",
		body:    body,
		limiter: c.dealLimiter,
		// Fijar el mismo nivel dos veces no cambia nada.
		idempotent: true,
	})
	if err != nil {
		return "", fmt.Errorf("broker.UpdateLevels: %s: %w", upd.DealID, rejection("", err))
	}
	return dealReference(res.Get("dealReference").String(), "UpdateLevels")
}

// Confirm consulta el estado final de un deal (GET /confirms/{dealReference}).
// Mientras el deal no está procesado el broker responde 404: ErrVenueNotFound.
func (c *Client) Confirm(ctx context.Context, dealReference string) (domain.DealConfirmation, error) {
	res, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/confirms/" + url.PathEscape(dealReference),
		version:    "1",
		limiter:    c.readLimiter,
		idempotent: true,
	})
	if err != nil {
		if notFound(err) {
			return domain.DealConfirmation{}, fmt.Errorf("broker.Confirm: %s: %w", dealReference, domain.ErrVenueNotFound)
		}
		return domain.DealConfirmation{}, fmt.Errorf("broker.Confirm: %s: %w", dealReference, err)
	}
	conf := mapConfirm(res)
	if conf.DealReference == "" {
		conf.DealReference = dealReference
	}
	return conf, nil
}

// rejection convierte un 4xx de una operación en una VenueRejection con el errorCode.
func rejection(venueID string, err error) error {
	var ae *apiError
	if errors.As(err, &ae) {
		return &domain.VenueRejection{VenueID: venueID, Status: "REJECTED", Reason: ae.Code}
	}
	return err
}

func dealReference(ref, op string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("broker.%s: response without dealReference", op)
	}
	return ref, nil
}

func optional(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
