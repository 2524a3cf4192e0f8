// Package fxrates obtiene tipos de cambio de una API HTTP estilo Frankfurter:
// GET {base}/latest?from=USD&to=EUR → {"rates":{"EUR":0.92}}.
package fxrates

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.frankfurter.app"
	ratePerSec     = 2
	maxRetries     = 2
	baseRetryWait  = 300 * time.Millisecond
)

var _ ports.RateProvider = (*Client)(nil)

// Client consulta tipos de cambio hacia la divisa base de la cuenta.
type Client struct {
	http      *http.Client
	baseURL   string
	home      string
	limiter   *rate.Limiter
	retryWait time.Duration
}

// NewClient crea el client. home es la divisa de la cuenta (EUR por defecto).
func NewClient(baseURL, home string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if home == "" {
		home = "EUR"
	}
	return &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		home:      strings.ToUpper(home),
		limiter:   rate.NewLimiter(ratePerSec, 2),
		retryWait: baseRetryWait,
	}
}

// WithRetryWait cambia la espera base entre reintentos (tests).
func (c *Client) WithRetryWait(d time.Duration) *Client {
	c.retryWait = d
	return c
}

// Rate devuelve cuántas unidades de la divisa base vale una unidad de currency.
func (c *Client) Rate(ctx context.Context, currency string) (float64, error) {
	cur := strings.ToUpper(currency)
	if cur == c.home {
		return 1, nil
	}
	u := fmt.Sprintf("%s/latest?from=%s&to=%s", c.baseURL, url.QueryEscape(cur), url.QueryEscape(c.home))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * c.retryWait):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("fxrates.Rate: rate limiter: %w", err)
		}

		body, status, err := c.get(ctx, u)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("fxrates.Rate: %s: %v: %w", cur, err, domain.ErrTransport)
			continue
		case status >= 500 || status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("fxrates.Rate: %s: status %d: %w", cur, status, domain.ErrTransport)
			continue
		case status >= 400:
			return 0, fmt.Errorf("fxrates.Rate: %s: status %d: %s", cur, status, gjson.GetBytes(body, "message").String())
		}

		v := gjson.GetBytes(body, "rates."+c.home)
		if !v.Exists() || v.Float() <= 0 {
			return 0, fmt.Errorf("fxrates.Rate: %s→%s missing in response", cur, c.home)
		}
		quote := v.Float()
		if amount := gjson.GetBytes(body, "amount").Float(); amount > 0 && amount != 1 {
			quote /= amount
		}
		slog.Debug("fxrates: tipo obtenido", "from", cur, "to", c.home, "rate", quote)
		return quote, nil
	}
	return 0, lastErr
}

func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
