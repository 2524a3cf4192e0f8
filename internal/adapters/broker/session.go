package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Authenticate abre la sesión (POST /session v2) y guarda CST y
// X-SECURITY-TOKEN. Si la cuenta activa no es la configurada, cambia de cuenta.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.cfg.APIKey == "" || c.cfg.Identifier == "" || c.cfg.Password == "" {
		return errors.New("broker.Authenticate: missing credentials (BROKER_API_KEY, BROKER_IDENTIFIER, BROKER_PASSWORD)")
	}
	res, err := c.doWithRetry(ctx, request{
		method:     http.MethodPost,
		path:       "/session",
		version:    "2",
		body:       map[string]string{"identifier": c.cfg.Identifier, "password": c.cfg.Password},
		limiter:    c.readLimiter,
		idempotent: true,
	})
	if err != nil {
		return fmt.Errorf("broker.Authenticate: %w", err)
	}

	current := res.Get("currentAccountId").String()
	c.mu.Lock()
	c.accountCurrency = res.Get("currencyIsoCode").String()
	hasTokens := c.cst != ""
	c.mu.Unlock()
	if !hasTokens {
		return errors.New("broker.Authenticate: session response without tokens")
	}

	if c.cfg.AccountID != "" && current != "" && current != c.cfg.AccountID {
		_, err := c.doWithRetry(ctx, request{
			method:     http.MethodPut,
			path:       "/session",
			version:    "1",
			body:       map[string]any{"accountId": c.cfg.AccountID, "defaultAccount": false},
			limiter:    c.readLimiter,
			idempotent: true,
		})
		if err != nil {
			return fmt.Errorf("broker.Authenticate: switch account %s: %w", c.cfg.AccountID, err)
		}
		current = c.cfg.AccountID
	}
	slog.Info("broker: sesión abierta", "account", current, "currency", c.AccountCurrency())
	return nil
}
