// Package broker implementa ports.Broker sobre la API REST de un broker de
// CFDs estilo IG: sesión con tokens en cabeceras, mercados por epic, posiciones
// OTC y confirmación de deals por referencia.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://demo-api.ig.com/gateway/deal"

	// Límites al 60% de los documentados: 60 peticiones/min no comerciales.
	readRatePerSec = 0.6
	// 30 operaciones/min: 18/min.
	dealRatePerSec = 0.3

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Config son las credenciales y el endpoint del broker.
type Config struct {
	BaseURL    string
	APIKey     string
	Identifier string
	Password   string
	AccountID  string
	Timeout    time.Duration
}

// Client es el HTTP client del broker con rate limiting, retries y
// re-autenticación ante un 401.
type Client struct {
	http        *http.Client
	cfg         Config
	readLimiter *rate.Limiter
	dealLimiter *rate.Limiter
	retryWait   time.Duration

	mu              sync.RWMutex
	cst             string
	securityToken   string
	accountCurrency string
}

// NewClient crea el client. Si BaseURL está vacío usa el entorno demo.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		cfg:         cfg,
		readLimiter: rate.NewLimiter(readRatePerSec, 5),
		dealLimiter: rate.NewLimiter(dealRatePerSec, 3),
		retryWait:   baseRetryWait,
	}
}

// WithLimits reemplaza los limitadores y la espera base (tests).
func (c *Client) WithLimits(read, deal *rate.Limiter, retryWait time.Duration) *Client {
	c.readLimiter, c.dealLimiter, c.retryWait = read, deal, retryWait
	return c
}

// AccountCurrency es la divisa de la cuenta informada al abrir sesión.
func (c *Client) AccountCurrency() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountCurrency
}

// request describe una llamada a la API.
type request struct {
	method   string
	path     string
	version  string
	body     any
	override string // cabecera _method para DELETE con cuerpo
	limiter  *rate.Limiter
	// idempotent permite reintentar tras un error de red o un 5xx. Las órdenes
	// no lo son: un reintento podría duplicar la posición.
	idempotent bool
}

// apiError es una respuesta 4xx con su errorCode.
type apiError struct {
	Status int
	Code   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker api error %d: %s", e.Status, e.Code)
}

// do ejecuta la petición y devuelve el cuerpo parseado con gjson.
func (c *Client) do(ctx context.Context, r request) (gjson.Result, error) {
	res, err := c.doWithRetry(ctx, r)
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized && r.path != "/session" {
		slog.Info("broker: sesión caducada, re-autenticando")
		if aerr := c.Authenticate(ctx); aerr != nil {
			return gjson.Result{}, aerr
		}
		return c.doWithRetry(ctx, r)
	}
	return res, err
}

func (c *Client) doWithRetry(ctx context.Context, r request) (gjson.Result, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.send(ctx, r)
		if err != nil {
			if !r.idempotent || attempt == maxRetries {
				return gjson.Result{}, fmt.Errorf("%s %s: %v: %w", r.method, r.path, err, domain.ErrTransport)
			}
			c.sleep(ctx, attempt)
			continue
		}

		body, rerr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("broker: rate limited por la API", "path", r.path, "attempt", attempt+1)
			if attempt == maxRetries {
				return gjson.Result{}, fmt.Errorf("%s %s: rate limited: %w", r.method, r.path, domain.ErrTransport)
			}
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 500:
			if !r.idempotent || attempt == maxRetries {
				return gjson.Result{}, fmt.Errorf("%s %s: server error %d: %w", r.method, r.path, resp.StatusCode, domain.ErrTransport)
			}
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			code := gjson.GetBytes(body, "errorCode").String()
			if code == "" {
				code = string(body)
			}
			return gjson.Result{}, &apiError{Status: resp.StatusCode, Code: code}
		}

		if rerr != nil {
			return gjson.Result{}, fmt.Errorf("%s %s: read body: %v: %w", r.method, r.path, rerr, domain.ErrTransport)
		}
		if r.path == "/session" && r.method == http.MethodPost {
			c.storeTokens(resp.Header)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return gjson.Result{}, nil
		}
		if !gjson.ValidBytes(body) {
			return gjson.Result{}, fmt.Errorf("%s %s: invalid json response", r.method, r.path)
		}
		return gjson.ParseBytes(body), nil
	}
	return gjson.Result{}, fmt.Errorf("%s %s: exhausted %d retries: %w", r.method, r.path, maxRetries, domain.ErrTransport)
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.cfg.BaseURL+r.path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json; charset=UTF-8")
	req.Header.Set("X-IG-API-KEY", c.cfg.APIKey)
	if r.version != "" {
		req.Header.Set("Version", r.version)
	}
	if r.override != "" {
		req.Header.Set("_method", r.override)
	}
	c.mu.RLock()
	if c.cst != "" {
		req.Header.Set("CST", c.cst)
		req.Header.Set("X-SECURITY-TOKEN", c.securityToken)
	}
	c.mu.RUnlock()
	return c.http.Do(req)
}

func (c *Client) storeTokens(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v := h.Get("CST"); v != "" {
		c.cst = v
	}
	if v := h.Get("X-SECURITY-TOKEN"); v != "" {
		c.securityToken = v
	}
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
