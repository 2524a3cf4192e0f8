package fxrates_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/adapters/fxrates"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRate_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		assert.Equal(t, "USD", r.URL.Query().Get("from"))
		assert.Equal(t, "EUR", r.URL.Query().Get("to"))
		w.Write([]byte(`{"amount":1.0,"base":"USD","date":"2026-03-04","rates":{"EUR":0.9215}}`))
	}))
	defer srv.Close()

	rate, err := fxrates.NewClient(srv.URL, "EUR").Rate(context.Background(), "usd")
	require.NoError(t, err)
	assert.InDelta(t, 0.9215, rate, 1e-12)
}

func TestRate_HomeCurrencyIsOne(t *testing.T) {
	rate, err := fxrates.NewClient("http://127.0.0.1:1", "EUR").Rate(context.Background(), "EUR")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}

func TestRate_NormalizesAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"amount":100,"base":"JPY","rates":{"EUR":0.6}}`))
	}))
	defer srv.Close()

	rate, err := fxrates.NewClient(srv.URL, "EUR").Rate(context.Background(), "JPY")
	require.NoError(t, err)
	assert.InDelta(t, 0.006, rate, 1e-12)
}

func TestRate_MissingCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"amount":1,"rates":{}}`))
	}))
	defer srv.Close()

	_, err := fxrates.NewClient(srv.URL, "EUR").Rate(context.Background(), "XYZ")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransport)
}

func TestRate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"amount":1,"rates":{"EUR":1.17}}`))
	}))
	defer srv.Close()

	rate, err := fxrates.NewClient(srv.URL, "EUR").WithRetryWait(time.Millisecond).Rate(context.Background(), "GBP")
	require.NoError(t, err)
	assert.InDelta(t, 1.17, rate, 1e-12)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRate_ExhaustedRetriesIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fxrates.NewClient(srv.URL, "EUR").WithRetryWait(time.Millisecond).Rate(context.Background(), "GBP")
	assert.ErrorIs(t, err, domain.ErrTransport)
}
