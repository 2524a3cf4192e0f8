package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/cfdbot/config"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, "config.yaml", "timezone: UTC\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100.0, cfg.Risk.TargetRisk)
	assert.Equal(t, 0.8, cfg.Risk.BoostThreshold)
	assert.Equal(t, "EURUSD", cfg.Risk.ReferencePair.Symbol)
	assert.Equal(t, 3.0, cfg.Risk.MaxRiskMultiple)
	assert.Equal(t, 5, cfg.Execution.MaxAlternatives)
	assert.Equal(t, 500*time.Millisecond, cfg.ConfirmDelay())
	assert.Equal(t, 3, cfg.Execution.MaxFailures)
	assert.Equal(t, 5*time.Minute, cfg.BreakerCooldown())
	assert.Equal(t, "EUR", cfg.FX.HomeCurrency)
	assert.Equal(t, "lines", cfg.Feed.Mode)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, domain.DefaultSizingParams(), cfg.SizingParams())
}

func TestLoad_YAMLValues(t *testing.T) {
	path := writeFile(t, "config.yaml", `
timezone: UTC
risk:
  target_risk: 250
  allow_list: [BTC]
execution:
  max_failures: -1
  confirm_delay_ms: 200
fx:
  home_currency: USD
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250.0, cfg.SizingParams().TargetRisk)
	assert.Equal(t, []string{"BTC"}, cfg.Risk.AllowList)
	assert.Equal(t, 0, cfg.Execution.MaxFailures, "negativo desactiva el breaker")
	assert.Equal(t, 200*time.Millisecond, cfg.ConfirmDelay())
	assert.Equal(t, "USD", cfg.FX.HomeCurrency)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_API_KEY", "key")
	t.Setenv("BROKER_IDENTIFIER", "user")
	t.Setenv("BROKER_PASSWORD", "secret")
	t.Setenv("STORAGE_DSN", ":memory:")
	t.Setenv("LOG_LEVEL", "debug")
	path := writeFile(t, "config.yaml", "timezone: UTC\nstorage:\n  dsn: file.db\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.HasCredentials())
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "bad.yaml", "risk: [\n"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "tz.yaml", "timezone: Mars/Olympus\n"))
	assert.Error(t, err)
}

func TestLoadInstruments(t *testing.T) {
	path := writeFile(t, "instruments.yaml", `
instruments:
  - symbol: GOLD
    display_name: Spot Gold
    venue_id: CS.D.CFDGOLD.CFDGC.IP
    expiry: "-"
    aliases: [XAUUSD]
    fallback:
      venue_id: CS.D.CFEGOLD.CFE.IP
  - symbol: BTC
    venue_id: CS.D.BITCOIN.CFD.IP
    fallback:
      venue_id: CS.D.BITCOIN.WKND.IP
      tag: weekend
  - symbol: NATGAS
    venue_id: CC.D.NG.USS.IP
    disabled: true
`)
	list, err := config.LoadInstruments(path)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "GOLD", list[0].CanonicalSymbol)
	assert.Equal(t, []string{"XAUUSD"}, list[0].Aliases)
	require.NotNil(t, list[0].Fallback)
	assert.Equal(t, "CS.D.CFEGOLD.CFE.IP", list[0].Fallback.VenueID)
	assert.Equal(t, domain.FallbackTagWeekend, list[1].Fallback.Tag)
	assert.True(t, list[2].Disabled)
}

func TestLoadInstruments_Validation(t *testing.T) {
	cases := map[string]string{
		"empty":          "instruments: []\n",
		"missing venue":  "instruments:\n  - symbol: GOLD\n",
		"missing symbol": "instruments:\n  - venue_id: X.Y.Z\n",
		"bad tag":        "instruments:\n  - symbol: BTC\n    venue_id: A.B.C\n    fallback:\n      venue_id: A.B.D\n      tag: holiday\n",
		"alias clash":    "instruments:\n  - symbol: GOLD\n    venue_id: A.B.C\n    aliases: [XAU]\n  - symbol: XAU\n    venue_id: A.B.D\n",
		"negative hint":  "instruments:\n  - symbol: GOLD\n    venue_id: A.B.C\n    deal_increment: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadInstruments(writeFile(t, "instruments.yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadInstruments_SampleFile(t *testing.T) {
	list, err := config.LoadInstruments("instruments.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}
