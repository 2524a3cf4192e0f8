package config

import (
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Timezone        string          `yaml:"timezone"` // zona en la que se evalúa el fin de semana
	InstrumentsPath string          `yaml:"instruments_path"`
	Risk            RiskConfig      `yaml:"risk"`
	Execution       ExecutionConfig `yaml:"execution"`
	Broker          BrokerConfig    `yaml:"broker"`
	FX              FXConfig        `yaml:"fx"`
	Feed            FeedConfig      `yaml:"feed"`
	Storage         StorageConfig   `yaml:"storage"`
	Log             LogConfig       `yaml:"log"`
}

// RiskConfig controla el sizing y el gate de seguridad.
type RiskConfig struct {
	TargetRisk        float64                   `yaml:"target_risk"` // en divisa de la cuenta
	MaxContracts      float64                   `yaml:"max_contracts"`
	BoostThreshold    float64                   `yaml:"boost_threshold"`     // 0.8: bajo el 80% del objetivo se suma un incremento
	MaxPriceDeviation float64                   `yaml:"max_price_deviation"` // 0.5: desviación precio vivo vs señal
	MinImpliedMargin  float64                   `yaml:"min_implied_margin"`  // 0.01
	EquityMarginFloor float64                   `yaml:"equity_margin_floor"` // 0.2
	ReferencePair     domain.ReferencePairBound `yaml:"reference_pair"`
	MaxRiskMultiple   float64                   `yaml:"max_risk_multiple"`
	FloorWarnMultiple float64                   `yaml:"floor_warn_multiple"`
	AllowList         []string                  `yaml:"allow_list"` // exentos del tope de riesgo
	Oil               OilConfig                 `yaml:"oil"`
}

// OilConfig es la corrección ×100 de los precios de petróleo en las alertas.
type OilConfig struct {
	Symbols   []string `yaml:"symbols"`
	Threshold float64  `yaml:"threshold"`
	Factor    float64  `yaml:"factor"`
}

// ExecutionConfig controla la cascada, el cierre y el circuit breaker.
type ExecutionConfig struct {
	DryRun                 bool    `yaml:"dry_run"`
	MaxAlternatives        int     `yaml:"max_alternatives"`
	ConfirmAttempts        int     `yaml:"confirm_attempts"`
	ConfirmDelayMS         int     `yaml:"confirm_delay_ms"`
	StopBuffer             float64 `yaml:"stop_buffer"`   // 0.04 más allá del precio actual
	TargetBuffer           float64 `yaml:"target_buffer"` // 0.005 más allá de la entrada
	MaxFailures            int     `yaml:"max_failures"`
	BreakerCooldownSeconds int     `yaml:"breaker_cooldown_seconds"`
	TrackerMaxAgeHours     int     `yaml:"tracker_max_age_hours"`
}

// BrokerConfig contiene endpoint y credenciales. Las credenciales vienen del .env.
type BrokerConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"-"`
	Identifier     string `yaml:"-"`
	Password       string `yaml:"-"`
	AccountID      string `yaml:"account_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// FXConfig controla la fuente y la caché de tipos de cambio.
type FXConfig struct {
	BaseURL      string `yaml:"base_url"`
	HomeCurrency string `yaml:"home_currency"`
	TTLSeconds   int    `yaml:"ttl_seconds"`
}

// FeedConfig controla la lectura de mensajes de stdin.
type FeedConfig struct {
	Mode   string `yaml:"mode"` // lines | blocks | json
	ChatID string `yaml:"chat_id"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SizingParams devuelve los parámetros de riesgo para el sizing.
func (c *Config) SizingParams() domain.SizingParams {
	return domain.SizingParams{
		TargetRisk:        c.Risk.TargetRisk,
		MaxContracts:      c.Risk.MaxContracts,
		BoostThreshold:    c.Risk.BoostThreshold,
		MaxPriceDeviation: c.Risk.MaxPriceDeviation,
		MinImpliedMargin:  c.Risk.MinImpliedMargin,
		EquityMarginFloor: c.Risk.EquityMarginFloor,
		ReferencePair:     c.Risk.ReferencePair,
	}
}

// Location devuelve la zona horaria configurada.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ConfirmDelay devuelve la espera entre consultas de confirmación.
func (c *Config) ConfirmDelay() time.Duration {
	return time.Duration(c.Execution.ConfirmDelayMS) * time.Millisecond
}

// BreakerCooldown devuelve la duración de la pausa del circuit breaker.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Execution.BreakerCooldownSeconds) * time.Second
}

// TrackerMaxAge devuelve la vida máxima de la metadata de posiciones (0 = sin límite).
func (c *Config) TrackerMaxAge() time.Duration {
	return time.Duration(c.Execution.TrackerMaxAgeHours) * time.Hour
}

// FXTTL devuelve la vida de un tipo de cambio en caché.
func (c *Config) FXTTL() time.Duration {
	return time.Duration(c.FX.TTLSeconds) * time.Second
}

// BrokerTimeout devuelve el timeout HTTP del broker.
func (c *Config) BrokerTimeout() time.Duration {
	return time.Duration(c.Broker.TimeoutSeconds) * time.Second
}

// HasCredentials indica si hay credenciales para operar contra el broker real.
func (c *Config) HasCredentials() bool {
	return c.Broker.APIKey != "" && c.Broker.Identifier != "" && c.Broker.Password != ""
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_IDENTIFIER"); v != "" {
		cfg.Broker.Identifier = v
	}
	if v := os.Getenv("BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("BROKER_ACCOUNT_ID"); v != "" {
		cfg.Broker.AccountID = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	def := domain.DefaultSizingParams()
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Berlin"
	}
	if cfg.InstrumentsPath == "" {
		cfg.InstrumentsPath = "config/instruments.yaml"
	}

	r := &cfg.Risk
	if r.TargetRisk <= 0 {
		r.TargetRisk = def.TargetRisk
	}
	if r.MaxContracts <= 0 {
		r.MaxContracts = def.MaxContracts
	}
	if r.BoostThreshold <= 0 {
		r.BoostThreshold = def.BoostThreshold
	}
	if r.MaxPriceDeviation <= 0 {
		r.MaxPriceDeviation = def.MaxPriceDeviation
	}
	if r.MinImpliedMargin <= 0 {
		r.MinImpliedMargin = def.MinImpliedMargin
	}
	if r.EquityMarginFloor <= 0 {
		r.EquityMarginFloor = def.EquityMarginFloor
	}
	if r.ReferencePair.Symbol == "" {
		r.ReferencePair = def.ReferencePair
	}
	if r.MaxRiskMultiple <= 0 {
		r.MaxRiskMultiple = 3
	}
	if r.FloorWarnMultiple <= 0 {
		r.FloorWarnMultiple = 1.5
	}
	if len(r.Oil.Symbols) == 0 {
		r.Oil.Symbols = []string{"OIL", "ÖL", "OEL", "WTI", "BRENT", "CRUDE", "USOIL", "UKOIL"}
	}
	if r.Oil.Threshold <= 0 {
		r.Oil.Threshold = 1000
	}
	if r.Oil.Factor <= 0 {
		r.Oil.Factor = 100
	}

	e := &cfg.Execution
	if e.MaxAlternatives <= 0 {
		e.MaxAlternatives = 5
	}
	if e.ConfirmAttempts <= 0 {
		e.ConfirmAttempts = 3
	}
	if e.ConfirmDelayMS <= 0 {
		e.ConfirmDelayMS = 500
	}
	if e.StopBuffer <= 0 {
		e.StopBuffer = 0.04
	}
	if e.TargetBuffer <= 0 {
		e.TargetBuffer = 0.005
	}
	switch {
	case e.MaxFailures == 0:
		e.MaxFailures = 3
	case e.MaxFailures < 0: // negativo desactiva el breaker
		e.MaxFailures = 0
	}
	if e.BreakerCooldownSeconds <= 0 {
		e.BreakerCooldownSeconds = 300
	}

	if cfg.Broker.TimeoutSeconds <= 0 {
		cfg.Broker.TimeoutSeconds = 10
	}
	if cfg.FX.HomeCurrency == "" {
		cfg.FX.HomeCurrency = "EUR"
	}
	if cfg.FX.TTLSeconds <= 0 {
		cfg.FX.TTLSeconds = 600
	}
	if cfg.Feed.Mode == "" {
		cfg.Feed.Mode = "lines"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "cfdbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
