package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spooky-finn/go-terminal-bridge/domain"
)

var DebugMode = os.Getenv("DEBUG_MODE") == "true"

// SymbolConfig binds one feed symbol to its terminal instrument and tick size.
type SymbolConfig struct {
	Instrument *domain.Instrument
	TickSize   float64
}

type Config struct {
	TerminalHost string
	TerminalPort int

	BaseClientID int
	ClientIDSpan int
	PreferMode   domain.PreferMode
	Symbols      []SymbolConfig

	Persist          bool
	DataDir          string
	AutosaveInterval time.Duration

	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	SupervisorInterval time.Duration
	FirstBackoff       time.Duration
	MaxBackoff         time.Duration

	MinTickersReady int
	MinStableWindow time.Duration

	MetricsAddr string
}

// Load reads the configuration from the environment, applying the defaults
// the bridge runs with unattended. It is the only place the core returns
// errors to its caller: everything past construction retries or logs.
func Load() (*Config, error) {
	cfg := &Config{
		TerminalHost:       envStr("TERMINAL_HOST", "127.0.0.1"),
		TerminalPort:       envInt("TERMINAL_PORT", 7497),
		BaseClientID:       envInt("BASE_CLIENT_ID", 1),
		ClientIDSpan:       envInt("CLIENT_ID_SPAN", 12),
		PreferMode:         domain.PreferMode(envStr("PREFER_MODE", "auto")),
		Persist:            envStr("PERSIST_SESSION", "false") == "true",
		DataDir:            envStr("DATA_DIR", "./data"),
		AutosaveInterval:   envSeconds("AUTOSAVE_SEC", 30),
		HeartbeatInterval:  envSeconds("HEARTBEAT_SEC", 15),
		HeartbeatTimeout:   envSeconds("HEARTBEAT_TIMEOUT_SEC", 5),
		SupervisorInterval: envSeconds("SUPERVISOR_SEC", 5),
		FirstBackoff:       envSeconds("RECONNECT_FIRST_BACKOFF_SEC", 2),
		MaxBackoff:         envSeconds("RECONNECT_MAX_BACKOFF_SEC", 30),
		MinTickersReady:    envInt("MIN_TICKERS_READY", 1),
		MinStableWindow:    envSeconds("MIN_STABLE_WINDOW_SEC", 3),
		MetricsAddr:        envStr("METRICS_ADDR", ":8080"),
	}

	symbols, err := parseSymbols(envStr("FEED_SYMBOLS", "MNQ:FUT:202512:CME:USD:0.25,NQ:FUT:202512:CME:USD:0.25"))
	if err != nil {
		return nil, err
	}
	cfg.Symbols = symbols

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.TerminalPort <= 0 || c.TerminalPort > 65535 {
		return fmt.Errorf("config: terminal port out of range: %d", c.TerminalPort)
	}
	if c.ClientIDSpan < 1 {
		return fmt.Errorf("config: client id span must be at least 1, got %d", c.ClientIDSpan)
	}
	if c.FirstBackoff <= 0 || c.MaxBackoff < c.FirstBackoff {
		return fmt.Errorf("config: backoff bounds invalid (first=%s max=%s)", c.FirstBackoff, c.MaxBackoff)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 || c.SupervisorInterval <= 0 {
		return fmt.Errorf("config: heartbeat/supervisor intervals must be positive")
	}
	if c.MinTickersReady < 1 {
		return fmt.Errorf("config: min tickers ready must be at least 1, got %d", c.MinTickersReady)
	}
	switch c.PreferMode {
	case domain.PreferAuto, domain.PreferTickByTick, domain.PreferRunningVolume:
	default:
		return fmt.Errorf("config: unknown prefer mode %q", c.PreferMode)
	}
	return nil
}

// TickSizes flattens the symbol table into the map the aggregator consumes.
func (c *Config) TickSizes() map[string]float64 {
	out := make(map[string]float64, len(c.Symbols))
	for _, s := range c.Symbols {
		out[s.Instrument.Symbol] = s.TickSize
	}
	return out
}

// parseSymbols decodes the FEED_SYMBOLS table. One entry per symbol:
// SYMBOL:SECTYPE:EXPIRY:EXCHANGE:CURRENCY:TICKSIZE, comma separated.
func parseSymbols(raw string) ([]SymbolConfig, error) {
	var out []SymbolConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 6 {
			return nil, fmt.Errorf("config: malformed FEED_SYMBOLS entry %q", entry)
		}

		inst, err := domain.NewInstrument(parts[0], parts[1], parts[2], parts[3], parts[4])
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		tickSize, err := strconv.ParseFloat(parts[5], 64)
		if err != nil || tickSize <= 0 {
			return nil, fmt.Errorf("config: invalid tick size in entry %q", entry)
		}

		out = append(out, SymbolConfig{Instrument: inst, TickSize: tickSize})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: FEED_SYMBOLS is empty")
	}
	return out, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}
