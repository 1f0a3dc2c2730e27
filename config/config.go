// Package config centralises runtime configuration for the post-auction
// reconciliation service: YAML file, environment overrides, validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bidwire/postauction/errs"
)

// ServiceSettings names the process and its admin surface.
type ServiceSettings struct {
	Name      string `yaml:"name"`
	AdminAddr string `yaml:"adminAddr"`
	DebugLog  bool   `yaml:"debugLog"`
}

// EngineSettings tunes the matcher, sweeper, and intake queues.
type EngineSettings struct {
	// WinTimeout bounds how long a matched win is retained for
	// campaign-event attribution.
	WinTimeout time.Duration `yaml:"winTimeout"`
	// AuctionTimeout is the loss deadline applied to submissions that do
	// not carry their own timeout.
	AuctionTimeout time.Duration `yaml:"auctionTimeout"`
	// SweepInterval is the expiry scan period. Must stay strictly below
	// AuctionTimeout for the implicit-loss latency bound to hold.
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// DrainWindow bounds how long shutdown keeps processing queued events.
	DrainWindow     time.Duration `yaml:"drainWindow"`
	QueueCapacity   int           `yaml:"queueCapacity"`
	DeliveryWorkers int           `yaml:"deliveryWorkers"`
}

// BankerSettings selects the billing collaborator.
type BankerSettings struct {
	// Endpoint of the billing service. Empty selects the in-process
	// logging banker (development and simulation).
	Endpoint    string        `yaml:"endpoint"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
	// QueueSize bounds the asynchronous settlement queue.
	QueueSize int `yaml:"queueSize"`
}

// AgentSettings configures the agent directory and delivery transport.
type AgentSettings struct {
	// Directory maps account keys to agent websocket addresses.
	Directory   map[string]string `yaml:"directory"`
	DialTimeout time.Duration     `yaml:"dialTimeout"`
	WriteRate   float64           `yaml:"writeRate"`
	WriteBurst  int               `yaml:"writeBurst"`
}

// ArchiveSettings configures the optional Postgres outcome archive.
type ArchiveSettings struct {
	// DSN of the archive database. Empty disables archiving.
	DSN string `yaml:"dsn"`
}

// TelemetrySettings configures metric export.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// Settings is the configuration tree loaded from defaults, file, and env.
type Settings struct {
	Service   ServiceSettings   `yaml:"service"`
	Engine    EngineSettings    `yaml:"engine"`
	Banker    BankerSettings    `yaml:"banker"`
	Agents    AgentSettings     `yaml:"agents"`
	Archive   ArchiveSettings   `yaml:"archive"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// Default returns the baseline configuration.
func Default() Settings {
	return Settings{
		Service: ServiceSettings{
			Name:      "postauction",
			AdminAddr: ":8710",
			DebugLog:  false,
		},
		Engine: EngineSettings{
			WinTimeout:      1 * time.Hour,
			AuctionTimeout:  15 * time.Second,
			SweepInterval:   1 * time.Second,
			DrainWindow:     5 * time.Second,
			QueueCapacity:   4096,
			DeliveryWorkers: 8,
		},
		Banker: BankerSettings{
			Endpoint:    "",
			HTTPTimeout: 5 * time.Second,
			QueueSize:   4096,
		},
		Agents: AgentSettings{
			Directory:   nil,
			DialTimeout: 10 * time.Second,
			WriteRate:   500,
			WriteBurst:  100,
		},
		Archive:   ArchiveSettings{DSN: ""},
		Telemetry: TelemetrySettings{OTLPEndpoint: ""},
	}
}

// Load reads settings from path, applies environment overrides, and
// validates the result. The boolean reports whether the file existed.
func Load(path string) (Settings, bool, error) {
	cfg := Default()
	loaded := false
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Settings{}, false, errs.New("config", errs.CodeConfig,
					errs.WithMessage(fmt.Sprintf("parse %s", path)), errs.WithCause(err))
			}
			loaded = true
		case os.IsNotExist(err):
			// Defaults plus env are a complete configuration.
		default:
			return Settings{}, false, errs.New("config", errs.CodeConfig,
				errs.WithMessage(fmt.Sprintf("read %s", path)), errs.WithCause(err))
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, loaded, err
	}
	return cfg, loaded, nil
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("POSTAUCTION_ADMIN_ADDR")); v != "" {
		cfg.Service.AdminAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTAUCTION_DEBUG_LOG")); v != "" {
		cfg.Service.DebugLog = strings.EqualFold(v, "true") || v == "1"
	}
	if d, ok := envDuration("POSTAUCTION_WIN_TIMEOUT"); ok {
		cfg.Engine.WinTimeout = d
	}
	if d, ok := envDuration("POSTAUCTION_AUCTION_TIMEOUT"); ok {
		cfg.Engine.AuctionTimeout = d
	}
	if d, ok := envDuration("POSTAUCTION_SWEEP_INTERVAL"); ok {
		cfg.Engine.SweepInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("POSTAUCTION_BANKER_ENDPOINT")); v != "" {
		cfg.Banker.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTAUCTION_ARCHIVE_DSN")); v != "" {
		cfg.Archive.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTAUCTION_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

func envDuration(name string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate rejects configurations the engine must refuse to start with.
// Negative timeouts are a configuration-time failure, never deferred to the
// matching loop.
func (s Settings) Validate() error {
	if s.Engine.WinTimeout < 0 {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("winTimeout must not be negative"))
	}
	if s.Engine.AuctionTimeout < 0 {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("auctionTimeout must not be negative"))
	}
	if s.Engine.SweepInterval <= 0 {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("sweepInterval must be positive"))
	}
	if s.Engine.AuctionTimeout > 0 && s.Engine.SweepInterval >= s.Engine.AuctionTimeout {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("sweepInterval must be strictly less than auctionTimeout"))
	}
	if s.Engine.QueueCapacity <= 0 {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("queueCapacity must be positive"))
	}
	if s.Engine.DeliveryWorkers <= 0 {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("deliveryWorkers must be positive"))
	}
	if s.Engine.DrainWindow < 0 {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("drainWindow must not be negative"))
	}
	if s.Banker.Endpoint != "" && s.Banker.HTTPTimeout <= 0 {
		return errs.New("config", errs.CodeConfig,
			errs.WithMessage("banker httpTimeout must be positive"))
	}
	return nil
}
