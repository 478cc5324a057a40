// Package config centralises runtime configuration for the mmpolicy tool.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfabric/mmpolicy/errs"
)

// Model holds the parameters of the quoting model and its state lattice.
type Model struct {
	StartTime  int     `yaml:"startTime"`  // seconds of day, inclusive
	EndTime    int     `yaml:"endTime"`    // seconds of day, exclusive
	TimeStep   float64 `yaml:"timeStep"`   // seconds per lattice step
	Tick       float64 `yaml:"tick"`       // smallest price increment
	Rho        float64 `yaml:"rho"`        // per-share rebate
	Epsilon    float64 `yaml:"epsilon"`    // per-share fee
	Epsilon0   float64 `yaml:"epsilon0"`   // fixed fee per market order
	Gamma      float64 `yaml:"gamma"`      // inventory penalty weight
	MaxVolMake float64 `yaml:"maxVolMake"` // max volume per limit order
	MaxVolTake float64 `yaml:"maxVolTake"` // max volume per market order
	LBShares   float64 `yaml:"lbShares"`   // inventory lower bound (short limit)
	UBShares   float64 `yaml:"ubShares"`   // inventory upper bound (long limit)
	VolumeStep float64 `yaml:"volumeStep"` // volume discretization step
	Delay      int     `yaml:"delay"`      // decision delay in time steps
}

// Calibration configures the estimation of model inputs from level-1 data.
type Calibration struct {
	VolumeProxy     float64 `yaml:"volumeProxy"`     // typical order volume used by the execution proxies
	LambdaBucketSec int     `yaml:"lambdaBucketSec"` // width of the jump-intensity time buckets, in seconds
	MaxMatrixSpread float64 `yaml:"maxMatrixSpread"` // spreads above this are excluded from the transition matrix
}

// Backtest configures the Monte-Carlo validation of the solved policy.
type Backtest struct {
	Enabled      bool    `yaml:"enabled"`
	Runs         int     `yaml:"runs"`
	InitialPrice float64 `yaml:"initialPrice"`
	Periods      int     `yaml:"periods"`
	Step         float64 `yaml:"step"`
	Drift        float64 `yaml:"drift"`
	Sigma        float64 `yaml:"sigma"`
	Seed         int64   `yaml:"seed"`
	Parallelism  int     `yaml:"parallelism"` // 0 means GOMAXPROCS
}

// Storage configures the optional Postgres results store.
type Storage struct {
	DSN            string        `yaml:"dsn"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

// Telemetry configures OTLP metric export.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings is the root configuration document.
type Settings struct {
	Model       Model       `yaml:"model"`
	Calibration Calibration `yaml:"calibration"`
	Backtest    Backtest    `yaml:"backtest"`
	Storage     Storage     `yaml:"storage"`
	Telemetry   Telemetry   `yaml:"telemetry"`
}

// Default returns the baseline configuration used when no overrides apply.
func Default() Settings {
	return Settings{
		Model: Model{
			StartTime:  0,
			EndTime:    86400,
			TimeStep:   5,
			Tick:       0.01,
			Rho:        0.0008,
			Epsilon:    0.0012,
			Epsilon0:   0.000001,
			Gamma:      0.0001,
			MaxVolMake: 500,
			MaxVolTake: 500,
			LBShares:   -5000,
			UBShares:   5000,
			VolumeStep: 10,
			Delay:      4,
		},
		Calibration: Calibration{
			VolumeProxy:     100,
			LambdaBucketSec: 86401,
			MaxMatrixSpread: 3.0,
		},
		Backtest: Backtest{
			Enabled:      true,
			Runs:         100,
			InitialPrice: 100,
			Periods:      300,
			Step:         1,
			Drift:        0.00001,
			Sigma:        0.000005,
			Seed:         29756,
			Parallelism:  0,
		},
		Storage:   Storage{DSN: "", ConnectTimeout: 10 * time.Second},
		Telemetry: Telemetry{OTLPEndpoint: "", ServiceName: "mmpolicy"},
	}
}

// Load reads a YAML settings document layered over the defaults, then applies
// environment overrides. An empty path yields defaults plus environment.
func Load(path string) (Settings, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- path is operator provided via CLI flags.
		if err != nil {
			return Settings{}, errs.New("config", errs.CodeIO, errs.WithMessage("read settings file"), errs.WithCause(err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, errs.New("config", errs.CodeInvalid, errs.WithMessage("parse settings file"), errs.WithCause(err))
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("MMPOLICY_STORAGE_DSN")); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("MMPOLICY_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("MMPOLICY_SEED")); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Backtest.Seed = seed
		}
	}
	if v := strings.TrimSpace(os.Getenv("MMPOLICY_RUNS")); v != "" {
		if runs, err := strconv.Atoi(v); err == nil && runs > 0 {
			cfg.Backtest.Runs = runs
		}
	}
}

// Validate rejects configurations the solver or simulator cannot honour.
// Violations are caller errors and surface before any numerical work starts.
func (s Settings) Validate() error {
	m := s.Model
	if m.EndTime <= m.StartTime {
		return errs.Invalid("config", "endTime", "must be greater than startTime")
	}
	if m.TimeStep <= 0 {
		return errs.Invalid("config", "timeStep", "must be positive")
	}
	if m.Tick <= 0 {
		return errs.Invalid("config", "tick", "must be positive")
	}
	if m.VolumeStep <= 0 {
		return errs.Invalid("config", "volumeStep", "must be positive")
	}
	if m.UBShares <= m.LBShares {
		return errs.Invalid("config", "ubShares", "must be greater than lbShares")
	}
	if m.MaxVolMake <= 0 || m.MaxVolTake <= 0 {
		return errs.Invalid("config", "maxVolMake", "order volume caps must be positive")
	}
	if m.Delay <= 0 {
		return errs.Invalid("config", "delay", "must be positive")
	}
	if m.Gamma < 0 {
		return errs.Invalid("config", "gamma", "must be non-negative")
	}
	c := s.Calibration
	if c.VolumeProxy <= 0 {
		return errs.Invalid("config", "volumeProxy", "must be positive")
	}
	if c.LambdaBucketSec <= 0 {
		return errs.Invalid("config", "lambdaBucketSec", "must be positive")
	}
	if c.MaxMatrixSpread < m.Tick {
		return errs.Invalid("config", "maxMatrixSpread", "must cover at least one tick")
	}
	b := s.Backtest
	if b.Enabled {
		if b.Runs <= 0 {
			return errs.Invalid("config", "runs", "must be positive")
		}
		if b.InitialPrice <= 0 {
			return errs.Invalid("config", "initialPrice", "must be positive")
		}
		if b.Periods < 2 {
			return errs.Invalid("config", "periods", "must be at least 2")
		}
		if b.Step <= 0 {
			return errs.Invalid("config", "step", "must be positive")
		}
		if b.Sigma < 0 {
			return errs.Invalid("config", "sigma", "must be non-negative")
		}
	}
	return nil
}
