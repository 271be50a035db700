package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"example.com/vernier-time/base/timemath"
	"example.com/vernier-time/core/servo"
	"example.com/vernier-time/driver/refgen"
)

// DSCP is the Differentiated Services Codepoint value to be used by senders of
// telemetry packets. Valid values must be in range [0, 63].
const DSCP = 46

var errInvalidConfig = errors.New("invalid configuration")

type SimulationConfig struct {
	PPM        float64 `toml:"ppm,omitempty"`
	PhaseNs    float64 `toml:"phase_ns,omitempty"`
	RatioP     int64   `toml:"ratio_p,omitempty"`
	RatioQ     int64   `toml:"ratio_q,omitempty"`
	StartCount uint64  `toml:"start_count,omitempty"`
}

type MonitorConfig struct {
	ListenAddr string `toml:"listen_address,omitempty"`
	// Advertise the monitor endpoint via mDNS.
	Advertise bool `toml:"advertise,omitempty"`
}

type TelemetryConfig struct {
	RemoteAddr string `toml:"remote_address,omitempty"`
	IntervalMs int64  `toml:"interval_ms,omitempty"`
}

type RealtimeConfig struct {
	CPU  int  `toml:"cpu,omitempty"`
	Pace bool `toml:"pace,omitempty"`
}

type BenchmarkConfig struct {
	PPMs       []float64 `toml:"ppms,omitempty"`
	TrackingMs int64     `toml:"tracking_ms,omitempty"`
}

type Config struct {
	SampleRateHz               float64 `toml:"sample_rate_hz,omitempty"`
	FreqAHz                    float64 `toml:"freq_a_hz,omitempty"`
	FreqBHz                    float64 `toml:"freq_b_hz,omitempty"`
	TimeConstantSec            float64 `toml:"time_constant_sec,omitempty"`
	PhaseFracBits              uint    `toml:"phase_frac_bits,omitempty"`
	PeriodFracBits             uint    `toml:"period_frac_bits,omitempty"`
	SyncStages                 int     `toml:"sync_stages,omitempty"`
	UnlockedOutput             string  `toml:"unlocked_output,omitempty"`
	Smoothing                  bool    `toml:"smoothing,omitempty"`
	DisableCoarseFrequencyMode bool    `toml:"disable_coarse_frequency_mode,omitempty"`
	OffsetSubns                int64   `toml:"offset_subns,omitempty"`
	BatchSize                  int     `toml:"batch_size,omitempty"`
	LockFile                   string  `toml:"lock_file,omitempty"`

	Simulation SimulationConfig `toml:"simulation,omitempty"`
	Monitor    MonitorConfig    `toml:"monitor,omitempty"`
	Telemetry  TelemetryConfig  `toml:"telemetry,omitempty"`
	Realtime   RealtimeConfig   `toml:"realtime,omitempty"`
	Benchmark  BenchmarkConfig  `toml:"benchmark,omitempty"`
}

var unlockedPolicies = map[string]servo.UnlockedPolicy{
	"free":     servo.UnlockedFree,
	"hold":     servo.UnlockedHold,
	"sentinel": servo.UnlockedSentinel,
}

func Default() Config {
	return Config{
		SampleRateHz:    125e6,
		FreqAHz:         20e6,
		TimeConstantSec: 1e-3,
		UnlockedOutput:  "free",
		BatchSize:       4096,
		Simulation: SimulationConfig{
			RatioP: 40,
			RatioQ: 41,
		},
		Monitor: MonitorConfig{
			ListenAddr: "127.0.0.1:8080",
		},
		Telemetry: TelemetryConfig{
			IntervalMs: 100,
		},
		Realtime: RealtimeConfig{
			CPU: -1,
		},
		Benchmark: BenchmarkConfig{
			PPMs:       []float64{-1500, -1000, -500, -100, 0, 100, 500, 1000, 1500},
			TrackingMs: 8,
		},
	}
}

// Decode reads a TOML configuration on top of the defaults. Unknown keys are
// rejected.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		return Config{}, err
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("%w: batch_size %d", errInvalidConfig, cfg.BatchSize)
	}
	if cfg.Telemetry.IntervalMs <= 0 {
		return Config{}, fmt.Errorf("%w: telemetry interval_ms %d", errInvalidConfig, cfg.Telemetry.IntervalMs)
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Decode(bytes.NewReader(raw))
}

func (c Config) Servo() (servo.Config, error) {
	policy, ok := unlockedPolicies[c.UnlockedOutput]
	if !ok {
		return servo.Config{}, fmt.Errorf("%w: unlocked_output %q", errInvalidConfig, c.UnlockedOutput)
	}
	freqB := c.FreqBHz
	if freqB == 0 {
		freqB = refgen.FreqB(c.FreqAHz, c.Simulation.RatioP, c.Simulation.RatioQ)
	}
	return servo.Config{
		SampleRate:                 c.SampleRateHz,
		FreqA:                      c.FreqAHz,
		FreqB:                      freqB,
		TimeConstant:               timemath.Duration(c.TimeConstantSec),
		PhaseFracBits:              c.PhaseFracBits,
		PeriodFracBits:             c.PeriodFracBits,
		SyncStages:                 c.SyncStages,
		Unlocked:                   policy,
		Smoothing:                  c.Smoothing,
		DisableCoarseFrequencyMode: c.DisableCoarseFrequencyMode,
	}, nil
}

func (c Config) Generator() refgen.Config {
	return refgen.Config{
		SampleRate: c.SampleRateHz,
		FreqA:      c.FreqAHz,
		RatioP:     c.Simulation.RatioP,
		RatioQ:     c.Simulation.RatioQ,
		PPM:        c.Simulation.PPM,
		PhaseNs:    c.Simulation.PhaseNs,
		StartCount: c.Simulation.StartCount,
	}
}

func (c Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalMs) * time.Millisecond
}
