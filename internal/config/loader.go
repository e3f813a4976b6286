package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/micvad/pkg/provider/vad"
)

// ValidSourceNames lists the built-in source names. Used by [Validate] to warn
// about unrecognised names.
var ValidSourceNames = []string{"stream", "portaudio"}

// ValidEngineNames lists the built-in VAD engine names.
var ValidEngineNames = []string{"webrtc", "energy"}

// webrtcRates are the sample rates the WebRTC classifier accepts.
var webrtcRates = []int{8000, 16000, 32000, 48000}

// Defaults.
const (
	DefaultLogLevel       = LogInfo
	DefaultLogFormat      = LogFormatText
	DefaultStallAfter     = 5 * time.Second
	DefaultSource         = "stream"
	DefaultSampleRate     = 16000
	DefaultBitDepth       = 32
	DefaultStagingSamples = 512
	DefaultEngine         = "webrtc"
	DefaultMode           = "very_aggressive"
	DefaultFrameMs        = 20
	DefaultWindowMs       = 500
	DefaultRestartDelay   = 3 * time.Second
	DefaultRestartMode    = RestartExec
)

// DefaultPins is the bus pin assignment used when none is configured.
var DefaultPins = PinsConfig{SCK: 26, WS: 22, SD: 21}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = DefaultLogFormat
	}
	if s.StallAfter == 0 {
		s.StallAfter = DefaultStallAfter
	}

	m := &cfg.Mic
	if m.Source == "" {
		m.Source = DefaultSource
	}
	if m.SampleRate == 0 {
		m.SampleRate = DefaultSampleRate
	}
	if m.BitDepth == 0 {
		m.BitDepth = DefaultBitDepth
	}
	if m.Channels == 0 {
		m.Channels = 1
	}
	if m.StagingSamples == 0 {
		m.StagingSamples = DefaultStagingSamples
	}
	if m.Pins == (PinsConfig{}) {
		m.Pins = DefaultPins
	}
	if m.Source == "stream" && m.Path == "" && len(m.Command) == 0 {
		m.Path = "-"
	}

	v := &cfg.VAD
	if v.Engine == "" {
		v.Engine = DefaultEngine
	}
	if v.Mode == "" {
		v.Mode = DefaultMode
	}
	if v.FrameMs == 0 {
		v.FrameMs = DefaultFrameMs
	}
	if v.WindowMs == 0 {
		v.WindowMs = DefaultWindowMs
	}

	rs := &cfg.Restart
	if rs.Delay == 0 {
		rs.Delay = DefaultRestartDelay
	}
	if rs.Mode == "" {
		rs.Mode = DefaultRestartMode
	}
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.StallAfter < 0 {
		errs = append(errs, fmt.Errorf("server.stall_after %s must not be negative", cfg.Server.StallAfter))
	}

	// Mic
	mic := cfg.Mic
	warnUnknownName("mic.source", mic.Source, ValidSourceNames)
	if err := mic.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mic: %w", err))
	}
	if mic.StagingSamples < 0 {
		errs = append(errs, fmt.Errorf("mic.staging_samples %d must be positive", mic.StagingSamples))
	}
	if mic.Shift != nil && *mic.Shift >= 32 {
		errs = append(errs, fmt.Errorf("mic.shift %d is out of range [0, 31]", *mic.Shift))
	}
	if mic.Pins.SCK < 0 || mic.Pins.WS < 0 || mic.Pins.SD < 0 {
		errs = append(errs, fmt.Errorf("mic.pins must not be negative, got sck=%d ws=%d sd=%d", mic.Pins.SCK, mic.Pins.WS, mic.Pins.SD))
	}
	if mic.Source == "stream" && mic.Path != "" && len(mic.Command) > 0 {
		errs = append(errs, errors.New("mic.path and mic.command are mutually exclusive"))
	}
	if mic.Source != "stream" && (mic.Path != "" || len(mic.Command) > 0) {
		slog.Warn("mic.path and mic.command are only used by the stream source", "source", mic.Source)
	}

	// VAD
	v := cfg.VAD
	warnUnknownName("vad.engine", v.Engine, ValidEngineNames)
	if _, err := vad.ParseMode(v.Mode); err != nil {
		errs = append(errs, fmt.Errorf("vad.mode %q is invalid; valid values: quality, low_bitrate, aggressive, very_aggressive", v.Mode))
	}
	if !slices.Contains(vad.SupportedFrameMs, v.FrameMs) {
		errs = append(errs, fmt.Errorf("vad.frame_ms %d is invalid; valid values: 10, 20, 30", v.FrameMs))
	}
	switch {
	case v.FrameMs <= 0:
	case v.WindowMs < v.FrameMs:
		errs = append(errs, fmt.Errorf("vad.window_ms %d must be at least vad.frame_ms %d", v.WindowMs, v.FrameMs))
	case v.WindowMs%v.FrameMs != 0:
		slog.Warn("vad.window_ms is not a multiple of vad.frame_ms; the remainder of every window is not classified",
			"window_ms", v.WindowMs,
			"frame_ms", v.FrameMs,
		)
	}
	if v.Engine == "webrtc" && !slices.Contains(webrtcRates, mic.SampleRate) {
		errs = append(errs, fmt.Errorf("mic.sample_rate %d is not supported by the webrtc engine; valid values: 8000, 16000, 32000, 48000", mic.SampleRate))
	}

	// Restart
	if cfg.Restart.Delay < 0 {
		errs = append(errs, fmt.Errorf("restart.delay %s must not be negative", cfg.Restart.Delay))
	}
	if !cfg.Restart.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("restart.mode %q is invalid; valid values: exec, exit", cfg.Restart.Mode))
	}

	return errors.Join(errs...)
}

// warnUnknownName logs a warning if name is not one of the built-in names.
// Unknown names are not an error: a custom build may register more.
func warnUnknownName(key, name string, known []string) {
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown name, may be a typo or a custom registration",
		"key", key,
		"name", name,
		"known", known,
	)
}

// StartupAttrs summarises cfg for the startup banner.
func StartupAttrs(cfg *Config) []any {
	f := cfg.Mic.Format()
	return []any{
		"source", cfg.Mic.Source,
		"format", f.String(),
		"shift", cfg.Mic.ShiftOrDefault(),
		"pins", fmt.Sprintf("sck=%d ws=%d sd=%d", cfg.Mic.Pins.SCK, cfg.Mic.Pins.WS, cfg.Mic.Pins.SD),
		"engine", cfg.VAD.Engine,
		"mode", cfg.VAD.Mode,
		"frame_samples", f.SamplesIn(time.Duration(cfg.VAD.FrameMs) * time.Millisecond),
		"window_samples", f.SamplesIn(cfg.VAD.Window()),
	}
}
