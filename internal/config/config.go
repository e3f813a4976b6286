// Package config provides the configuration schema, loader, and provider
// registry for micvad.
package config

import (
	"time"

	"github.com/MrWong99/micvad/pkg/audio"
	"github.com/MrWong99/micvad/pkg/provider/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// RestartMode selects how the process restarts itself after a fatal error.
type RestartMode string

const (
	// RestartExec re-executes the running binary in place.
	RestartExec RestartMode = "exec"

	// RestartExit exits with [ExitCodeRestart] and leaves the restart to a
	// supervisor (systemd, a container runtime).
	RestartExit RestartMode = "exit"
)

// IsValid reports whether m is a recognised restart mode.
func (m RestartMode) IsValid() bool {
	return m == RestartExec || m == RestartExit
}

// ExitCodeRestart is the process exit code used by [RestartExit]
// (EX_TEMPFAIL).
const ExitCodeRestart = 75

// Config is the root configuration structure for micvad.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Mic     MicConfig     `yaml:"mic"`
	VAD     VADConfig     `yaml:"vad"`
	Restart RestartConfig `yaml:"restart"`
}

// ServerConfig holds the diagnostics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":9464"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or json output. Default: text.
	LogFormat LogFormat `yaml:"log_format"`

	// StallAfter is how long after the last completed cycle /readyz reports
	// the detector as stalled. Default: 5s.
	StallAfter time.Duration `yaml:"stall_after"`
}

// MicConfig describes the microphone transport.
type MicConfig struct {
	// Source selects the registered source implementation ("stream",
	// "portaudio"). Default: stream.
	Source string `yaml:"source"`

	// SampleRate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// BitDepth is the raw sample slot width: 24 or 32. Default: 32.
	BitDepth int `yaml:"bit_depth"`

	// Channels must be 1. Default: 1.
	Channels int `yaml:"channels"`

	// StagingSamples is the per-read staging buffer capacity in raw samples.
	// Default: 512.
	StagingSamples int `yaml:"staging_samples"`

	// Device names the input device for sources that enumerate devices.
	// Empty selects the system default.
	Device string `yaml:"device"`

	// Path is a file, FIFO or device node for the stream source; "-" reads
	// standard input.
	Path string `yaml:"path"`

	// Command runs a capture program and reads its standard output, e.g.
	// ["arecord", "-q", "-f", "S32_LE", "-r", "16000", "-c", "1", "-t", "raw"].
	Command []string `yaml:"command"`

	// Pins is the serial audio bus pin assignment.
	Pins PinsConfig `yaml:"pins"`

	// Shift is the arithmetic right shift applied to raw samples. When unset
	// it defaults to bit_depth-16. Boards that left-justify 24 significant
	// bits in a 32-bit slot commonly use 12.
	Shift *uint `yaml:"shift"`
}

// PinsConfig is the bus pin assignment. Defaults: SCK 26, WS 22, SD 21.
type PinsConfig struct {
	SCK int `yaml:"sck"`
	WS  int `yaml:"ws"`
	SD  int `yaml:"sd"`
}

// Pins converts p to [audio.Pins].
func (p PinsConfig) Pins() audio.Pins {
	return audio.Pins{SCK: p.SCK, WS: p.WS, SD: p.SD}
}

// Format returns the raw sample layout described by m.
func (m MicConfig) Format() audio.Format {
	return audio.Format{SampleRate: m.SampleRate, Channels: m.Channels, BitDepth: m.BitDepth}
}

// ShiftOrDefault returns Shift, or the format's default shift when unset.
func (m MicConfig) ShiftOrDefault() uint {
	if m.Shift != nil {
		return *m.Shift
	}
	return m.Format().DefaultShift()
}

// VADConfig configures the voice activity classifier.
type VADConfig struct {
	// Engine selects the registered VAD engine ("webrtc", "energy").
	// Default: webrtc.
	Engine string `yaml:"engine"`

	// Mode is one of quality, low_bitrate, aggressive, very_aggressive.
	// Default: very_aggressive.
	Mode string `yaml:"mode"`

	// FrameMs is the classification frame duration: 10, 20 or 30.
	// Default: 20.
	FrameMs int `yaml:"frame_ms"`

	// WindowMs is the capture window per cycle. Default: 500.
	WindowMs int `yaml:"window_ms"`
}

// Classifier builds the session configuration for sampleRate.
func (v VADConfig) Classifier(sampleRate int) (vad.Config, error) {
	mode, err := vad.ParseMode(v.Mode)
	if err != nil {
		return vad.Config{}, err
	}
	return vad.Config{SampleRate: sampleRate, FrameSizeMs: v.FrameMs, Mode: mode}, nil
}

// Window returns WindowMs as a duration.
func (v VADConfig) Window() time.Duration {
	return time.Duration(v.WindowMs) * time.Millisecond
}

// RestartConfig controls the fatal path.
type RestartConfig struct {
	// Delay before restarting after a fatal error. Default: 3s.
	Delay time.Duration `yaml:"delay"`

	// Mode is exec or exit. Default: exec.
	Mode RestartMode `yaml:"mode"`
}
