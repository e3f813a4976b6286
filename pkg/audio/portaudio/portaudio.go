//go:build cgo

// Package portaudio implements [audio.Source] on a PortAudio blocking input
// stream. It captures mono 32-bit samples from the named input device, or
// from the host's default input device when no name is given.
//
// For go build: requires portaudio installed via pkg-config.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/micvad/pkg/audio"
)

// defaultFramesPerBuffer is the host buffer size used when Config leaves it
// unset: 32 ms at 16 kHz.
const defaultFramesPerBuffer = 512

// Config selects the input device and host buffer size.
type Config struct {
	// Format is the capture format. BitDepth must be 32.
	Format audio.Format

	// Device is the PortAudio device name. Empty selects the default input.
	Device string

	// FramesPerBuffer is the number of samples PortAudio delivers per host
	// read. Zero selects a default of 512.
	FramesPerBuffer int
}

// Source is a PortAudio-backed [audio.Source].
type Source struct {
	format audio.Format

	// mu serialises Read and Close; PortAudio streams must not be closed
	// while a blocking read is in progress.
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int32
	pending []int32
	closed  bool
}

// Open initialises PortAudio, opens an input stream and starts it.
func Open(cfg Config) (*Source, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.Format.BitDepth != 32 {
		return nil, fmt.Errorf("portaudio: only 32-bit capture is supported, got %d", cfg.Format.BitDepth)
	}
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = defaultFramesPerBuffer
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	buf := make([]int32, frames)
	stream, err := openStream(cfg, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	slog.Info("portaudio input stream started",
		"device", deviceLabel(cfg.Device),
		"format", cfg.Format.String(),
		"frames_per_buffer", frames,
	)
	return &Source{format: cfg.Format, stream: stream, buf: buf}, nil
}

func openStream(cfg Config, buf []int32) (*portaudio.Stream, error) {
	rate := float64(cfg.Format.SampleRate)
	if cfg.Device == "" {
		s, err := portaudio.OpenDefaultStream(1, 0, rate, len(buf), buf)
		if err != nil {
			return nil, fmt.Errorf("portaudio: open default stream: %w", err)
		}
		return s, nil
	}

	dev, err := findDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	p := portaudio.LowLatencyParameters(dev, nil)
	p.Input.Channels = 1
	p.SampleRate = rate
	p.FramesPerBuffer = len(buf)
	s, err := portaudio.OpenStream(p, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", cfg.Device, err)
	}
	return s, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devs {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device named %q", name)
}

// Read delivers up to len(p)/4 samples. When the previous host buffer has
// been consumed it blocks on the next one.
func (s *Source) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, audio.ErrSourceClosed
	}
	if len(s.pending) == 0 {
		if err := s.stream.Read(); err != nil {
			return 0, fmt.Errorf("portaudio: read: %w", err)
		}
		s.pending = s.buf
	}
	n := min(len(s.pending), len(p)/4)
	written := audio.EncodeS32LE(p, s.pending[:n])
	s.pending = s.pending[n:]
	return written, nil
}

// Format returns the capture format.
func (s *Source) Format() audio.Format {
	return s.format
}

// Close stops the stream and terminates PortAudio. It waits for an in-flight
// Read to return first.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if err := s.stream.Abort(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: abort: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}

// Device describes a capture-capable PortAudio device.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Devices lists the input-capable devices known to PortAudio.
func Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var defName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defName = def.Name
	}

	var out []Device
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		var host string
		if d.HostApi != nil {
			host = d.HostApi.Name
		}
		out = append(out, Device{
			Name:              d.Name,
			HostAPI:           host,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           d.Name == defName,
		})
	}
	return out, nil
}

func deviceLabel(name string) string {
	if name == "" {
		return "(default)"
	}
	return name
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
