//go:build !cgo

package portaudio

import (
	"errors"

	"github.com/MrWong99/micvad/pkg/audio"
)

// ErrUnavailable is returned when the binary was built without cgo.
var ErrUnavailable = errors.New("portaudio: unavailable (cgo disabled)")

// Config selects the input device and host buffer size.
type Config struct {
	Format          audio.Format
	Device          string
	FramesPerBuffer int
}

// Source is not available without cgo.
type Source struct{}

// Open always fails without cgo.
func Open(Config) (*Source, error) {
	return nil, ErrUnavailable
}

func (s *Source) Read([]byte) (int, error) { return 0, ErrUnavailable }

func (s *Source) Format() audio.Format { return audio.Format{} }

func (s *Source) Close() error { return nil }

// Device describes a capture-capable PortAudio device.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Devices always fails without cgo.
func Devices() ([]Device, error) {
	return nil, ErrUnavailable
}

var _ audio.Source = (*Source)(nil)
