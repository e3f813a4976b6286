// Package audio defines the capture-side abstractions of micvad: the raw
// sample [Format] delivered by a microphone transport, the [Source] interface
// that exposes the transport's blocking read primitive, and the pure sample
// conversions used to turn raw samples into classifier input.
//
// Implementations of [Source] live in adapter packages (audio/stream,
// audio/portaudio). The interface is intentionally narrow so that the frame
// assembler stays decoupled from transport details.
package audio

import "errors"

// ErrSourceClosed is returned by [Source.Read] once the transport has reached
// the end of its stream or has been closed. Unlike other read errors it is
// not transient: every subsequent Read returns it as well.
var ErrSourceClosed = errors.New("audio: source closed")

// Source is an open transport session to a microphone.
//
// Read blocks without timeout until at least one byte is available or the
// transport fails, then fills p with up to len(p) bytes of raw samples and
// returns the number of bytes delivered. Under normal operation n is a
// multiple of the raw sample width. Read does not retry; a failed read is
// reported as-is and the caller decides whether to read again.
//
// A Source is driven by a single goroutine. Close may be called from another
// goroutine to release the session; adapters that can interrupt a pending
// Read do so, others return from it at the next transport delivery.
type Source interface {
	Read(p []byte) (n int, err error)

	// Format returns the raw sample layout of the stream. It never changes.
	Format() Format

	// Close releases the transport session. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Pins is the serial audio bus pin assignment of a microphone. Sources that
// drive the bus themselves use it; host-side sources only report it.
type Pins struct {
	// SCK is the bit clock pin.
	SCK int

	// WS is the word select (left/right clock) pin.
	WS int

	// SD is the serial data input pin.
	SD int
}
