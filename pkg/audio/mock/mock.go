// Package mock provides an in-memory mock implementation of [audio.Source]
// for use in unit tests.
//
// The mock replays a script of [Read] steps: each step either delivers a
// fixed byte payload (truncated to the caller's buffer if it is larger) or
// fails with an error. Once the script is exhausted every Read returns
// [audio.ErrSourceClosed], which lets tests drive the capture loop to a clean
// stop.
//
// Typical usage:
//
//	src := &mock.Source{
//	    SourceFormat: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 32},
//	    Script: []mock.Read{
//	        {Data: payload},
//	        {Err: errors.New("bus fault")},
//	    },
//	}
package mock

import (
	"sync"

	"github.com/MrWong99/micvad/pkg/audio"
)

// Read is one scripted step of a [Source].
type Read struct {
	// Data is copied into the caller's buffer. If it is longer than the
	// buffer the remainder is lost, mirroring a transport that drops what the
	// caller did not ask for.
	Data []byte

	// Err, if non-nil, is returned instead of delivering Data.
	Err error
}

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// SourceFormat is returned by Format.
	SourceFormat audio.Format

	// Script is consumed one step per Read call.
	Script []Read

	// CloseErr is returned by Close.
	CloseErr error

	// --- Call records ---

	// ReadSizes records len(p) for every Read call in order.
	ReadSizes []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next   int
	closed bool
}

// Read replays the next scripted step.
func (s *Source) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadSizes = append(s.ReadSizes, len(p))
	if s.closed || s.next >= len(s.Script) {
		return 0, audio.ErrSourceClosed
	}
	step := s.Script[s.next]
	s.next++
	if step.Err != nil {
		return 0, step.Err
	}
	return copy(p, step.Data), nil
}

// Format returns SourceFormat.
func (s *Source) Format() audio.Format {
	return s.SourceFormat
}

// Close records the call and returns CloseErr. After Close every Read
// returns [audio.ErrSourceClosed].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closed = true
	return s.CloseErr
}

// Reads returns the number of Read calls made so far. Thread-safe.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ReadSizes)
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
