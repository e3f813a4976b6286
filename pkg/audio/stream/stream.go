// Package stream implements [audio.Source] on top of a byte stream: a
// character device, FIFO or file on disk, standard input, or the standard
// output of a capture command such as
//
//	arecord -D hw:1 -f S32_LE -r 16000 -c 1 -t raw
//
// Every Read maps to exactly one Read on the underlying stream, so the burst
// sizes of the producer reach the frame assembler unchanged.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/MrWong99/micvad/pkg/audio"
)

// Source is a stream-backed [audio.Source]. Create one with [New], [Open] or
// [Start].
type Source struct {
	format audio.Format
	rc     io.ReadCloser
	cmd    *exec.Cmd

	// pending holds an error that arrived together with data and is reported
	// on the next Read.
	pending error

	closeOnce sync.Once
	closeErr  error
}

// New wraps rc. The caller hands ownership of rc to the Source.
func New(rc io.ReadCloser, format audio.Format) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Source{format: format, rc: rc}, nil
}

// Open opens the device, FIFO or file at path. The path "-" selects standard
// input.
func Open(path string, format audio.Format) (*Source, error) {
	if path == "-" {
		return New(os.Stdin, format)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stream: open %q: %w", path, err)
	}
	s, err := New(f, format)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Start launches argv and reads raw samples from its standard output. The
// process is killed when ctx is done or the Source is closed. Standard error
// of the process is passed through to ours.
func Start(ctx context.Context, argv []string, format audio.Format) (*Source, error) {
	if len(argv) == 0 {
		return nil, errors.New("stream: empty capture command")
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stream: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stream: start %q: %w", argv[0], err)
	}
	slog.Info("capture command started", "command", argv[0], "pid", cmd.Process.Pid)
	return &Source{format: format, rc: out, cmd: cmd}, nil
}

// Read performs one read on the underlying stream. End of stream and reads
// after Close are reported as [audio.ErrSourceClosed].
func (s *Source) Read(p []byte) (int, error) {
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		return 0, s.translate(err)
	}
	n, err := s.rc.Read(p)
	if n > 0 {
		if err != nil {
			s.pending = err
		}
		return n, nil
	}
	if err != nil {
		return 0, s.translate(err)
	}
	return 0, nil
}

func (s *Source) translate(err error) error {
	if errors.Is(err, audio.ErrSourceClosed) || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		// Keep reporting closure on every subsequent read.
		s.pending = audio.ErrSourceClosed
		return audio.ErrSourceClosed
	}
	return fmt.Errorf("stream: read: %w", err)
}

// Format returns the configured raw sample layout.
func (s *Source) Format() audio.Format {
	return s.format
}

// Close closes the stream and, for command sources, kills and reaps the
// process. Calling Close more than once is safe.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.cmd != nil && s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, err)
			}
		}
		if err := s.rc.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
		if s.cmd != nil {
			// The exit status of a killed process is not an error here.
			_ = s.cmd.Wait()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
