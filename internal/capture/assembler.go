// Package capture turns a raw microphone byte stream into fixed-size windows
// of 16-bit analysis samples.
//
// An [Assembler] owns a small staging buffer. Each call to [Assembler.Fill]
// drains the source through that buffer, narrows every whole raw sample with
// [audio.Narrow] and appends it to the caller's window until the window is
// full. A failed read aborts the fill and yields zero samples; the caller
// decides what to do with the cycle.
package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/micvad/internal/observe"
	"github.com/MrWong99/micvad/pkg/audio"
)

// DefaultStagingSamples is the staging buffer capacity in raw samples.
const DefaultStagingSamples = 512

// Assembler fills sample windows from an [audio.Source]. It is not safe for
// concurrent use; one goroutine drives it.
type Assembler struct {
	src     audio.Source
	decode  audio.Decoder
	width   int
	shift   uint
	staging []byte
	metrics *observe.Metrics
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithStagingSamples sets the staging buffer capacity in raw samples.
// Non-positive values are ignored.
func WithStagingSamples(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.staging = make([]byte, n*a.width)
		}
	}
}

// WithShift overrides the narrowing shift. The default keeps the high-order
// 16 bits of the source's bit depth.
func WithShift(shift uint) Option {
	return func(a *Assembler) {
		a.shift = shift
	}
}

// WithMetrics records read and discard counters on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// NewAssembler validates src's format and allocates the staging buffer.
func NewAssembler(src audio.Source, opts ...Option) (*Assembler, error) {
	f := src.Format()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	decode, err := audio.DecoderFor(f)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	a := &Assembler{
		src:     src,
		decode:  decode,
		width:   f.Width(),
		shift:   f.DefaultShift(),
		staging: make([]byte, DefaultStagingSamples*f.Width()),
	}
	for _, o := range opts {
		o(a)
	}
	if a.shift >= 32 {
		return nil, fmt.Errorf("capture: shift %d out of range", a.shift)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// StagingSamples returns the staging buffer capacity in raw samples.
func (a *Assembler) StagingSamples() int {
	return len(a.staging) / a.width
}

// Shift returns the narrowing shift in effect.
func (a *Assembler) Shift() uint {
	return a.shift
}

// Fill reads from the source until dst holds len(dst) converted samples and
// returns len(dst). If a read fails, Fill stops immediately and returns 0
// together with the read error; samples already converted in this call are
// abandoned.
//
// Trailing bytes that do not make up a whole raw sample are discarded for
// that read. Raw samples delivered beyond len(dst) by the last read are
// discarded too.
func (a *Assembler) Fill(ctx context.Context, dst []int16) (int, error) {
	target := len(dst)
	counter := 0
	for counter < target {
		n, err := a.src.Read(a.staging)
		if err != nil {
			return 0, err
		}
		a.metrics.ReadBytes.Add(ctx, int64(n))

		whole := n / a.width
		if stray := n - whole*a.width; stray > 0 {
			a.metrics.StrayBytes.Add(ctx, int64(stray))
			slog.Debug("capture: discarding partial sample", "bytes", stray, "read", n)
		}
		for i := 0; i < whole && counter < target; i++ {
			dst[counter] = audio.Narrow(a.decode(a.staging, i), a.shift)
			counter++
		}
	}
	return target, nil
}
