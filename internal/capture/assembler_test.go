package capture_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/micvad/internal/capture"
	"github.com/MrWong99/micvad/internal/observe"
	"github.com/MrWong99/micvad/pkg/audio"
	"github.com/MrWong99/micvad/pkg/audio/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var s32 = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 32}

// rawSamples encodes n 32-bit samples whose narrowed value (shift 16) is
// start, start+1, ...
func rawSamples(start, n int) []byte {
	vals := make([]int32, n)
	for i := range vals {
		vals[i] = int32(start+i) << 16
	}
	b := make([]byte, n*4)
	audio.EncodeS32LE(b, vals)
	return b
}

func newAssembler(t *testing.T, src audio.Source, opts ...capture.Option) (*capture.Assembler, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := capture.NewAssembler(src, append([]capture.Option{capture.WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return a, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

func TestFill_SingleReadExactlyTarget(t *testing.T) {
	src := &mock.Source{SourceFormat: s32, Script: []mock.Read{{Data: rawSamples(0, 64)}}}
	a, _ := newAssembler(t, src, capture.WithStagingSamples(64))

	dst := make([]int16, 64)
	n, err := a.Fill(context.Background(), dst)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if n != 64 {
		t.Fatalf("n = %d, want 64", n)
	}
	for i, v := range dst {
		if int(v) != i {
			t.Fatalf("dst[%d] = %d, want %d", i, v, i)
		}
	}
	if got := src.Reads(); got != 1 {
		t.Errorf("reads = %d, want 1", got)
	}
}

func TestFill_AccumulatesAcrossReads(t *testing.T) {
	src := &mock.Source{SourceFormat: s32, Script: []mock.Read{
		{Data: rawSamples(0, 16)},
		{Data: rawSamples(16, 10)},
		{Data: rawSamples(26, 16)},
		{Data: rawSamples(42, 16)},
	}}
	a, _ := newAssembler(t, src, capture.WithStagingSamples(16))

	dst := make([]int16, 50)
	n, err := a.Fill(context.Background(), dst)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if n != 50 {
		t.Fatalf("n = %d, want 50", n)
	}
	for i, v := range dst {
		if int(v) != i {
			t.Fatalf("dst[%d] = %d, want %d", i, v, i)
		}
	}
	for i, size := range src.ReadSizes {
		if size != 16*4 {
			t.Errorf("read %d requested %d bytes, want %d", i, size, 16*4)
		}
	}
}

func TestFill_NeverExceedsTarget(t *testing.T) {
	src := &mock.Source{SourceFormat: s32, Script: []mock.Read{
		{Data: rawSamples(0, 32)},
		{Data: rawSamples(32, 32)},
		{Data: rawSamples(1000, 32)},
	}}
	a, _ := newAssembler(t, src, capture.WithStagingSamples(32))

	buf := make([]int16, 48+8)
	for i := range buf {
		buf[i] = -1
	}
	n, err := a.Fill(context.Background(), buf[:48])
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if n != 48 {
		t.Fatalf("n = %d, want 48", n)
	}
	for i, v := range buf[48:] {
		if v != -1 {
			t.Fatalf("write past target at %d: %d", 48+i, v)
		}
	}
	// Surplus from the second read is dropped, not carried into the next fill.
	next := make([]int16, 4)
	if _, err := a.Fill(context.Background(), next); err != nil {
		t.Fatalf("second Fill: %v", err)
	}
	if next[0] != 1000 {
		t.Errorf("next fill starts at %d, want 1000", next[0])
	}
}

func TestFill_TransportErrorYieldsZero(t *testing.T) {
	busFault := errors.New("bus fault")
	// Fewer samples than one 20 ms frame, then a failure.
	src := &mock.Source{SourceFormat: s32, Script: []mock.Read{
		{Data: rawSamples(0, 100)},
		{Err: busFault},
		{Data: rawSamples(0, 8)},
	}}
	a, _ := newAssembler(t, src, capture.WithStagingSamples(128))

	dst := make([]int16, 8000)
	n, err := a.Fill(context.Background(), dst)
	if !errors.Is(err, busFault) {
		t.Fatalf("err = %v, want bus fault", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}

	// The next fill starts fresh from the next read.
	n, err = a.Fill(context.Background(), dst[:8])
	if err != nil || n != 8 {
		t.Fatalf("Fill after failure = (%d, %v), want (8, nil)", n, err)
	}
}

func TestFill_StrayByteDiscarded(t *testing.T) {
	payload := append(rawSamples(0, 10), 0x7f)
	src := &mock.Source{SourceFormat: s32, Script: []mock.Read{
		{Data: payload},
		{Data: rawSamples(10, 6)},
	}}
	a, reader := newAssembler(t, src, capture.WithStagingSamples(16))

	dst := make([]int16, 16)
	n, err := a.Fill(context.Background(), dst)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if n != 16 {
		t.Fatalf("n = %d, want 16", n)
	}
	for i, v := range dst {
		if int(v) != i {
			t.Fatalf("dst[%d] = %d, want %d", i, v, i)
		}
	}
	if got := counter(t, reader, "micvad.bytes.stray"); got != 1 {
		t.Errorf("stray bytes = %d, want 1", got)
	}
	if got := counter(t, reader, "micvad.read.bytes"); got != 41+24 {
		t.Errorf("read bytes = %d, want %d", got, 41+24)
	}
}

func TestFill_SourceClosed(t *testing.T) {
	src := &mock.Source{SourceFormat: s32}
	a, _ := newAssembler(t, src)

	_, err := a.Fill(context.Background(), make([]int16, 8))
	if !errors.Is(err, audio.ErrSourceClosed) {
		t.Fatalf("err = %v, want ErrSourceClosed", err)
	}
}

func TestFill_CustomShift(t *testing.T) {
	// INMP441-style: 24 significant bits left-justified, narrowed with >>12.
	raw := []int32{1 << 12, -1 << 12, 0x7fff << 12}
	b := make([]byte, len(raw)*4)
	audio.EncodeS32LE(b, raw)
	src := &mock.Source{SourceFormat: s32, Script: []mock.Read{{Data: b}}}
	a, _ := newAssembler(t, src, capture.WithShift(12))

	dst := make([]int16, 3)
	if _, err := a.Fill(context.Background(), dst); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	want := []int16{1, -1, 0x7fff}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestFill_S24(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 24}
	// 0x123456 and -2 as packed little-endian 24-bit samples.
	b := []byte{0x56, 0x34, 0x12, 0xfe, 0xff, 0xff}
	src := &mock.Source{SourceFormat: f, Script: []mock.Read{{Data: b}}}
	a, _ := newAssembler(t, src)
	if a.Shift() != 8 {
		t.Fatalf("default shift = %d, want 8", a.Shift())
	}

	dst := make([]int16, 2)
	if _, err := a.Fill(context.Background(), dst); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if dst[0] != 0x1234 || dst[1] != -1 {
		t.Errorf("dst = %v, want [%d -1]", dst, 0x1234)
	}
}

func TestNewAssembler(t *testing.T) {
	tests := []struct {
		name    string
		format  audio.Format
		opts    []capture.Option
		wantErr bool
	}{
		{name: "defaults", format: s32},
		{name: "stereo", format: audio.Format{SampleRate: 16000, Channels: 2, BitDepth: 32}, wantErr: true},
		{name: "16-bit", format: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}, wantErr: true},
		{name: "shift too large", format: s32, opts: []capture.Option{capture.WithShift(32)}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := capture.NewAssembler(&mock.Source{SourceFormat: tc.format}, tc.opts...)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && a.StagingSamples() != capture.DefaultStagingSamples {
				t.Errorf("staging = %d, want %d", a.StagingSamples(), capture.DefaultStagingSamples)
			}
		})
	}
}
