package vad_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/micvad/pkg/provider/vad"
)

func TestParseMode_RoundTrip(t *testing.T) {
	for _, m := range []vad.Mode{vad.ModeQuality, vad.ModeLowBitrate, vad.ModeAggressive, vad.ModeVeryAggressive} {
		got, err := vad.ParseMode(m.String())
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", m.String(), err)
		}
		if got != m {
			t.Errorf("ParseMode(%q) = %v, want %v", m.String(), got, m)
		}
	}
	if _, err := vad.ParseMode("loud"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestConfig_FrameSize(t *testing.T) {
	tests := []struct {
		rate, ms, want int
	}{
		{16000, 20, 320},
		{16000, 10, 160},
		{8000, 30, 240},
		{48000, 20, 960},
	}
	for _, tc := range tests {
		cfg := vad.Config{SampleRate: tc.rate, FrameSizeMs: tc.ms}
		if got := cfg.FrameSize(); got != tc.want {
			t.Errorf("FrameSize(%d Hz, %d ms) = %d, want %d", tc.rate, tc.ms, got, tc.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     vad.Config
		wantErr bool
	}{
		{"valid", vad.Config{SampleRate: 16000, FrameSizeMs: 20, Mode: vad.ModeVeryAggressive}, false},
		{"zero rate", vad.Config{SampleRate: 0, FrameSizeMs: 20}, true},
		{"odd frame", vad.Config{SampleRate: 16000, FrameSizeMs: 25}, true},
		{"bad mode", vad.Config{SampleRate: 16000, FrameSizeMs: 20, Mode: vad.Mode(7)}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSetupError_Unwrap(t *testing.T) {
	cause := errors.New("out of memory")
	var err error = &vad.SetupError{Stage: vad.StageCreate, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("SetupError does not unwrap to its cause")
	}
	var se *vad.SetupError
	if !errors.As(err, &se) || se.Stage != vad.StageCreate {
		t.Errorf("errors.As failed or wrong stage: %v", err)
	}
	if got := err.Error(); got != "vad: session create failed: out of memory" {
		t.Errorf("Error() = %q", got)
	}
}

func TestVerdict_String(t *testing.T) {
	if vad.VerdictVoice.String() != "VOICE" || vad.VerdictSilence.String() != "SILENCE" || vad.VerdictNeutral.String() != "NEUTRAL" {
		t.Error("unexpected verdict names")
	}
}
