package commands

import (
	"context"

	"github.com/MrWong99/micvad/internal/config"
	"github.com/MrWong99/micvad/pkg/audio"
	"github.com/MrWong99/micvad/pkg/audio/portaudio"
	"github.com/MrWong99/micvad/pkg/audio/stream"
	"github.com/MrWong99/micvad/pkg/provider/vad"
	"github.com/MrWong99/micvad/pkg/provider/vad/energy"
	"github.com/MrWong99/micvad/pkg/provider/vad/webrtc"
)

// registerBuiltinProviders wires the sources and VAD engines that ship with
// micvad into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Sources ───────────────────────────────────────────────────────────────

	reg.RegisterSource("stream", func(ctx context.Context, mic config.MicConfig) (audio.Source, error) {
		if len(mic.Command) > 0 {
			return stream.Start(ctx, mic.Command, mic.Format())
		}
		return stream.Open(mic.Path, mic.Format())
	})

	reg.RegisterSource("portaudio", func(_ context.Context, mic config.MicConfig) (audio.Source, error) {
		return portaudio.Open(portaudio.Config{
			Format:          mic.Format(),
			Device:          mic.Device,
			FramesPerBuffer: mic.StagingSamples,
		})
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.VADConfig) (vad.Engine, error) {
		return webrtc.New(), nil
	})
	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})
}
