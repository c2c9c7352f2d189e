package encoder

import "github.com/breeze-rmm/sessioncore/internal/codec"

// Preference is one of §4.4's four selection strategies.
type Preference string

const (
	MaxPerformance    Preference = "max-performance"
	Balanced          Preference = "balanced"
	MinBandwidth      Preference = "min-bandwidth"
	MaxCompatibility  Preference = "max-compatibility"
)

// Capabilities gates which codecs the selector may even attempt: a non-GPU
// host never reaches the NVENC branches regardless of preference.
type Capabilities struct {
	HasGPU      bool
	GPUSupportsAV1 bool
}

// candidates returns the priority list for a preference, exactly as tabled
// in §4.4. targetFPS gates the fps>=60 branches.
func candidates(pref Preference, targetFPS int) []codec.Codec {
	switch pref {
	case MaxPerformance:
		if targetFPS >= 60 {
			return []codec.Codec{codec.CodecNvencH264, codec.CodecH264, codec.CodecPng}
		}
		return []codec.Codec{codec.CodecH264, codec.CodecPng}
	case Balanced:
		list := []codec.Codec{}
		if targetFPS >= 60 {
			list = append(list, codec.CodecNvencH265)
		}
		list = append(list, codec.CodecNvencH264, codec.CodecH265, codec.CodecPng)
		return list
	case MinBandwidth:
		return []codec.Codec{codec.CodecNvencAV1, codec.CodecNvencH265, codec.CodecH265, codec.CodecPng}
	case MaxCompatibility:
		return []codec.Codec{codec.CodecH264, codec.CodecPng}
	default:
		return []codec.Codec{codec.CodecH264, codec.CodecPng}
	}
}

// requiresGPU reports whether a codec in the priority list needs a GPU
// probe to succeed before it's even attempted.
func requiresGPU(c codec.Codec) bool {
	switch c {
	case codec.CodecNvencH264, codec.CodecNvencH265, codec.CodecNvencAV1:
		return true
	default:
		return false
	}
}

// Selector implements `select(preference, target_fps, capabilities) ->
// VideoEncoder` (§4.4 Contract), trying each candidate codec in priority
// order and falling through to the next on initialization failure — the
// same fallback shape as the teacher's tryHardware()/newSoftwareEncoder()
// chain, generalized to the spec's four-strategy priority tables.
type Selector struct {
	caps Capabilities
}

func NewSelector(caps Capabilities) *Selector {
	return &Selector{caps: caps}
}

// Select builds a VideoEncoder using the priority list for pref, skipping
// GPU-dependent candidates when caps.HasGPU is false and skipping
// NvencAV1 specifically when the GPU doesn't support AV1.
func (s *Selector) Select(pref Preference, targetFPS int, base Config, onDemote func(from, to codec.Codec)) (*VideoEncoder, error) {
	var lastErr error
	for _, c := range candidates(pref, targetFPS) {
		if requiresGPU(c) && !s.caps.HasGPU {
			continue
		}
		if c == codec.CodecNvencAV1 && !s.caps.GPUSupportsAV1 {
			continue
		}
		cfg := base
		cfg.Codec = c
		cfg.FPS = targetFPS
		enc, err := New(cfg, onDemote)
		if err == nil {
			log.Info("encoder selected", "preference", pref, "codec", c)
			return enc, nil
		}
		log.Warn("encoder candidate failed, trying next", "codec", c, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrInvalidCodec
	}
	return nil, &EncodeError{Kind: "unsupported-format", Msg: lastErr.Error()}
}

// bitrateBucket maps a bitrate (kbps) to a Preference per
// select_for_streaming's table: [0,1000]->MinBandwidth,
// (1000,3000]->Balanced, (3000,inf)->MaxPerformance.
func bitrateBucket(bitrateKbps int) Preference {
	switch {
	case bitrateKbps <= 1000:
		return MinBandwidth
	case bitrateKbps <= 3000:
		return Balanced
	default:
		return MaxPerformance
	}
}

// SelectForStreaming is the alternative entry point keyed off current
// bitrate rather than an explicit preference.
func (s *Selector) SelectForStreaming(bitrateKbps, targetFPS int, base Config, onDemote func(from, to codec.Codec)) (*VideoEncoder, error) {
	return s.Select(bitrateBucket(bitrateKbps), targetFPS, base, onDemote)
}
