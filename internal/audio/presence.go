package audio

import (
	"github.com/maxhawkins/go-webrtcvad"
)

// PresenceProbe reports whether a chunk carries audible speech. It backs
// the diagnostics side channel; delivery is never gated on it.
type PresenceProbe struct {
	vad *webrtcvad.VAD
}

func NewPresenceProbe() (*PresenceProbe, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}

	// Aggressiveness 0-3; 2 balances false positives against missed speech.
	vad.SetMode(2)

	return &PresenceProbe{vad: vad}, nil
}

// HasSpeech runs WebRTC VAD over 16-bit PCM, falling back to the peak
// amplitude threshold when the frame is too short or the VAD rejects it.
func (p *PresenceProbe) HasSpeech(chunk *Chunk) bool {
	pcm := pcm16Bytes(chunk.Samples)

	// WebRTC VAD needs at least a 10ms frame (320 bytes at 16kHz).
	if len(pcm) < 320 || chunk.SampleRate != TargetSampleRate {
		return chunk.HasAudio()
	}

	speech, err := p.vad.Process(chunk.SampleRate, pcm)
	if err != nil {
		return chunk.HasAudio()
	}
	return speech
}

func (p *PresenceProbe) Close() error {
	// go-webrtcvad exposes no Close/Free; the C struct is released by a
	// runtime finalizer once the VAD is unreachable.
	p.vad = nil
	return nil
}

func pcm16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
