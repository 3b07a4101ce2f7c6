package audio

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	// DecodeSampleRate is the native rate of the compressed ingest path.
	DecodeSampleRate = 48000
	decodeChannels   = 1
	decodeFrameSize  = 960 // 20ms at 48kHz
)

// ProcessingError marks a decode or resample failure. The affected window
// is dropped; the pipeline continues.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// OpusDecoder is the external decode capability behind IngestAudioChunk.
// A frame it cannot parse yields a ProcessingError, never synthetic audio.
type OpusDecoder struct {
	decoder *gopus.Decoder
}

func NewOpusDecoder() (*OpusDecoder, error) {
	decoder, err := gopus.NewDecoder(DecodeSampleRate, decodeChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{decoder: decoder}, nil
}

// Decode converts one opus frame to float32 PCM at DecodeSampleRate.
func (d *OpusDecoder) Decode(opus []byte) ([]float32, error) {
	// Comfort-noise frames decode to silence.
	if len(opus) == 3 && opus[0] == 0xF8 && opus[1] == 0xFF && opus[2] == 0xFE {
		return make([]float32, decodeFrameSize), nil
	}

	pcm, err := d.decoder.Decode(opus, decodeFrameSize, false)
	if err != nil {
		return nil, &ProcessingError{Stage: "decode", Err: err}
	}

	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out, nil
}

func (d *OpusDecoder) Close() {
	// gopus decoder doesn't require explicit cleanup
}
