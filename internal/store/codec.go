package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses persisted JSON payloads. Checkpoint transcripts and file
// maps dominate database size, so blob columns are stored zstd-compressed.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec with a shared encoder/decoder pair. Both are safe
// for concurrent EncodeAll/DecodeAll use.
func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Compress returns the zstd-compressed form of data.
func (c *Codec) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, nil)
}

// Decompress reverses Compress. A payload that does not decode is a
// corrupted row and surfaces as ErrValidation.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt payload: %v", ErrValidation, err)
	}
	return out, nil
}
