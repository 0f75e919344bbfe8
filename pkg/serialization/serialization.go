package serialization

import "io"

const (
	// JSONType selects the JSON codec.
	JSONType = "json"

	// GobType selects the gob codec.
	GobType = "gob"
)

// Decoder reads one value from its underlying stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one value to its underlying stream.
type Encoder interface {
	Encode(v any) error
}

// EncoderFactory builds an Encoder over w.
type EncoderFactory func(w io.Writer) Encoder

// DecoderFactory builds a Decoder over r.
type DecoderFactory func(r io.Reader) Decoder
