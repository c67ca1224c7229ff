package mpi

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Codec encodes and decodes user payloads into the opaque byte blobs carried
// by frames. The wire format is otherwise identical regardless of codec: a
// self-describing, symmetric encoding is required so that decode(encode(x))
// round-trips for any serialisable x.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte, v any) error
}

// jsonCodec encodes payloads as JSON, a human-inspectable alternative to
// gob. No Comm uses it by default: the rank advertisement is a raw 1- or
// 2-byte integer, and every Comm payload goes through GobCodec.
type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Decode(b []byte, v any) error { return json.Unmarshal(b, v) }

// JSONCodec is the JSON implementation of Codec.
var JSONCodec Codec = jsonCodec{}

// gobCodec is the default codec for user payloads: a compact, self
// -describing binary format, playing the role the original implementation
// gives to pickle.
type gobCodec struct{}

func (gobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Decode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// GobCodec is the default codec for user payloads.
var GobCodec Codec = gobCodec{}

// largePayloadThreshold is the encoded-size cutoff above which a payload is
// gzip-compressed before being placed in a frame.
const largePayloadThreshold = 64 * 1024

const (
	compressionNone byte = 0
	compressionGzip byte = 1
)

// packPayload encodes v with codec and gzip-compresses the result when it
// exceeds largePayloadThreshold, prefixing a one-byte compression flag.
func packPayload(codec Codec, v any) ([]byte, error) {
	raw, err := codec.Encode(v)
	if err != nil {
		return nil, err
	}
	if len(raw) <= largePayloadThreshold {
		return append([]byte{compressionNone}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(compressionGzip)
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	if _, err := gw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	return buf.Bytes(), nil
}

// unpackPayload reverses packPayload and decodes into v.
func unpackPayload(codec Codec, b []byte, v any) error {
	if len(b) == 0 {
		return codec.Decode(b, v)
	}
	flag, body := b[0], b[1:]
	switch flag {
	case compressionNone:
		return codec.Decode(body, v)
	case compressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("gunzip payload: %w", err)
		}
		defer gr.Close()
		raw, err := io.ReadAll(gr)
		if err != nil {
			return fmt.Errorf("gunzip payload: %w", err)
		}
		return codec.Decode(raw, v)
	default:
		return fmt.Errorf("mpi: unknown payload compression flag %d", flag)
	}
}
