// Package transfer converts raw video payloads to and from the base64 text
// form used by the JSON APIs of the generation and commerce platforms.
package transfer

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// chunkSize bounds how many raw bytes are encoded per step so very large
// payloads never hit argument-size limits of the encoding primitives. It is
// a multiple of 3, so chunk encodings carry no interior padding and their
// concatenation equals the encoding of the whole payload.
const chunkSize = 8190

// Encode returns the transport-safe text form of data.
func Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		sb.WriteString(base64.StdEncoding.EncodeToString(data[start:end]))
	}
	return sb.String()
}

// Decode recovers the raw bytes produced by Encode. Chunks are decoded on
// 4-character boundaries, which keeps the concatenated chunk encoding exact.
func Decode(encoded string) ([]byte, error) {
	if encoded == "" {
		return []byte{}, nil
	}
	encodedChunk := base64.StdEncoding.EncodedLen(chunkSize)
	out := make([]byte, 0, base64.StdEncoding.DecodedLen(len(encoded)))
	for start := 0; start < len(encoded); start += encodedChunk {
		end := start + encodedChunk
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk, err := base64.StdEncoding.DecodeString(encoded[start:end])
		if err != nil {
			return nil, fmt.Errorf("transfer: decode chunk at %d: %w", start, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}
