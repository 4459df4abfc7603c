// Package pcm converts between PCM16 sample representations and the
// transport-safe encoding used on the live session socket.
package pcm

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/mitra-ai/mitra-live/pkg/core"
)

// FloatToInt16 converts normalized float samples to signed 16-bit samples.
// Samples are scaled by 0x7fff. Inputs outside [-1, 1] are not clamped and
// wrap on conversion; callers feeding device output stay in range.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(s * 0x7fff)
	}
	return out
}

// Int16ToFloat converts signed 16-bit samples to normalized floats.
// The result range is approximately [-1, 1).
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Int16ToBytes packs samples as little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 unpacks little-endian bytes into samples.
// Odd-length input is malformed.
func BytesToInt16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, core.NewDecodeError("pcm16 payload has odd length", nil)
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// Encode maps raw bytes to the text-safe transport encoding.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode. Round-trips exactly for all byte values.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, core.NewDecodeError("transport text is not valid base64", err)
	}
	return data, nil
}
