package pcm

import (
	"bytes"
	"encoding/binary"
)

// wavHeader is the canonical 44-byte RIFF header for uncompressed PCM.
type wavHeader struct {
	RiffID        [4]byte
	RiffSize      uint32 // file size - 8
	WaveID        [4]byte
	FmtID         [4]byte
	FmtSize       uint32 // 16 for PCM
	AudioFormat   uint16 // 1 = PCM
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// ToWAV wraps raw PCM audio data with a WAV header.
//
// Used by the playback debug dump so captured assistant audio can be opened
// in an ordinary player. Synthesized speech arrives at 24000/16/1.
func ToWAV(pcmData []byte, sampleRate, bitsPerSample, channels int) []byte {
	header := wavHeader{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      uint32(36 + len(pcmData)),
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bitsPerSample / 8),
		BlockAlign:    uint16(channels * bitsPerSample / 8),
		BitsPerSample: uint16(bitsPerSample),
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcmData)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcmData)))
	_ = binary.Write(buf, binary.LittleEndian, header)
	buf.Write(pcmData)
	return buf.Bytes()
}
