package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// SampleRate is the rate clients are expected to stream at.
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// EncodeWAV wraps raw little-endian PCM in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 || bitsPerSample <= 0 || bitsPerSample%8 != 0 {
		return nil, fmt.Errorf("invalid wav format: rate=%d channels=%d bits=%d", sampleRate, channels, bitsPerSample)
	}

	blockAlign := channels * bitsPerSample / 8
	dataBytes := len(pcm)
	if dataBytes%blockAlign != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of %d-byte frames", dataBytes, blockAlign)
	}
	var b bytes.Buffer
	b.Grow(44 + dataBytes)

	// RIFF header
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataBytes))
	b.WriteString("WAVE")

	// fmt chunk
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))                    // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))                     // audio format = PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))              // channels
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))            // sample rate
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*blockAlign)) // byte rate
	_ = binary.Write(&b, binary.LittleEndian, uint16(blockAlign))            // block align
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))         // bits per sample

	// data chunk
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataBytes))
	b.Write(pcm)

	return b.Bytes(), nil
}

// EncodeMonoWAV is EncodeWAV for the 16 kHz, 16-bit mono format used on the wire.
func EncodeMonoWAV(pcm []byte) ([]byte, error) {
	return EncodeWAV(pcm, SampleRate, Channels, BitsPerSample)
}
