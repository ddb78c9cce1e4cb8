package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMonoWAV_Header(t *testing.T) {
	pcm := make([]byte, 8000)
	wav, err := EncodeMonoWAV(pcm)
	require.NoError(t, err)
	require.Len(t, wav, 44+len(pcm))

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]), "pcm format")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]), "channels")
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]), "sample rate")
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]), "byte rate")
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(wav[32:34]), "block align")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]), "bits per sample")
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestEncodeWAV_PreservesPayload(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav, err := EncodeWAV(pcm, 8000, 2, 16)
	require.NoError(t, err)
	assert.Equal(t, pcm, wav[44:])
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(wav[32:34]))
}

func TestEncodeWAV_RejectsInvalidFormat(t *testing.T) {
	for _, tt := range []struct {
		name                 string
		rate, channels, bits int
	}{
		{"zero rate", 0, 1, 16},
		{"zero channels", 16000, 0, 16},
		{"odd bits", 16000, 1, 12},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeWAV(nil, tt.rate, tt.channels, tt.bits)
			assert.Error(t, err)
		})
	}
}

func TestEncodeWAV_RejectsPartialFrames(t *testing.T) {
	_, err := EncodeMonoWAV(make([]byte, 7))
	assert.ErrorContains(t, err, "not a multiple")

	_, err = EncodeWAV(make([]byte, 6), 16000, 2, 16)
	assert.Error(t, err, "stereo frames are four bytes")

	wav, err := EncodeMonoWAV(nil)
	require.NoError(t, err)
	assert.Len(t, wav, 44)
}
