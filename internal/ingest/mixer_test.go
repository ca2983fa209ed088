package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMixTracksAddsSamples(t *testing.T) {
	out := mixTracks([][]int16{
		{100, -200, 300},
		{50, 50, -50},
	})
	assert.Equal(t, []int16{150, -150, 250}, out)
}

func TestMixTracksSaturates(t *testing.T) {
	out := mixTracks([][]int16{
		{32000, -32000},
		{32000, -32000},
	})
	assert.Equal(t, []int16{32767, -32768}, out)
}

func TestMixTracksUnevenLengths(t *testing.T) {
	out := mixTracks([][]int16{
		{1, 2, 3, 4},
		{10, 10},
	})
	assert.Equal(t, []int16{11, 12, 3, 4}, out)
}

func TestMixTracksEmpty(t *testing.T) {
	assert.Nil(t, mixTracks(nil))
	assert.Nil(t, mixTracks([][]int16{{}, {}}))
}

func TestPCMRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	assert.Equal(t, samples, pcmSamples(pcmBytes(samples)))
}

func TestPCMBytesLittleEndian(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff}, pcmBytes([]int16{1, -1}))
}
