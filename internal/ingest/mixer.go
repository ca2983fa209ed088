package ingest

import "encoding/binary"

// mixTracks flattens concurrent per-track PCM buffers into one stream by
// saturating addition. The result is as long as the longest input.
func mixTracks(tracks [][]int16) []int16 {
	maxLen := 0
	for _, t := range tracks {
		if len(t) > maxLen {
			maxLen = len(t)
		}
	}
	if maxLen == 0 {
		return nil
	}

	out := make([]int16, maxLen)
	for _, t := range tracks {
		for i, s := range t {
			sum := int32(out[i]) + int32(s)
			if sum > 32767 {
				sum = 32767
			} else if sum < -32768 {
				sum = -32768
			}
			out[i] = int16(sum)
		}
	}
	return out
}

// pcmBytes converts samples to little-endian 16-bit PCM.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// pcmSamples converts little-endian 16-bit PCM back to samples.
func pcmSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
