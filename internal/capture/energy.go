package capture

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square amplitude of a little-endian 16-bit PCM
// frame, normalized to [0,1] against int16 full scale. Frames too short to
// hold a sample count as silent.
func RMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / math.MaxInt16
}
