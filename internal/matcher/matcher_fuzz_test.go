package matcher

import (
	"encoding/binary"
	"math"
	"testing"
)

func vecFromBytes(data []byte) []float32 {
	n := len(data) / 4
	v := make([]float32, 0, n)
	for i := 0; i < n; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) || math.Abs(float64(f)) > 1e6 {
			f = 0
		}
		v = append(v, f)
	}
	return v
}

// FuzzMatchFace_SelfMatch checks that any descriptor matches itself at distance zero.
func FuzzMatchFace_SelfMatch(f *testing.F) {
	f.Add([]byte{0, 0, 128, 63, 0, 0, 0, 64}, 0.6)
	f.Add(make([]byte, 512), 0.01)

	f.Fuzz(func(t *testing.T, data []byte, threshold float64) {
		v := vecFromBytes(data)
		if len(v) == 0 || !(threshold > 0) || math.IsInf(threshold, 0) {
			t.Skip()
		}
		m := MatchFace(NewGallery(Profile{ID: "self", Descriptors: [][]float32{v}}), v, threshold)
		if !m.Matched || m.Distance != 0 || m.ProfileID != "self" {
			t.Fatalf("self match failed: %+v", m)
		}
	})
}
