package docstore

import (
	"encoding/binary"
	"math"
)

func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}

	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}

	return buf
}

func bytesToFloat32Slice(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}

	floats := make([]float32, len(buf)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	return floats
}

// cosine returns the cosine similarity of a and b, or 0 when either vector
// has zero magnitude.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
