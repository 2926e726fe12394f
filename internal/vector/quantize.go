package vector

// stored is a vector as held by an index: either raw float32 values or 8-bit codes
// mapped linearly from [lo, lo+255*step].
type stored struct {
	f32  []float32
	code []uint8
	lo   float32
	step float32
}

func plain(v []float32) stored { return stored{f32: v} }

// store copies vec into the representation selected by q.
func store(q Quantization, vec []float32) stored {
	if q != QuantizationI8 {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		return stored{f32: cp}
	}
	return quantize(vec)
}

func quantize(vec []float32) stored {
	lo, hi := vec[0], vec[0]
	for _, v := range vec[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	s := stored{code: make([]uint8, len(vec)), lo: lo}
	if hi == lo {
		return s
	}
	s.step = (hi - lo) / 255
	for i, v := range vec {
		s.code[i] = uint8((v-lo)/s.step + 0.5)
	}
	return s
}

func (s stored) at(i int) float32 {
	if s.code == nil {
		return s.f32[i]
	}
	return s.lo + float32(s.code[i])*s.step
}

func (s stored) dims() int {
	if s.code == nil {
		return len(s.f32)
	}
	return len(s.code)
}

// vector returns a fresh float32 copy.
func (s stored) vector() []float32 {
	out := make([]float32, s.dims())
	for i := range out {
		out[i] = s.at(i)
	}
	return out
}
