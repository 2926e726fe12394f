package vector

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	x := []float32{3, 4}
	if !Normalize(x) {
		t.Fatal("Normalize reported a zero vector")
	}
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v, want [0.6 0.8]", x)
	}
	if n := L2Norm(x); math.Abs(n-1) > 1e-6 {
		t.Errorf("norm = %f", n)
	}

	zero := []float32{0, 0, 0}
	if Normalize(zero) {
		t.Error("zero vector should not normalize")
	}
	for _, v := range zero {
		if v != 0 {
			t.Errorf("zero vector changed: %v", zero)
		}
	}
}
