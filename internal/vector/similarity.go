package vector

import "math"

// InnerProduct returns the inner product of two vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize scales x in place to unit length. A zero vector is left unchanged and
// reported as false.
func Normalize(x []float32) bool {
	n := L2Norm(x)
	if n == 0 {
		return false
	}
	inv := float32(1 / n)
	for i := range x {
		x[i] *= inv
	}
	return true
}

// Distance computes the metric distance between a and b. Lower is closer.
func Distance(m Metric, a, b []float32) float32 {
	return distance(m, a, plain(b))
}

// distance compares a query against a stored vector without materializing it.
func distance(m Metric, q []float32, v stored) float32 {
	switch m {
	case MetricL2, MetricL2Sq:
		var sum float64
		for i := range q {
			d := float64(q[i]) - float64(v.at(i))
			sum += d * d
		}
		if m == MetricL2 {
			return float32(math.Sqrt(sum))
		}
		return float32(sum)
	case MetricIP:
		var dot float64
		for i := range q {
			dot += float64(q[i]) * float64(v.at(i))
		}
		return float32(1 - dot)
	default:
		var dot, qq, vv float64
		for i := range q {
			x, y := float64(q[i]), float64(v.at(i))
			dot += x * y
			qq += x * x
			vv += y * y
		}
		if qq == 0 || vv == 0 {
			return 1
		}
		return float32(1 - dot/(math.Sqrt(qq)*math.Sqrt(vv)))
	}
}
