package vector

import "fmt"

// IndexType selects the index engine.
type IndexType string

const (
	// IndexTypeHNSW is a hierarchical navigable small world graph. Default.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFlat searches every vector. Exact, good for small collections.
	IndexTypeFlat IndexType = "flat"
)

// Metric is the distance function used to rank vectors.
type Metric string

const (
	MetricL2     Metric = "l2"     // Euclidean distance
	MetricL2Sq   Metric = "l2sq"   // squared Euclidean distance
	MetricCosine Metric = "cosine" // 1 - cosine similarity
	MetricIP     Metric = "ip"     // 1 - inner product
)

// Quantization selects how vectors are held in memory and on disk.
type Quantization string

const (
	QuantizationF32 Quantization = "f32"
	// QuantizationI8 stores each vector as int8 codes with a per-vector offset and step.
	QuantizationI8 Quantization = "i8"
)

// Options configures an index. Zero values for the tuning knobs select defaults.
type Options struct {
	Dimensions   int
	Metric       Metric
	Quantization Quantization
	// Connectivity is the HNSW neighbour count per layer (layer 0 allows twice as many).
	Connectivity int
	// ExpansionAdd is the HNSW candidate list size while inserting.
	ExpansionAdd int
	// ExpansionSearch is the HNSW candidate list size while searching; raised to k when smaller.
	ExpansionSearch int
}

const (
	DefaultConnectivity    = 16
	DefaultExpansionAdd    = 128
	DefaultExpansionSearch = 64
)

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Metric == "" {
		o.Metric = MetricCosine
	}
	if o.Quantization == "" {
		o.Quantization = QuantizationF32
	}
	if o.Connectivity <= 0 {
		o.Connectivity = DefaultConnectivity
	}
	if o.ExpansionAdd <= 0 {
		o.ExpansionAdd = DefaultExpansionAdd
	}
	if o.ExpansionSearch <= 0 {
		o.ExpansionSearch = DefaultExpansionSearch
	}
	return o
}

// Validate reports invalid dimensions, metrics or quantization.
func (o Options) Validate() error {
	if o.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", o.Dimensions)
	}
	switch o.Metric {
	case MetricL2, MetricL2Sq, MetricCosine, MetricIP:
	default:
		return fmt.Errorf("unknown metric: %s (supported: l2, l2sq, cosine, ip)", o.Metric)
	}
	switch o.Quantization {
	case QuantizationF32, QuantizationI8:
	default:
		return fmt.Errorf("unknown quantization: %s (supported: f32, i8)", o.Quantization)
	}
	if o.Connectivity < 2 {
		return fmt.Errorf("connectivity must be at least 2, got %d", o.Connectivity)
	}
	return nil
}
