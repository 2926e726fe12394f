package vectorstore

import "time"

// MetricsCollector receives one call per collection operation.
type MetricsCollector interface {
	RecordUpsert(collection string, records int, d time.Duration, err error)
	RecordDelete(collection string, records int, d time.Duration, err error)
	// RecordSearch reports the ANN candidate count and the number of results returned.
	RecordSearch(collection string, candidates, returned int, d time.Duration, err error)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordUpsert(string, int, time.Duration, error)      {}
func (NoopMetrics) RecordDelete(string, int, time.Duration, error)      {}
func (NoopMetrics) RecordSearch(string, int, int, time.Duration, error) {}
