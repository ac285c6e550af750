package recorder

import (
	"sync"

	"CryptoHarvest/internal/pipeline"
)

// NoopRecorder keeps only the latest report in memory; used when SQLite is not configured.
type NoopRecorder struct {
	mu     sync.Mutex
	latest *pipeline.Report
}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(report *pipeline.Report) error {
	n.mu.Lock()
	n.latest = report
	n.mu.Unlock()
	return nil
}

func (n *NoopRecorder) LatestRun() (*pipeline.Report, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.latest == nil {
		return nil, ErrNoRuns
	}
	return n.latest, nil
}

func (n *NoopRecorder) Close() error { return nil }
