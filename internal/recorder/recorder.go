package recorder

import (
	"errors"

	"CryptoHarvest/internal/pipeline"
)

// ErrNoRuns is returned by LatestRun before any run was recorded.
var ErrNoRuns = errors.New("no recorded runs")

// Recorder persists pipeline run history for later inspection.
type Recorder interface {
	RecordRun(report *pipeline.Report) error
	LatestRun() (*pipeline.Report, error)
	Close() error
}
