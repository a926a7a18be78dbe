package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tessellate-io/bucketdb/internal/hooks"
	"github.com/tessellate-io/bucketdb/internal/index"
)

const (
	outcomeInserted = "inserted"
	outcomeUpdated  = "updated"
	outcomeConflict = "conflict"
	outcomeRejected = "rejected"
	outcomeInvalid  = "invalid_index_type"
	outcomeFailed   = "failed"
)

var writeOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bucketdb_writes_total",
		Help: "Write pipeline executions by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(writeOutcomes)
}

func observeWrite(outcome string) {
	writeOutcomes.WithLabelValues(outcome).Inc()
}

// outcomeOf maps an abort error onto its metrics label.
func outcomeOf(err error) string {
	var conflict *ConcurrencyConflictError
	if errors.As(err, &conflict) {
		return outcomeConflict
	}
	var invalid *index.InvalidIndexTypeError
	if errors.As(err, &invalid) {
		return outcomeInvalid
	}
	var hookErr *hooks.HookChainError
	if errors.As(err, &hookErr) {
		return outcomeRejected
	}
	return outcomeFailed
}
