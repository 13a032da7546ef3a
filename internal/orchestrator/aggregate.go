package orchestrator

import (
	"github.com/odyssey-erp/loadgen/internal/worker"
)

// runIDPrefix is the length of the YYYYMMDD_HHMMSS part of a run id.
const runIDPrefix = 15

// Fold merges one worker result into the aggregate. A nil aggregate is
// seeded from res; later results widen the [start, end] window and add their
// counters. Fold does not modify its inputs.
func Fold(agg *worker.Result, res worker.Result) *worker.Result {
	if agg == nil {
		seed := res
		seed.Type = worker.TypeSum
		seed.Thread = 0
		if len(seed.RunID) > runIDPrefix {
			seed.RunID = seed.RunID[:runIDPrefix]
		}
		return &seed
	}

	next := *agg
	if res.Start.Time().Before(next.Start.Time()) {
		next.Start = res.Start
	}
	if res.End.Time().After(next.End.Time()) {
		next.End = res.End
	}
	next.ElapsedSec = next.End.Time().Sub(next.Start.Time()).Seconds()
	next.TotalIterations += res.TotalIterations
	next.TotalData += res.TotalData
	next.TotalFailures += res.TotalFailures
	next.TotalRetries += res.TotalRetries
	next.TotalDataSize += res.TotalDataSize
	next.TotalEncodedSize += res.TotalEncodedSize
	return &next
}

// Aggregate folds results in order. It returns nil for no results.
func Aggregate(results []worker.Result) *worker.Result {
	var agg *worker.Result
	for _, res := range results {
		agg = Fold(agg, res)
	}
	return agg
}
