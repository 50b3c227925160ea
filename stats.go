package gopaddle

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/knights-analytics/gopaddle/util/safeconv"
)

type timings struct {
	NumCalls uint64
	NumFails uint64
	TotalNS  uint64
}

func (t *timings) add(d time.Duration, ok bool) {
	atomic.AddUint64(&t.NumCalls, 1)
	atomic.AddUint64(&t.TotalNS, safeconv.DurationToU64(d))
	if !ok {
		atomic.AddUint64(&t.NumFails, 1)
	}
}

// RunStats summarises the runs of one predictor.
type RunStats struct {
	Runs      uint64
	Failures  uint64
	TotalTime time.Duration
}

// AverageTime is the mean duration of a run.
func (s RunStats) AverageTime() time.Duration {
	return time.Duration(float64(s.TotalTime) / math.Max(1, float64(s.Runs)))
}

// Stats returns the run statistics of p. Clones keep their own.
func (p *Predictor) Stats() RunStats {
	return RunStats{
		Runs:      atomic.LoadUint64(&p.timings.NumCalls),
		Failures:  atomic.LoadUint64(&p.timings.NumFails),
		TotalTime: time.Duration(atomic.LoadUint64(&p.timings.TotalNS)), // #nosec G115
	}
}

// GetStats returns the run statistics as printable lines.
func (p *Predictor) GetStats() []string {
	s := p.Stats()
	return []string{
		fmt.Sprintf("Statistics for predictor: %s", p.id),
		fmt.Sprintf("Run: Total time=%s, Execution count=%d, Failures=%d, Average query time=%s",
			s.TotalTime, s.Runs, s.Failures, s.AverageTime()),
	}
}
