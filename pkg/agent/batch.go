package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/testpilot/pkg/logger"
	"github.com/devicelab-dev/testpilot/pkg/report"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

// Worker is one device that pulls test cases from the shared queue.
type Worker struct {
	ID      int
	Serial  string
	Tools   ToolExecutor
	Cleanup func()
}

// BatchResult contains the outcome of a batch of runs.
type BatchResult struct {
	Status   report.Status
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Duration int64 // wall clock, milliseconds
	Results  []*Result
	Errors   []error // per case; nil when the run ended normally
}

// workItem is a test case and its index in the original list.
type workItem struct {
	tc    *testcase.TestCase
	index int
}

// RunBatch runs cases across workers using work queues. A case whose device
// serial matches a worker is queued for that worker alone; every other case
// goes to a shared queue that all workers pull from once their own queue is
// empty. Each worker uses its own tool executor; every other setting comes
// from r.
func (r *Runner) RunBatch(ctx context.Context, workers []Worker, cases []*testcase.TestCase) (*BatchResult, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}

	start := time.Now()
	queues := queueCases(workers, cases)

	results := make([]*Result, len(cases))
	errs := make([]error, len(cases))
	var wg sync.WaitGroup

	for i := range workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			if w.Cleanup != nil {
				defer w.Cleanup()
			}

			runner := *r
			runner.Tools = w.Tools

			for _, queue := range []chan workItem{queues[w.Serial], queues[""]} {
				if queue == nil {
					continue
				}
				for item := range queue {
					if ctx.Err() != nil {
						errs[item.index] = ctx.Err()
						continue
					}
					logger.Info("worker %d (%s): running %s", w.ID, w.Serial, item.tc.Name)
					results[item.index], errs[item.index] = runner.Run(ctx, item.tc)
				}
			}
		}(workers[i])
	}
	wg.Wait()

	return buildBatchResult(results, errs, time.Since(start).Milliseconds()), nil
}

// queueCases builds one closed queue per worker serial holding the cases
// pinned to it, plus the shared queue under "".
func queueCases(workers []Worker, cases []*testcase.TestCase) map[string]chan workItem {
	serials := make(map[string]bool, len(workers))
	for _, w := range workers {
		if w.Serial != "" {
			serials[w.Serial] = true
		}
	}

	items := make(map[string][]workItem)
	for i, tc := range cases {
		key := ""
		if serials[tc.DeviceSerial] {
			key = tc.DeviceSerial
		}
		items[key] = append(items[key], workItem{tc: tc, index: i})
	}

	queues := make(map[string]chan workItem, len(items))
	for key, list := range items {
		q := make(chan workItem, len(list))
		for _, item := range list {
			q <- item
		}
		close(q)
		queues[key] = q
	}
	return queues
}

// buildBatchResult aggregates per-case results. Cases that never produced a
// result count as skipped, and a batch with skipped cases has not passed.
func buildBatchResult(results []*Result, errs []error, wallClock int64) *BatchResult {
	b := &BatchResult{
		Total:    len(results),
		Duration: wallClock,
		Results:  results,
		Errors:   errs,
	}
	for _, res := range results {
		switch {
		case res == nil:
			b.Skipped++
		case res.Passed():
			b.Passed++
		default:
			b.Failed++
		}
	}

	if b.Failed > 0 || b.Skipped > 0 {
		b.Status = report.StatusFailed
	} else {
		b.Status = report.StatusPassed
	}
	return b
}
