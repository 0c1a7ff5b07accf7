// Package benchmark times the per-frame stages of a scan against their
// budgets.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"
)

// Timer provides simple timing utilities for benchmarking.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new timer with the given name.
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// String returns a formatted string representation of the timer.
func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	NumGC           uint32 `json:"num_gc"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		NumGC:           m.NumGC,
	}
}

// Result holds the result of a benchmark run.
type Result struct {
	Name       string        `json:"name"`
	Iterations int           `json:"iterations"`
	Total      time.Duration `json:"total_ns"`
	Min        time.Duration `json:"min_ns"`
	Max        time.Duration `json:"max_ns"`
	Budget     time.Duration `json:"budget_ns,omitempty"`
	// OverBudget counts iterations slower than Budget.
	OverBudget int `json:"over_budget"`
	// Allocated is the number of bytes allocated during the run.
	Allocated uint64 `json:"allocated_bytes"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// Average returns the mean iteration time.
func (r Result) Average() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Iterations)
}

// String returns a formatted string representation of the result.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Err)
	}
	s := fmt.Sprintf("%s: %d iterations, avg: %v, min: %v, max: %v, mem: +%d KB",
		r.Name, r.Iterations, r.Average().Round(time.Microsecond),
		r.Min.Round(time.Microsecond), r.Max.Round(time.Microsecond), r.Allocated/1024)
	if r.Budget > 0 {
		s += fmt.Sprintf(", over %v budget: %d", r.Budget, r.OverBudget)
	}
	return s
}

// Func is one benchmarked operation.
type Func func(ctx context.Context) error

// Benchmark is a named operation with its time budget. A zero budget is
// not checked.
type Benchmark struct {
	Name   string
	Budget time.Duration
	Func   Func
}

// Suite manages multiple benchmarks.
type Suite struct {
	benchmarks []Benchmark
	results    []Result
	mu         sync.Mutex
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add adds a benchmark to the suite.
func (s *Suite) Add(name string, budget time.Duration, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.benchmarks = append(s.benchmarks, Benchmark{Name: name, Budget: budget, Func: fn})
}

// Names lists the benchmarks in the order they were added.
func (s *Suite) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.benchmarks))
	for i, b := range s.benchmarks {
		names[i] = b.Name
	}
	return names
}

// Run runs a single benchmark with the specified number of iterations.
func (s *Suite) Run(ctx context.Context, name string, iterations int) Result {
	s.mu.Lock()
	var (
		bench Benchmark
		found bool
	)
	for _, b := range s.benchmarks {
		if b.Name == name {
			bench, found = b, true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return failed(Result{Name: name}, fmt.Errorf("benchmark '%s' not found", name))
	}
	return run(ctx, bench, iterations)
}

// RunAll runs every benchmark and keeps the results. It stops early when
// ctx is cancelled.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	benchmarks := append([]Benchmark(nil), s.benchmarks...)
	s.mu.Unlock()

	results := make([]Result, 0, len(benchmarks))
	for _, b := range benchmarks {
		if ctx.Err() != nil {
			break
		}
		results = append(results, run(ctx, b, iterations))
	}

	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	return results
}

// Results returns the last RunAll results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// WriteResults prints the last RunAll results to w.
func (s *Suite) WriteResults(w io.Writer) {
	fmt.Fprintln(w, "Benchmark Results:")
	fmt.Fprintln(w, "==================")
	for _, r := range s.Results() {
		fmt.Fprintln(w, r.String())
	}
}

func run(ctx context.Context, b Benchmark, iterations int) Result {
	res := Result{Name: b.Name, Budget: b.Budget}
	if iterations < 1 {
		return failed(res, fmt.Errorf("iterations must be positive, got %d", iterations))
	}

	runtime.GC()
	before := GetMemoryStats()

	for range iterations {
		if err := ctx.Err(); err != nil {
			return failed(res, err)
		}
		timer := NewTimer(b.Name)
		err := b.Func(ctx)
		d := timer.Stop()
		if err != nil {
			return failed(res, err)
		}

		res.Iterations++
		res.Total += d
		if res.Min == 0 || d < res.Min {
			res.Min = d
		}
		res.Max = max(res.Max, d)
		if b.Budget > 0 && d > b.Budget {
			res.OverBudget++
		}
	}

	res.Allocated = GetMemoryStats().TotalAllocBytes - before.TotalAllocBytes
	return res
}

func failed(r Result, err error) Result {
	r.Err = err
	r.Error = err.Error()
	return r
}
