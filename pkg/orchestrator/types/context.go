package types

import (
	"context"
	"sync"
)

// ExecutionContext carries state across the steps of one task: per-step
// results for placeholder resolution plus free-form keys such as sensitive
// confirmations written by the host while the plan runs.
type ExecutionContext struct {
	mu      sync.RWMutex
	values  map[string]interface{}
	results map[int]StepResult
	stop    *StopSignal
}

// NewExecutionContext creates an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		values:  make(map[string]interface{}),
		results: make(map[int]StepResult),
	}
}

// BindStop attaches the task's stop signal. The server loop binds it
// before the orchestrator runs; executors observe it through Interrupted.
func (c *ExecutionContext) BindStop(s *StopSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = s
}

// Stop returns the bound stop signal, which may be nil.
func (c *ExecutionContext) Stop() *StopSignal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stop
}

// Interrupted reports whether the task's stop signal has been tripped.
func (c *ExecutionContext) Interrupted() bool {
	return c.Stop().Stopped()
}

// Set stores a free-form value.
func (c *ExecutionContext) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns a free-form value.
func (c *ExecutionContext) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Bool returns a free-form value interpreted as a boolean. Missing keys and
// non-boolean values read as false.
func (c *ExecutionContext) Bool(key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Delete removes a free-form value.
func (c *ExecutionContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// SetResult records the result of the step at the given zero-based index.
func (c *ExecutionContext) SetResult(index int, result StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[index] = result
}

// Result returns the recorded result for a step index.
func (c *ExecutionContext) Result(index int) (StepResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[index]
	return r, ok
}

// ResultCount returns how many step results have been recorded.
func (c *ExecutionContext) ResultCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Executor runs one step and reports its outcome as a value. Failures are
// results, not errors; ctx cancellation is the only reason to abandon a
// dispatch midway.
type Executor interface {
	Name() string
	ExecuteStep(ctx context.Context, step Step, ec *ExecutionContext) StepResult
}

// StopSignal is a one-shot cancellation latch shared between the server
// loop and a running task. Safe for concurrent use; a nil signal never
// reports stopped.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopSignal creates an un-tripped signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Stop trips the signal. Subsequent calls are no-ops.
func (s *StopSignal) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.ch) })
}

// Stopped reports whether the signal has been tripped.
func (s *StopSignal) Stopped() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done exposes the latch for select loops. Nil signals return a channel
// that never closes.
func (s *StopSignal) Done() <-chan struct{} {
	if s == nil {
		return make(chan struct{})
	}
	return s.ch
}
