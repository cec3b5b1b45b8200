package testutil

import (
	"context"
	"sync"
)

// Fault decides whether call number call (1-based) of an operation fails.
// A nil return lets the call through to the wrapped store.
type Fault func(ctx context.Context, call int) error

// FailOn fails exactly the given call.
func FailOn(call int, err error) Fault {
	return func(_ context.Context, n int) error {
		if n == call {
			return err
		}
		return nil
	}
}

// FailFirst fails the first n calls.
func FailFirst(n int, err error) Fault {
	return func(_ context.Context, call int) error {
		if call <= n {
			return err
		}
		return nil
	}
}

// FailAlways fails every call.
func FailAlways(err error) Fault {
	return func(context.Context, int) error { return err }
}

// Faults counts calls per operation name and injects configured failures.
// Safe for concurrent use.
type Faults struct {
	mu     sync.Mutex
	calls  map[string]int
	faults map[string]Fault
}

// Set installs fault for op, replacing any previous one.
func (f *Faults) Set(op string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faults == nil {
		f.faults = make(map[string]Fault)
	}
	f.faults[op] = fault
}

// Clear removes every installed fault. Call counts are kept.
func (f *Faults) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
}

// Calls returns how many times op was invoked.
func (f *Faults) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// hit records a call to op and returns the injected error, if any.
func (f *Faults) hit(ctx context.Context, op string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	call := f.calls[op]
	fault := f.faults[op]
	f.mu.Unlock()

	if fault == nil {
		return nil
	}
	return fault(ctx, call)
}
