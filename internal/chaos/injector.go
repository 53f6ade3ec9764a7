// internal/chaos/injector.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInjected is the default error of an error fault.
var ErrInjected = errors.New("chaos: injected fault")

// Fault is what happens when execution reaches an armed point.
type Fault struct {
	// Err is returned from Fire. Nil with zero Latency means ErrInjected.
	Err error
	// Latency delays Fire, honouring context cancellation.
	Latency time.Duration
	// Once disarms the point after the first hit.
	Once bool
}

// Injector arms named fault points. A nil *Injector is valid and never fires,
// so production code can call Fire unconditionally.
type Injector struct {
	mu     sync.Mutex
	faults map[string]Fault
	hits   map[string]int
}

// NewInjector creates an injector with no armed points.
func NewInjector() *Injector {
	return &Injector{
		faults: make(map[string]Fault),
		hits:   make(map[string]int),
	}
}

// Arm sets the fault for point, replacing any previous one.
func (i *Injector) Arm(point string, fault Fault) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faults[point] = fault
}

// Disarm removes the fault for point.
func (i *Injector) Disarm(point string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.faults, point)
}

// Reset disarms every point and clears hit counts.
func (i *Injector) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faults = make(map[string]Fault)
	i.hits = make(map[string]int)
}

// Hits reports how many times point fired.
func (i *Injector) Hits(point string) int {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hits[point]
}

// Fire triggers the fault armed at point, if any.
func (i *Injector) Fire(ctx context.Context, point string) error {
	if i == nil {
		return nil
	}

	i.mu.Lock()
	fault, ok := i.faults[point]
	if ok {
		i.hits[point]++
		if fault.Once {
			delete(i.faults, point)
		}
	}
	i.mu.Unlock()

	if !ok {
		return nil
	}

	if fault.Latency > 0 {
		timer := time.NewTimer(fault.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		return fault.Err
	}

	if fault.Err == nil {
		return ErrInjected
	}
	return fault.Err
}
