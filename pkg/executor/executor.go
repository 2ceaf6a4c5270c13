// Package executor defines the per-domain action handler the conductor
// dispatches to. Executors are external collaborators: the engine treats
// them as black boxes that either return a result or fail.
package executor

import (
	"context"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// Executor handles actions for one domain. Expected business failures come
// back as a result with Success=false and an error code; a returned error
// (or a panic) is an unexpected fault the conductor maps to an execution
// error.
type Executor interface {
	Execute(ctx context.Context, req *orchestra.ActionRequest) (*orchestra.ActionResult, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, req *orchestra.ActionRequest) (*orchestra.ActionResult, error)

func (f Func) Execute(ctx context.Context, req *orchestra.ActionRequest) (*orchestra.ActionResult, error) {
	return f(ctx, req)
}

// Set holds at most one executor per domain. Registration normally happens
// at process start, but the set is safe for concurrent use so executors can
// be plugged in while the conductor is serving.
type Set struct {
	mu        sync.RWMutex
	executors map[orchestra.Domain]Executor
}

// NewSet creates an empty executor set.
func NewSet() *Set {
	return &Set{executors: make(map[orchestra.Domain]Executor)}
}

// Register installs ex as the handler for domain, replacing any previous
// one. A nil executor removes the registration.
func (s *Set) Register(domain orchestra.Domain, ex Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex == nil {
		delete(s.executors, domain)
		return
	}
	s.executors[domain] = ex
}

// Get returns the executor for domain, if one is registered.
func (s *Set) Get(domain orchestra.Domain) (Executor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, ok := s.executors[domain]
	return ex, ok
}

// Domains lists the domains with a registered executor, sorted.
func (s *Set) Domains() []orchestra.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]orchestra.Domain, 0, len(s.executors))
	for d := range s.executors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
