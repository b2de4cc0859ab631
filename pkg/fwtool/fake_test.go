package fwtool

import (
	"context"
	"sync"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	res   *CommandResult
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (*CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.res, f.err
}
