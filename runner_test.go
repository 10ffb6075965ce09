package gravity

import (
	"context"
	"strings"
	"sync"
)

// fakeRule maps a command-line substring to a canned response
type fakeRule struct {
	match string
	out   string
	err   error
}

// fakeRunner records every command and answers from stubbed rules so
// adapter tests never spawn real process managers.
type fakeRunner struct {
	mu    sync.Mutex
	rules []fakeRule
	calls []string
}

func (r *fakeRunner) stub(match, out string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, fakeRule{match: match, out: out, err: err})
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	line := commandLine(name, args)
	r.mu.Lock()
	r.calls = append(r.calls, line)
	rules := r.rules
	r.mu.Unlock()

	for _, rule := range rules {
		if strings.Contains(line, rule.match) {
			return rule.out, rule.err
		}
	}
	return "", nil
}

// called reports how many recorded commands contain match
func (r *fakeRunner) called(match string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if strings.Contains(call, match) {
			n++
		}
	}
	return n
}
