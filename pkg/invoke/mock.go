package invoke

import (
	"context"
	"encoding/json"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Function string
	Payload  json.RawMessage
	Mode     Mode
}

// Mock is an in-memory Invoker for tests. InvokeFunc overrides the default
// behavior, which accepts every call with 202 and {"status":"PROCESSING"}.
type Mock struct {
	mu    sync.Mutex
	calls []Call

	InvokeFunc func(ctx context.Context, function string, payload any, mode Mode) (*Result, error)
}

// NewMock creates a Mock.
func NewMock() *Mock {
	return &Mock{}
}

// Invoke records the call and delegates to InvokeFunc.
func (m *Mock) Invoke(ctx context.Context, function string, payload any, mode Mode) (*Result, error) {
	raw, _ := json.Marshal(payload)
	m.mu.Lock()
	m.calls = append(m.calls, Call{Function: function, Payload: raw, Mode: mode})
	fn := m.InvokeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, function, payload, mode)
	}
	if mode == ModeAsync {
		return nil, nil
	}
	return &Result{StatusCode: 202, Body: []byte(`{"status":"PROCESSING"}`)}, nil
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded calls for one function.
func (m *Mock) CallsTo(function string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Function == function {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}
