package delivery

import (
	"context"
	"sync"
	"time"
)

// MockTransport records the payload sequence for tests. Its state value is a
// sequence number, so tests can verify the engine threads state linearly:
// every call must receive exactly the state the previous call returned.
type MockTransport struct {
	mu sync.Mutex

	// Fault injection.
	InitErr          error
	InitialErr       error
	IncrementalErrAt int // 1-based SendIncremental call index to fail at; 0 disables
	CompleteErr      error
	SendDelay        time.Duration

	InitOpts        []InitOptions
	Initials        []*InitialPayload
	Incrementals    []Payload
	SendTimes       []time.Time
	Completed       bool
	StateViolations int

	seq int
}

func (m *MockTransport) Init(ctx context.Context, opts InitOptions) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitOpts = append(m.InitOpts, opts)
	if m.InitErr != nil {
		return nil, m.InitErr
	}
	m.seq = 1
	return m.seq, nil
}

func (m *MockTransport) SendInitial(ctx context.Context, state State, p *InitialPayload) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkState(state)
	if m.InitialErr != nil {
		return state, m.InitialErr
	}
	m.Initials = append(m.Initials, p)
	m.seq++
	return m.seq, nil
}

func (m *MockTransport) SendIncremental(ctx context.Context, state State, p Payload) (State, error) {
	if m.SendDelay > 0 {
		time.Sleep(m.SendDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkState(state)
	if m.IncrementalErrAt > 0 && len(m.Incrementals)+1 == m.IncrementalErrAt {
		return state, errMockSend
	}
	m.Incrementals = append(m.Incrementals, p)
	m.SendTimes = append(m.SendTimes, time.Now())
	m.seq++
	return m.seq, nil
}

func (m *MockTransport) Complete(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkState(state)
	if m.CompleteErr != nil {
		return m.CompleteErr
	}
	m.Completed = true
	return nil
}

func (m *MockTransport) checkState(state State) {
	if n, ok := state.(int); !ok || n != m.seq {
		m.StateViolations++
	}
}

// MockHandlerTransport additionally implements ErrorHandler, capturing the
// fatal error the engine reports.
type MockHandlerTransport struct {
	*MockTransport
	Handled []error
}

func (m *MockHandlerTransport) HandleError(ctx context.Context, state State, err error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handled = append(m.Handled, err)
	return state, nil
}

type mockSendError struct{}

func (mockSendError) Error() string { return "mock send failure" }

var errMockSend = mockSendError{}
