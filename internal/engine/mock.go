package engine

import "sync"

// MockEngine is a test double satisfying the Engine interface. EvalFunc,
// when set, maps argin/options (via the workspace map) the same way the
// real engine's peerexec expression would. If unset, Eval copies argin
// into argout unchanged.
type MockEngine struct {
	mu sync.Mutex

	OpenErr  error
	PutErr   error
	EvalErr  error
	GetErr   error
	CloseErr error

	OpenCount  int
	EvalCount  int
	LastCmd    string
	workspace  map[string][]byte
	EvalFunc   func(workspace map[string][]byte) error
}

// NewMockEngine returns a MockEngine with default success behavior.
func NewMockEngine() *MockEngine {
	return &MockEngine{workspace: make(map[string][]byte)}
}

func (m *MockEngine) Open(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastCmd = cmd
	m.OpenCount++
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.workspace = make(map[string][]byte)
	return nil
}

func (m *MockEngine) Put(name string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.workspace[name] = blob
	return nil
}

func (m *MockEngine) Eval(expr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EvalCount++
	if m.EvalErr != nil {
		return m.EvalErr
	}
	if m.EvalFunc != nil {
		return m.EvalFunc(m.workspace)
	}
	m.workspace[VarArgout] = m.workspace[VarArgin]
	return nil
}

func (m *MockEngine) Get(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	v, ok := m.workspace[name]
	if !ok {
		return nil, ErrNotOpen
	}
	return v, nil
}

func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseErr
}
