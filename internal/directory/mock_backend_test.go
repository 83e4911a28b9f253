package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockBackend implements Backend for connection tests. Enumerate delivers
// the items returned by the expectation before returning its error.
type MockBackend struct {
	mock.Mock
	kind BackendKind
}

func (m *MockBackend) ResolveRoot(ctx context.Context) (*Info, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*Info)
	return info, args.Error(1)
}

func (m *MockBackend) Enumerate(ctx context.Context, req SearchRequest, fn Callback) error {
	args := m.Called(ctx, req)
	items, _ := args.Get(0).([]*Item)
	for _, item := range items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return args.Error(1)
}

func (m *MockBackend) InitWorker(ctx context.Context) (Backend, error) {
	args := m.Called(ctx)
	b, _ := args.Get(0).(Backend)
	return b, args.Error(1)
}

func (m *MockBackend) Kind() BackendKind {
	return m.kind
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

// countingFactory returns b from a factory and counts invocations.
type countingFactory struct {
	mu    sync.Mutex
	calls int
	b     Backend
	err   error
}

func (f *countingFactory) factory(context.Context) (Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.b, nil
}

func (f *countingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// treeEnumerator serves one-level enumerations from a parent -> children map.
type treeEnumerator struct {
	mu       sync.Mutex
	children map[string][]string
	requests []SearchRequest
	errOn    string
	err      error
}

func (e *treeEnumerator) Enumerate(_ context.Context, req SearchRequest, fn Callback) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if e.errOn != "" && strings.EqualFold(req.BaseDN, e.errOn) {
		return e.err
	}
	for _, dn := range e.children[req.BaseDN] {
		if err := fn(&Item{DistinguishedName: dn, Class: "organizationalunit"}); err != nil {
			return err
		}
	}
	return nil
}

func testInfo(domainDN string) *Info {
	return NewInfo(map[string][]string{
		"defaultNamingContext":       {domainDN},
		"configurationNamingContext": {"CN=Configuration," + domainDN},
		"schemaNamingContext":        {"CN=Schema,CN=Configuration," + domainDN},
		"rootDomainNamingContext":    {domainDN},
	})
}
