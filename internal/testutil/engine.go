// Package testutil provides engine doubles for handler and transport tests.
package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/tracebridge/internal/domain/engine"
)

// Call records one engine invocation.
type Call struct {
	Method  string
	Payload []byte
}

// FakeEngine is a scripted engine.Engine. Configure the exported fields
// before use; they are read under the engine's lock.
type FakeEngine struct {
	mu sync.Mutex

	StatusBytes    []byte
	ParseErr       error
	MetricBytes    []byte
	MetatraceBytes []byte
	// Err is returned by every non-streaming operation except Parse.
	Err error

	// RPCChunks are sent in order by OnRPCRequest. A nil entry is the
	// unrecoverable-failure signal and stops the script.
	RPCChunks [][]byte
	// QueryBatches are sent in order by Query, the last with hasMore=false.
	QueryBatches [][]byte
	// QueryFails makes Query signal failure after its batches.
	QueryFails bool

	// Gate, when set, is received from before OnRPCRequest produces output.
	Gate chan struct{}
	// Started, when set, is signalled as OnRPCRequest begins.
	Started chan struct{}

	calls []Call
}

var _ engine.Engine = (*FakeEngine)(nil)

// NewFakeEngine returns an engine that answers RPCs with one chunk and
// queries with a single final batch.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		StatusBytes:  []byte("status"),
		RPCChunks:    [][]byte{[]byte("rpc-response")},
		QueryBatches: [][]byte{[]byte("batch")},
	}
}

func (f *FakeEngine) record(method string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Payload: append([]byte(nil), payload...)})
}

// Calls returns a copy of the recorded invocations.
func (f *FakeEngine) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Methods returns the recorded method names in order.
func (f *FakeEngine) Methods() []string {
	calls := f.Calls()
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Method
	}
	return names
}

// script is a consistent copy of the configurable fields.
type script struct {
	statusBytes    []byte
	parseErr       error
	metricBytes    []byte
	metatraceBytes []byte
	err            error
	rpcChunks      [][]byte
	queryBatches   [][]byte
	queryFails     bool
	gate           chan struct{}
	started        chan struct{}
}

func (f *FakeEngine) snapshot() script {
	f.mu.Lock()
	defer f.mu.Unlock()
	return script{
		statusBytes:    f.StatusBytes,
		parseErr:       f.ParseErr,
		metricBytes:    f.MetricBytes,
		metatraceBytes: f.MetatraceBytes,
		err:            f.Err,
		rpcChunks:      f.RPCChunks,
		queryBatches:   f.QueryBatches,
		queryFails:     f.QueryFails,
		gate:           f.Gate,
		started:        f.Started,
	}
}

func (f *FakeEngine) OnRPCRequest(ctx context.Context, req []byte, respond engine.ResponseFunc) error {
	f.record("OnRPCRequest", req)
	s := f.snapshot()
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, chunk := range s.rpcChunks {
		if err := respond(chunk); err != nil {
			return err
		}
		if chunk == nil {
			return nil
		}
	}
	return nil
}

func (f *FakeEngine) Status(ctx context.Context) ([]byte, error) {
	f.record("Status", nil)
	s := f.snapshot()
	return s.statusBytes, s.err
}

func (f *FakeEngine) Parse(ctx context.Context, data []byte) error {
	f.record("Parse", data)
	return f.snapshot().parseErr
}

func (f *FakeEngine) NotifyEndOfFile(ctx context.Context) error {
	f.record("NotifyEndOfFile", nil)
	return f.snapshot().err
}

func (f *FakeEngine) RestoreInitialTables(ctx context.Context) error {
	f.record("RestoreInitialTables", nil)
	return f.snapshot().err
}

func (f *FakeEngine) Query(ctx context.Context, req []byte, onBatch engine.QueryFunc) error {
	f.record("Query", req)
	s := f.snapshot()
	for i, batch := range s.queryBatches {
		hasMore := i < len(s.queryBatches)-1 || s.queryFails
		if err := onBatch(batch, hasMore); err != nil {
			return err
		}
	}
	if s.queryFails {
		return onBatch(nil, false)
	}
	return nil
}

func (f *FakeEngine) ComputeMetric(ctx context.Context, req []byte) ([]byte, error) {
	f.record("ComputeMetric", req)
	s := f.snapshot()
	return s.metricBytes, s.err
}

func (f *FakeEngine) EnableMetatrace(ctx context.Context) error {
	f.record("EnableMetatrace", nil)
	return f.snapshot().err
}

func (f *FakeEngine) DisableAndReadMetatrace(ctx context.Context) ([]byte, error) {
	f.record("DisableAndReadMetatrace", nil)
	s := f.snapshot()
	return s.metatraceBytes, s.err
}

// MockEngine is a testify mock of engine.Engine for expectation-style tests.
// Streaming methods return the mocked error without calling the sink unless
// a Run hook does so.
type MockEngine struct {
	mock.Mock
}

var _ engine.Engine = (*MockEngine)(nil)

func bytesArg(args mock.Arguments, i int) []byte {
	if args.Get(i) == nil {
		return nil
	}
	return args.Get(i).([]byte)
}

func (m *MockEngine) OnRPCRequest(ctx context.Context, req []byte, respond engine.ResponseFunc) error {
	return m.Called(ctx, req, respond).Error(0)
}

func (m *MockEngine) Status(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	return bytesArg(args, 0), args.Error(1)
}

func (m *MockEngine) Parse(ctx context.Context, data []byte) error {
	return m.Called(ctx, data).Error(0)
}

func (m *MockEngine) NotifyEndOfFile(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) RestoreInitialTables(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) Query(ctx context.Context, req []byte, onBatch engine.QueryFunc) error {
	return m.Called(ctx, req, onBatch).Error(0)
}

func (m *MockEngine) ComputeMetric(ctx context.Context, req []byte) ([]byte, error) {
	args := m.Called(ctx, req)
	return bytesArg(args, 0), args.Error(1)
}

func (m *MockEngine) EnableMetatrace(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) DisableAndReadMetatrace(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	return bytesArg(args, 0), args.Error(1)
}
