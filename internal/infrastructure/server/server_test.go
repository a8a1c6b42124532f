package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/tracebridge/internal/domain/exchange"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracebridge/internal/testutil"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Logging.Development = true
	return cfg
}

type running struct {
	srv      *Server
	base     string
	cancel   context.CancelFunc
	done     chan error
	finished chan struct{}
}

func start(t *testing.T, cfg *config.Config, logger *logging.Logger, fake *testutil.FakeEngine) *running {
	t.Helper()
	srv, err := New(cfg, logger, WithEngine(fake))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- srv.Serve(ctx)
		close(finished)
	}()

	r := &running{srv: srv, base: "http://" + srv.Addr().String(), cancel: cancel, done: done, finished: finished}
	t.Cleanup(r.stop)
	return r
}

func (r *running) stop() {
	r.cancel()
	select {
	case <-r.finished:
	case <-time.After(5 * time.Second):
	}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServeEndToEnd(t *testing.T) {
	fake := testutil.NewFakeEngine()
	r := start(t, testConfig(), nil, fake)

	_, body := get(t, r.base+"/")
	assert.Contains(t, body, "Perfetto Trace Processor RPC Server")

	resp, err := http.Post(r.base+"/rpc", "application/x-protobuf", strings.NewReader("req"))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "rpc-response", string(data))
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	resp, err = http.Post(r.base+"/status", "application/x-protobuf", nil)
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "status", string(data))

	assert.Equal(t, []string{"OnRPCRequest", "Status"}, fake.Methods())
}

func TestCORSPreflightAndOrigin(t *testing.T) {
	r := start(t, testConfig(), nil, testutil.NewFakeEngine())

	req, err := http.NewRequest(http.MethodOptions, r.base+"/rpc", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.perfetto.dev")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://ui.perfetto.dev", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Seq-Id")
}

func TestSequenceAnomaliesCounted(t *testing.T) {
	r := start(t, testConfig(), nil, testutil.NewFakeEngine())

	for _, seq := range []string{"1", "2", "5"} {
		req, err := http.NewRequest(http.MethodPost, r.base+"/status", nil)
		require.NoError(t, err)
		req.Header.Set(exchange.SeqHeader, seq)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	w := httptest.NewRecorder()
	r.srv.Metrics().Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "tracebridge_sequence_anomalies_total 1")
}

func TestMetricsListener(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Address = "127.0.0.1:0"
	r := start(t, cfg, nil, testutil.NewFakeEngine())
	require.NotNil(t, r.srv.MetricsAddr())

	_, _ = get(t, r.base+"/nope")

	resp, body := get(t, "http://"+r.srv.MetricsAddr().String()+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `tracebridge_http_requests_total{method="GET",path="unmatched",status="404"} 1`)
}

func TestShutdownWaitsForExchange(t *testing.T) {
	fake := testutil.NewFakeEngine()
	fake.Gate = make(chan struct{})
	fake.Started = make(chan struct{}, 1)
	r := start(t, testConfig(), nil, fake)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Post(r.base+"/rpc", "application/x-protobuf", strings.NewReader("req"))
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		got <- result{body: string(b), err: err}
	}()
	<-fake.Started

	r.cancel()
	time.Sleep(50 * time.Millisecond)
	close(fake.Gate)

	res := <-got
	require.NoError(t, res.err)
	assert.Equal(t, "rpc-response", res.body)

	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestInvalidPortFallsBack(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig()
	cfg.Server.Port = "not-a-port"

	srv, err := New(cfg, &logging.Logger{Logger: zap.New(core)}, WithEngine(testutil.NewFakeEngine()))
	require.NoError(t, err)
	defer srv.Close()

	assert.Equal(t, config.DefaultPort, srv.Port())
	assert.Equal(t, 1, logs.FilterMessage("Invalid port, using default").Len())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Address = ""
	_, err := New(cfg, nil, WithEngine(testutil.NewFakeEngine()))
	require.Error(t, err)
}

func TestListenTwice(t *testing.T) {
	srv, err := New(testConfig(), nil, WithEngine(testutil.NewFakeEngine()))
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.Listen())
	assert.ErrorIs(t, srv.Listen(), ErrAlreadyListening)
}

func TestListenUsesConfiguredHost(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	srv, err := New(cfg, nil, WithEngine(testutil.NewFakeEngine()))
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.Listen())
	host, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.ListenAddr())
}

func TestShutdownClosesWebSockets(t *testing.T) {
	r := start(t, testConfig(), nil, testutil.NewFakeEngine())

	header := http.Header{}
	header.Set("Origin", "https://ui.perfetto.dev")
	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial("ws"+strings.TrimPrefix(r.base, "http")+"/websocket", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("req")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "rpc-response", string(data))

	r.cancel()
	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
