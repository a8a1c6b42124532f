package exchange

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http/httputil"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracebridge/internal/domain/engine"
)

// recordingConn captures what the multiplexer writes.
type recordingConn struct {
	ws      bool
	raw     bytes.Buffer
	msgs    [][]byte
	flushes int
	closed  bool
	failOn  int // fail the Nth Send (1-based); 0 never
	sends   int
}

func (c *recordingConn) IsWebSocket() bool { return c.ws }

func (c *recordingConn) Send(p []byte) error {
	c.sends++
	if c.closed {
		return errors.New("closed")
	}
	if c.failOn > 0 && c.sends == c.failOn {
		return errors.New("broken pipe")
	}
	if c.ws {
		cp := make([]byte, len(p))
		copy(cp, p)
		c.msgs = append(c.msgs, cp)
		return nil
	}
	c.raw.Write(p)
	return nil
}

func (c *recordingConn) Flush() error { c.flushes++; return nil }
func (c *recordingConn) Close() error { c.closed = true; return nil }

type countingRecorder struct {
	chunks   int
	outcomes []Outcome
}

func (r *countingRecorder) ChunkSent(string, int) { r.chunks++ }
func (r *countingRecorder) ExchangeFinished(_ string, o Outcome, _ time.Duration) {
	r.outcomes = append(r.outcomes, o)
}

func dechunk(t *testing.T, raw []byte) []byte {
	t.Helper()
	out, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(raw)))
	require.NoError(t, err)
	return out
}

func TestChunkedFramingRoundTrip(t *testing.T) {
	batches := [][]byte{
		[]byte("hello "),
		bytes.Repeat([]byte{0xAB}, 4097),
		[]byte("world"),
	}
	conn := &recordingConn{}
	rec := &countingRecorder{}
	mux := NewMux(nil, rec)

	ex := mux.Begin(conn)
	for i, b := range batches {
		require.NoError(t, ex.SendBatch(b, i < len(batches)-1))
	}
	require.NoError(t, ex.Finish())
	ex.Release()

	raw := conn.raw.Bytes()
	assert.True(t, strings.HasPrefix(string(raw), "6\r\nhello \r\n1001\r\n"))
	assert.Equal(t, bytes.Join(batches, nil), dechunk(t, raw))
	assert.Equal(t, 1, strings.Count(string(raw), "0\r\n\r\n"))
	assert.True(t, bytes.HasSuffix(raw, terminalChunk))
	assert.Equal(t, 3, rec.chunks)
	assert.Equal(t, []Outcome{OutcomeOK}, rec.outcomes)
	assert.False(t, mux.Busy())
}

func TestTerminalChunkNotPremature(t *testing.T) {
	conn := &recordingConn{}
	mux := NewMux(nil, nil)

	ex := mux.Begin(conn)
	defer ex.Release()

	require.NoError(t, ex.SendBatch([]byte("a"), true))
	assert.NotContains(t, conn.raw.String(), "0\r\n\r\n")

	// Empty payloads must not be mistaken for the terminator.
	require.NoError(t, ex.Send([]byte{}))
	assert.NotContains(t, conn.raw.String(), "0\r\n\r\n")

	require.NoError(t, ex.SendBatch([]byte("b"), false))
	require.NoError(t, ex.Finish())
	assert.Equal(t, 1, strings.Count(conn.raw.String(), "0\r\n\r\n"))
	assert.Equal(t, "ab", string(dechunk(t, conn.raw.Bytes())))
}

func TestFinishTerminatesOpenExchange(t *testing.T) {
	conn := &recordingConn{}
	mux := NewMux(nil, nil)

	ex := mux.Begin(conn)
	require.NoError(t, ex.Send([]byte("payload")))
	require.NoError(t, ex.Finish())
	require.NoError(t, ex.Finish())
	ex.Release()

	assert.Equal(t, "7\r\npayload\r\n0\r\n\r\n", conn.raw.String())
	assert.False(t, conn.closed)
}

func TestNilChunkFailsHTTPExchange(t *testing.T) {
	conn := &recordingConn{}
	rec := &countingRecorder{}
	mux := NewMux(nil, rec)

	ex := mux.Begin(conn)
	require.NoError(t, ex.Send([]byte("one")))

	err := ex.Send(nil)
	assert.ErrorIs(t, err, engine.ErrAborted)
	assert.True(t, conn.closed)
	assert.True(t, ex.Terminated())
	assert.Equal(t, OutcomeFailed, ex.Outcome())

	written := conn.raw.Len()
	assert.ErrorIs(t, ex.Send([]byte("two")), ErrExchangeClosed)
	assert.ErrorIs(t, ex.SendBatch([]byte("three"), false), ErrExchangeClosed)
	require.NoError(t, ex.Finish())
	assert.Equal(t, written, conn.raw.Len(), "nothing may follow a failure")

	ex.Release()
	assert.Equal(t, "3\r\none\r\n0\r\n\r\n", conn.raw.String())
	assert.Equal(t, []Outcome{OutcomeFailed}, rec.outcomes)
	assert.False(t, mux.Busy())
}

func TestNilBatchFailsQueryExchange(t *testing.T) {
	conn := &recordingConn{}
	mux := NewMux(nil, nil)

	ex := mux.Begin(conn)
	defer ex.Release()

	require.NoError(t, ex.SendBatch([]byte("x"), true))
	assert.ErrorIs(t, ex.SendBatch(nil, true), engine.ErrAborted)
	assert.Equal(t, 1, strings.Count(conn.raw.String(), "0\r\n\r\n"))
	assert.True(t, conn.closed)
}

func TestWebSocketFraming(t *testing.T) {
	conn := &recordingConn{ws: true}
	mux := NewMux(nil, nil)

	ex := mux.Begin(conn)
	require.NoError(t, ex.Send([]byte("first")))
	require.NoError(t, ex.Send([]byte{}))
	require.NoError(t, ex.Send([]byte("second")))
	require.NoError(t, ex.Finish())
	ex.Release()

	assert.Equal(t, [][]byte{[]byte("first"), {}, []byte("second")}, conn.msgs)
	assert.Zero(t, conn.raw.Len())
	assert.False(t, conn.closed)
	assert.Equal(t, 3, ex.Chunks())
}

func TestNilChunkClosesWebSocket(t *testing.T) {
	conn := &recordingConn{ws: true}
	mux := NewMux(nil, nil)

	ex := mux.Begin(conn)
	assert.ErrorIs(t, ex.Send(nil), engine.ErrAborted)
	ex.Release()

	assert.True(t, conn.closed)
	assert.Empty(t, conn.msgs)
}

func TestWriteFailureAbortsExchange(t *testing.T) {
	conn := &recordingConn{failOn: 2}
	rec := &countingRecorder{}
	mux := NewMux(nil, rec)

	ex := mux.Begin(conn)
	err := ex.Send([]byte("data"))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrAborted)
	assert.True(t, conn.closed)
	assert.Equal(t, OutcomeAborted, ex.Outcome())

	assert.ErrorIs(t, ex.Send([]byte("more")), ErrExchangeClosed)
	ex.Release()
	assert.Equal(t, []Outcome{OutcomeAborted}, rec.outcomes)
}

func TestSecondExchangeWhileActivePanics(t *testing.T) {
	mux := NewMux(nil, nil)

	first := mux.Begin(&recordingConn{})
	assert.True(t, mux.Busy())
	assert.PanicsWithValue(t, ErrExchangeInFlight, func() {
		mux.Begin(&recordingConn{ws: true})
	})

	first.Release()
	first.Release()
	assert.False(t, mux.Busy())

	second := mux.Begin(&recordingConn{})
	second.Release()
}

func TestHTTPConnWritesHeadAndBody(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := NewHTTPConn(server, nil)

	go func() {
		h := make(map[string][]string)
		h["Transfer-Encoding"] = []string{"chunked"}
		h["Content-Type"] = []string{"application/x-protobuf"}
		_ = conn.WriteHead(200, h)

		mux := NewMux(nil, nil)
		ex := mux.Begin(conn)
		_ = ex.SendBatch([]byte("abc"), false)
		ex.Release()
		_ = conn.Close()
	}()

	raw, err := io.ReadAll(bufio.NewReader(client))
	require.NoError(t, err)
	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-Type: application/x-protobuf\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
		string(raw))

	assert.ErrorIs(t, conn.Send([]byte("late")), net.ErrClosed)
}
