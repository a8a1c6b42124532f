package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracebridge/internal/domain/engine"
	"github.com/GriffinCanCode/tracebridge/internal/shared/id"
)

// ErrExchangeClosed is returned by sends on an exchange that has already
// terminated.
var ErrExchangeClosed = errors.New("exchange: closed")

// terminalChunk ends a chunked HTTP body.
var terminalChunk = []byte("0\r\n\r\n")

var crlf = []byte("\r\n")

// Outcome labels how an exchange ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"  // engine signalled an unrecoverable error
	OutcomeAborted Outcome = "aborted" // the client connection failed
)

// Transport labels.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Recorder receives multiplexer telemetry.
type Recorder interface {
	ChunkSent(transport string, size int)
	ExchangeFinished(transport string, outcome Outcome, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ChunkSent(string, int)                            {}
func (nopRecorder) ExchangeFinished(string, Outcome, time.Duration) {}

// Mux frames engine output for the transport of the current exchange and
// owns the single active-exchange slot.
type Mux struct {
	slot     Slot
	recorder Recorder
	logger   *zap.Logger
}

// NewMux creates a multiplexer. recorder may be nil.
func NewMux(logger *zap.Logger, recorder Recorder) *Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Mux{recorder: recorder, logger: logger}
}

// Busy reports whether an exchange is in progress.
func (m *Mux) Busy() bool {
	return m.slot.Busy()
}

// Begin starts an exchange on conn. It panics with ErrExchangeInFlight when
// another exchange has not been released. Callers must defer Release.
func (m *Mux) Begin(conn Conn) *Exchange {
	m.slot.Acquire()
	transport := TransportHTTP
	if conn.IsWebSocket() {
		transport = TransportWebSocket
	}
	return &Exchange{
		id:        id.NewExchangeID(),
		mux:       m,
		conn:      conn,
		transport: transport,
		start:     time.Now(),
		outcome:   OutcomeOK,
	}
}

// Exchange is one in-flight response. It is the scoped guard over the mux
// slot; Release frees the slot on every exit path.
type Exchange struct {
	id        id.ExchangeID
	mux       *Mux
	conn      Conn
	transport string
	start     time.Time

	terminated bool
	released   bool
	outcome    Outcome
	chunks     int
	bytes      int64
}

func (e *Exchange) ID() id.ExchangeID { return e.id }

// Chunks returns the number of payload chunks written so far.
func (e *Exchange) Chunks() int { return e.chunks }

// Terminated reports whether the exchange has ended on the wire.
func (e *Exchange) Terminated() bool { return e.terminated }

// Outcome reports how the exchange ended so far.
func (e *Exchange) Outcome() Outcome { return e.outcome }

// Send forwards one tunnel chunk. It has the shape of engine.ResponseFunc.
// A nil chunk terminates the exchange and closes the connection.
func (e *Exchange) Send(chunk []byte) error {
	if e.terminated {
		return ErrExchangeClosed
	}
	if chunk == nil {
		e.fail()
		return engine.ErrAborted
	}
	return e.write(chunk)
}

// SendBatch forwards one query batch. It has the shape of engine.QueryFunc.
// The final batch (hasMore false) is followed by the terminal chunk.
func (e *Exchange) SendBatch(batch []byte, hasMore bool) error {
	if e.terminated {
		return ErrExchangeClosed
	}
	if batch == nil {
		e.fail()
		return engine.ErrAborted
	}
	e.mux.logger.Debug("Sending response chunk",
		zap.String("exchange_id", e.id.String()),
		zap.Int("len", len(batch)),
		zap.Bool("eof", !hasMore),
	)
	if err := e.write(batch); err != nil {
		return err
	}
	if !hasMore {
		return e.terminate()
	}
	return nil
}

// Finish ends the exchange if the engine left it open. On HTTP this writes
// the terminal chunk; on WebSocket there is nothing to write.
func (e *Exchange) Finish() error {
	if e.terminated {
		return nil
	}
	return e.terminate()
}

// Release frees the active-exchange slot. It is idempotent.
func (e *Exchange) Release() {
	if e.released {
		return
	}
	e.released = true
	e.mux.slot.Release()
	e.mux.recorder.ExchangeFinished(e.transport, e.outcome, time.Since(e.start))
}

func (e *Exchange) write(p []byte) error {
	var err error
	if e.conn.IsWebSocket() {
		err = e.conn.Send(p)
	} else {
		// An empty chunk would read as the terminal chunk.
		if len(p) == 0 {
			return nil
		}
		err = e.writeHTTPChunk(p)
	}
	if err != nil {
		e.abort(err)
		return fmt.Errorf("%w: %w", engine.ErrAborted, err)
	}
	e.chunks++
	e.bytes += int64(len(p))
	e.mux.recorder.ChunkSent(e.transport, len(p))
	return nil
}

func (e *Exchange) writeHTTPChunk(p []byte) error {
	hdr := strconv.AppendInt(make([]byte, 0, 18), int64(len(p)), 16)
	hdr = append(hdr, crlf...)
	if err := e.conn.Send(hdr); err != nil {
		return err
	}
	if err := e.conn.Send(p); err != nil {
		return err
	}
	if err := e.conn.Send(crlf); err != nil {
		return err
	}
	return e.conn.Flush()
}

func (e *Exchange) terminate() error {
	e.terminated = true
	if e.conn.IsWebSocket() {
		return nil
	}
	if err := e.conn.Send(terminalChunk); err != nil {
		e.abort(err)
		return err
	}
	if err := e.conn.Flush(); err != nil {
		e.abort(err)
		return err
	}
	return nil
}

// fail handles the unrecoverable engine error: terminal chunk on HTTP, then
// close regardless of transport.
func (e *Exchange) fail() {
	e.terminated = true
	e.outcome = OutcomeFailed
	if !e.conn.IsWebSocket() {
		if err := e.conn.Send(terminalChunk); err == nil {
			_ = e.conn.Flush()
		}
	}
	if err := e.conn.Close(); err != nil {
		e.mux.logger.Debug("close after rpc failure", zap.Error(err))
	}
	e.mux.logger.Warn("Unrecoverable RPC error, connection closed",
		zap.String("exchange_id", e.id.String()),
		zap.String("transport", e.transport),
	)
}

func (e *Exchange) abort(err error) {
	e.terminated = true
	e.outcome = OutcomeAborted
	_ = e.conn.Close()
	e.mux.logger.Info("Client connection lost mid-exchange",
		zap.String("exchange_id", e.id.String()),
		zap.String("transport", e.transport),
		zap.Error(err),
	)
}
