package exchange

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// SeqHeader carries the client's request sequence number.
const SeqHeader = "X-Seq-Id"

// SequenceMonitor flags out-of-order requests on the legacy HTTP tunnel. It
// is purely diagnostic and not safe for concurrent use; it is only touched
// from loop tasks.
type SequenceMonitor struct {
	last      int
	logger    *zap.Logger
	onAnomaly func()
}

// NewSequenceMonitor creates a monitor with no previous value. onAnomaly
// may be nil.
func NewSequenceMonitor(logger *zap.Logger, onAnomaly func()) *SequenceMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequenceMonitor{logger: logger, onAnomaly: onAnomaly}
}

// Observe records the sequence header value and reports whether it was out
// of order. Absent, zero and unparsable values are ignored. A value of 1 is
// a legitimate restart.
func (m *SequenceMonitor) Observe(header string) bool {
	v, err := strconv.ParseInt(strings.TrimSpace(header), 10, 32)
	if err != nil || v == 0 {
		return false
	}
	seq := int(v)

	anomaly := m.last != 0 && seq != m.last+1 && seq != 1
	if anomaly {
		m.logger.Warn("HTTP request out of order",
			zap.Int("seq_id", seq),
			zap.Int("last_seq_id", m.last),
		)
		if m.onAnomaly != nil {
			m.onAnomaly()
		}
	}
	m.last = seq
	return anomaly
}

// Last returns the last recorded sequence number, 0 if none.
func (m *SequenceMonitor) Last() int {
	return m.last
}
