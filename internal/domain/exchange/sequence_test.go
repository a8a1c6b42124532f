package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSequenceMonitor(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		warnings int
	}{
		{name: "in order", headers: []string{"1", "2", "3"}, warnings: 0},
		{name: "gap", headers: []string{"1", "3"}, warnings: 1},
		{name: "restart", headers: []string{"1", "1"}, warnings: 0},
		{name: "restart after run", headers: []string{"1", "2", "3", "1", "2"}, warnings: 0},
		{name: "backwards", headers: []string{"5", "4"}, warnings: 1},
		{name: "first value arbitrary", headers: []string{"42", "43"}, warnings: 0},
		{name: "absent and zero ignored", headers: []string{"1", "", "0", "2"}, warnings: 0},
		{name: "garbage ignored", headers: []string{"1", "abc", "2"}, warnings: 0},
		{name: "two gaps", headers: []string{"1", "3", "7"}, warnings: 2},
		{name: "whitespace tolerated", headers: []string{" 1", "2 "}, warnings: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			anomalies := 0
			m := NewSequenceMonitor(zap.New(core), func() { anomalies++ })

			for _, h := range tt.headers {
				m.Observe(h)
			}

			assert.Equal(t, tt.warnings, logs.FilterMessage("HTTP request out of order").Len())
			assert.Equal(t, tt.warnings, anomalies)
		})
	}
}

func TestSequenceMonitorTracksLast(t *testing.T) {
	m := NewSequenceMonitor(nil, nil)
	assert.Zero(t, m.Last())

	assert.False(t, m.Observe("7"))
	assert.Equal(t, 7, m.Last())

	assert.True(t, m.Observe("9"))
	assert.Equal(t, 9, m.Last())

	assert.False(t, m.Observe(""))
	assert.Equal(t, 9, m.Last())
}
