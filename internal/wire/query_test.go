package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestQueryBatchLayout(t *testing.T) {
	tests := []struct {
		name  string
		batch QueryBatch
		want  []byte
	}{
		{name: "final", batch: QueryBatch{Data: []byte("ab")}, want: []byte{0x0a, 0x02, 'a', 'b'}},
		{name: "more", batch: QueryBatch{Data: []byte("ab"), HasMore: true}, want: []byte{0x0a, 0x02, 'a', 'b', 0x10, 0x01}},
		{name: "empty final", batch: QueryBatch{}, want: []byte{0x0a, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.batch.Marshal())
		})
	}
}

func TestQueryBatchDecodeNeverNil(t *testing.T) {
	for _, b := range [][]byte{nil, {0x0a, 0x00}, {0x10, 0x01}} {
		q, err := UnmarshalQueryBatch(b)
		require.NoError(t, err)
		assert.NotNil(t, q.Data)
		assert.Empty(t, q.Data)
	}
}

func TestQueryBatchDecodeSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)
	b = append(b, QueryBatch{Data: []byte("rows"), HasMore: true}.Marshal()...)

	q, err := UnmarshalQueryBatch(b)
	require.NoError(t, err)
	assert.Equal(t, "rows", string(q.Data))
	assert.True(t, q.HasMore)
}

func TestQueryBatchDecodeTruncated(t *testing.T) {
	_, err := UnmarshalQueryBatch([]byte{0x0a, 0x04, 'a'})
	assert.ErrorIs(t, err, ErrMalformed)
}
