package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEmptyResultEncodesToNothing(t *testing.T) {
	assert.Empty(t, AppendTraceDataResult{}.Marshal())

	r, err := UnmarshalAppendTraceDataResult(nil)
	require.NoError(t, err)
	assert.Empty(t, r.Error)
	assert.Nil(t, r.TotalBytesParsed)
}

func TestErrorFieldLayout(t *testing.T) {
	b := AppendTraceDataResult{Error: "bad"}.Marshal()
	// field 2, wire type 2 => tag 0x12
	assert.Equal(t, []byte{0x12, 0x03, 'b', 'a', 'd'}, b)

	r, err := UnmarshalAppendTraceDataResult(b)
	require.NoError(t, err)
	assert.Equal(t, "bad", r.Error)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")
	b = protowire.AppendTag(b, fieldTotalBytesParsed, protowire.VarintType)
	b = protowire.AppendVarint(b, 1024)
	b = protowire.AppendTag(b, fieldError, protowire.BytesType)
	b = protowire.AppendString(b, "oops")

	r, err := UnmarshalAppendTraceDataResult(b)
	require.NoError(t, err)
	require.NotNil(t, r.TotalBytesParsed)
	assert.EqualValues(t, 1024, *r.TotalBytesParsed)
	assert.Equal(t, "oops", r.Error)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := UnmarshalAppendTraceDataResult([]byte{0x12, 0x05, 'a'})
	assert.ErrorIs(t, err, ErrMalformed)
}
