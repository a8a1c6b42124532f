package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of QueryBatch.
const (
	fieldBatchData    protowire.Number = 1
	fieldBatchHasMore protowire.Number = 2
)

// QueryBatch is one message of the engine query stream: an opaque result
// batch and whether more batches follow.
type QueryBatch struct {
	Data    []byte
	HasMore bool
}

// Marshal encodes q. Data is always written so an empty batch is explicit.
func (q QueryBatch) Marshal() []byte {
	b := protowire.AppendTag(nil, fieldBatchData, protowire.BytesType)
	b = protowire.AppendBytes(b, q.Data)
	if q.HasMore {
		b = protowire.AppendTag(b, fieldBatchHasMore, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// UnmarshalQueryBatch decodes b, skipping unknown fields. The returned Data
// is never nil.
func UnmarshalQueryBatch(b []byte) (QueryBatch, error) {
	q := QueryBatch{Data: []byte{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return q, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldBatchData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return q, fmt.Errorf("%w: data: %v", ErrMalformed, protowire.ParseError(n))
			}
			q.Data = append([]byte{}, v...)
			b = b[n:]
		case num == fieldBatchHasMore && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return q, fmt.Errorf("%w: has_more: %v", ErrMalformed, protowire.ParseError(n))
			}
			q.HasMore = protowire.DecodeBool(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return q, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return q, nil
}
