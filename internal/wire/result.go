// Package wire encodes the small protobuf messages the front end produces
// itself, plus the batch envelope of the engine query stream. Everything
// else on the wire is opaque engine output.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of AppendTraceDataResult.
const (
	fieldTotalBytesParsed protowire.Number = 1
	fieldError            protowire.Number = 2
)

var ErrMalformed = errors.New("wire: malformed message")

// AppendTraceDataResult is the /parse response body.
type AppendTraceDataResult struct {
	TotalBytesParsed *int64
	Error            string
}

// Marshal encodes r. An empty result encodes to zero bytes.
func (r AppendTraceDataResult) Marshal() []byte {
	var b []byte
	if r.TotalBytesParsed != nil {
		b = protowire.AppendTag(b, fieldTotalBytesParsed, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*r.TotalBytesParsed))
	}
	if r.Error != "" {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, r.Error)
	}
	return b
}

// UnmarshalAppendTraceDataResult decodes b, skipping unknown fields.
func UnmarshalAppendTraceDataResult(b []byte) (AppendTraceDataResult, error) {
	var r AppendTraceDataResult
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTotalBytesParsed && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("%w: total_bytes_parsed: %v", ErrMalformed, protowire.ParseError(n))
			}
			parsed := int64(v)
			r.TotalBytesParsed = &parsed
			b = b[n:]
		case num == fieldError && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("%w: error: %v", ErrMalformed, protowire.ParseError(n))
			}
			r.Error = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}
