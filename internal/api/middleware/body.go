package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const bodyKey = "tracebridge.body"

var (
	ErrBodyTooLarge        = errors.New("request body too large")
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
)

// BufferBody reads the full request body, decoding gzip or zstd
// Content-Encoding, and stores it for Body. Bodies larger than maxBytes,
// before or after decoding, are answered with 413.
func BufferBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := readBody(c.Writer, c.Request, maxBytes)
		if err != nil {
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "close")
			_ = c.Error(err)
			c.AbortWithStatus(bodyErrorStatus(err))
			return
		}
		c.Set(bodyKey, data)
		c.Next()
	}
}

// Body returns the buffered request body, or nil if BufferBody did not run.
func Body(c *gin.Context) []byte {
	if v, ok := c.Get(bodyKey); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return []byte{}, nil
	}
	defer r.Body.Close()

	raw := http.MaxBytesReader(w, r.Body, maxBytes)

	var src io.Reader
	switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		src = raw
	case "gzip":
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, classify(err)
		}
		defer zr.Close()
		src = zr
	case "zstd":
		zr, err := zstd.NewReader(raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, classify(err)
		}
		defer zr.Close()
		src = zr
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}

	data, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		return nil, classify(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func classify(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrBodyTooLarge
	}
	return fmt.Errorf("read request body: %w", err)
}

func bodyErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}
