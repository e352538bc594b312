package transport

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// wrapDecompression wraps body in a decompressing reader according to the
// response's Content-Encoding header, providing transparent decompression.
func wrapDecompression(encoding string, body io.Reader) (io.Reader, error) {
	switch encoding {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return r, nil
	case "deflate":
		return flate.NewReader(body), nil
	case "br":
		return brotli.NewReader(body), nil
	case "", "identity":
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}
