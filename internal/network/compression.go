// File: internal/network/compression.go
package network

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on every request that does not set its own.
const AcceptEncoding = "br, gzip, deflate"

var (
	gzipReaderPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() any { return brotli.NewReader(nil) },
	}
	emptyReader = strings.NewReader("")
)

// CompressionMiddleware is an http.RoundTripper that negotiates compressed
// responses and transparently decodes gzip, deflate (zlib or raw) and brotli
// bodies for the caller.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport, defaulting to http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		// RoundTrippers must not mutate the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", AcceptEncoding)
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// decodedBody closes the decoder and the wrapped body, and returns pooled
// readers exactly once.
type decodedBody struct {
	io.Reader
	decoder io.Closer
	inner   io.ReadCloser
	release func()
}

func (b *decodedBody) Close() error {
	var errDecoder error
	if b.decoder != nil {
		errDecoder = b.decoder.Close()
	}
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(errDecoder, b.inner.Close())
}

// DecompressResponse wraps resp.Body with decoders for every Content-Encoding
// layer, undoing them in reverse order of application. On success the
// encoding and length headers are removed and resp.Uncompressed is set. On
// error the body may be partially consumed and must be discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	var layers []string
	for _, v := range resp.Header.Values("Content-Encoding") {
		for _, part := range strings.Split(v, ",") {
			if enc := strings.ToLower(strings.TrimSpace(part)); enc != "" && enc != "identity" {
				layers = append(layers, enc)
			}
		}
	}
	if len(layers) == 0 {
		return nil
	}

	for i := len(layers) - 1; i >= 0; i-- {
		body, err := wrapDecoder(layers[i], resp.Body)
		if err != nil {
			return err
		}
		resp.Body = body
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func wrapDecoder(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(body); err != nil {
			gzipReaderPool.Put(zr)
			return nil, fmt.Errorf("gzip initialization error: %w", err)
		}
		return &decodedBody{Reader: zr, decoder: zr, inner: body, release: func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		}}, nil

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(body); err != nil {
			brotliReaderPool.Put(br)
			return nil, fmt.Errorf("brotli initialization error: %w", err)
		}
		return &decodedBody{Reader: br, inner: body, release: func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		}}, nil

	case "deflate":
		rc, err := newDeflateReader(body)
		if err != nil {
			return nil, fmt.Errorf("deflate initialization error: %w", err)
		}
		return &decodedBody{Reader: rc, decoder: rc, inner: body}, nil

	default:
		return nil, fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
	}
}

// newDeflateReader accepts both zlib-wrapped (RFC 1950) and raw (RFC 1951)
// deflate streams, since servers disagree on what "deflate" means.
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(r)
	header, err := buffered.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(header) == 2 && header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
		return zlib.NewReader(buffered)
	}
	return flate.NewReader(buffered), nil
}
