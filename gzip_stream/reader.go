package gzip_stream

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/turbot/tailpipe-firehose-processor/constants"
)

// ErrDecode is matched (with errors.Is) by every error caused by malformed or truncated compressed input
var ErrDecode = errors.New("gzip decode error")

// DecodeError reports a failure to decompress the source, along with the number of
// decoded bytes which had been produced before the failure
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gzip decode failed after %d bytes: %s", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Reader exposes a gzip compressed source as a lazy, pull-based byte sequence.
// Decompression happens a chunk at a time as bytes are pulled, the whole payload is never materialized.
//
// Exhaustion is signalled with io.EOF. Malformed input is signalled with a *DecodeError.
// A source which is empty is exhausted rather than malformed.
type Reader struct {
	src       io.Reader
	chunkSize int

	gz      *gzip.Reader
	buf     []byte
	pos     int
	decoded int64
	// sticky error, returned once buffered bytes are drained
	err error
}

type Option func(*Reader)

// WithChunkSize sets the maximum number of bytes decompressed per pull
func WithChunkSize(size int) Option {
	return func(r *Reader) {
		if size > 0 {
			r.chunkSize = size
		}
	}
}

func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		src:       src,
		chunkSize: constants.DefaultGzipChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadByte implements io.ByteReader
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.pos >= len(r.buf) {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// Next returns the next decoded byte, or false once the stream is exhausted or has failed.
// After Next returns false, Err reports the failure (nil for a clean end of stream).
func (r *Reader) Next() (byte, bool) {
	b, err := r.ReadByte()
	return b, err == nil
}

// Err returns the decode error which ended the stream, or nil if the stream ended cleanly or is still open
func (r *Reader) Err() error {
	if r.err == io.EOF {
		return nil
	}
	return r.err
}

// Decoded returns the number of decompressed bytes produced so far
func (r *Reader) Decoded() int64 {
	return r.decoded
}

func (r *Reader) Close() error {
	if r.gz == nil {
		return nil
	}
	return r.gz.Close()
}

// fill decompresses the next chunk into the buffer
func (r *Reader) fill() error {
	for {
		if r.err != nil {
			return r.err
		}
		if r.gz == nil {
			gz, err := gzip.NewReader(r.src)
			if err != nil {
				r.err = r.decodeError(err)
				return r.err
			}
			r.gz = gz
		}
		if r.buf == nil {
			r.buf = make([]byte, r.chunkSize)
		}

		n, err := r.gz.Read(r.buf[:r.chunkSize])
		r.buf = r.buf[:n]
		r.pos = 0
		r.decoded += int64(n)
		if err != nil {
			r.err = r.decodeError(err)
		}
		if n > 0 {
			return nil
		}
		// a zero byte read with no error is legal - pull again
	}
}

func (r *Reader) decodeError(err error) error {
	// an empty source is exhausted, not malformed
	if err == io.EOF {
		return io.EOF
	}
	return &DecodeError{Offset: r.decoded, Err: err}
}
