package httpcore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/corewire/httpd/internal/netx"
)

// -----------------------------------------------------------------------------
// Sentinel errors
// -----------------------------------------------------------------------------
var (
	ErrBodyTooLarge      = errors.New("httpcore: body too large")
	ErrBadChunk          = errors.New("httpcore: invalid chunk encoding")
	ErrLengthMismatch    = errors.New("httpcore: content-length mismatch")
	ErrUnexpectedTrailer = errors.New("httpcore: unexpected trailer")
)

// BodyConfig controls body-reader construction policy. The small-body
// eager-drain threshold and the per-message byte cap are configuration
// rather than hard-coded constants (the design notes' open question).
type BodyConfig struct {
	// SmallBodyThreshold: Length(n) bodies with n at or below this bound are
	// read fully into memory when the body reader is built (the first
	// Request.AsReader call, or Request.Close for a body nobody read),
	// provided NewBodyReader is told no 100-continue is pending. ParseRequest
	// itself never reads the body, and the next pipelined request is not
	// parsed until Request.Close releases the read slot.
	SmallBodyThreshold int64
	// MaxBodySize bounds any single body read, 0 disables the cap.
	MaxBodySize int64
}

// DefaultBodyConfig matches the values referenced in the design notes.
var DefaultBodyConfig = BodyConfig{
	SmallBodyThreshold: 1024,
	MaxBodySize:        0,
}

// NewBodyReader chooses the body reader implied by fr, the framing decision
// already derived for this request (the Classifying stage of the parser).
//
// mustSendContinue suppresses the small-body eager drain: draining would
// require reading from the wire before the caller has had a chance to defer
// (or decline) sending 100-continue via Request.AsReader.
func NewBodyReader(ctx context.Context, fr Framing, mustSendContinue bool, r io.Reader, cfg BodyConfig) (io.ReadCloser, error) {
	switch fr.Kind {
	case FramingNone:
		return noBodyReader{}, nil

	case FramingLength:
		n := fr.Length
		if cfg.MaxBodySize > 0 && n > cfg.MaxBodySize {
			return nil, ErrBodyTooLarge
		}
		if n <= cfg.SmallBodyThreshold && !mustSendContinue {
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrLengthMismatch, err)
			}
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
		return newFixedReader(ctx, r, n, cfg.MaxBodySize), nil

	case FramingChunked:
		// Chunk framing is parsed line-by-line off the same buffered reader
		// the rest of the request uses; a second buffering layer on top
		// would over-read from r and strand bytes belonging to whatever
		// follows (trailers, or the next pipelined request) in a buffer
		// nothing else can reach.
		cfr, ok := r.(*netx.CRLFFastReader)
		if !ok {
			cfr = netx.NewCRLFFastReader(r)
		}
		return newChunkedReader(ctx, cfr, cfg.MaxBodySize, NewHeader()), nil

	case FramingUpgrade:
		return io.NopCloser(r), nil

	default:
		return nil, fmt.Errorf("httpcore: unknown framing kind %d", fr.Kind)
	}
}

// -----------------------------------------------------------------------------
// noBodyReader (FramingNone)
// -----------------------------------------------------------------------------

type noBodyReader struct{}

func (noBodyReader) Read([]byte) (int, error) { return 0, io.EOF }
func (noBodyReader) Close() error              { return nil }

// -----------------------------------------------------------------------------
// fixedReader (Content-Length, streamed)
// -----------------------------------------------------------------------------

type fixedReader struct {
	ctx       context.Context
	r         io.Reader
	n         int64 // remaining bytes (Content-Length)
	limit     int64 // global body cap
	readTotal int64
}

func newFixedReader(ctx context.Context, r io.Reader, n, limit int64) io.ReadCloser {
	return &fixedReader{
		ctx:   ctx,
		r:     r,
		n:     n,
		limit: limit,
	}
}

func (f *fixedReader) Read(p []byte) (int, error) {
	select {
	case <-f.ctx.Done():
		return 0, f.ctx.Err()
	default:
	}

	if f.n <= 0 {
		return 0, io.EOF
	}

	// Never read more than remaining bytes.
	if int64(len(p)) > f.n {
		p = p[:f.n]
	}

	n, err := f.r.Read(p)
	f.n -= int64(n)
	f.readTotal += int64(n)

	// Enforce maxSize (global cap).
	if f.limit > 0 && f.readTotal > f.limit {
		return n, ErrBodyTooLarge
	}

	// Short body: hit EOF before expected.
	if err == io.EOF && f.n > 0 {
		return n, ErrLengthMismatch
	}

	// Exactly finished.
	if f.n == 0 {
		return n, io.EOF
	}

	return n, err
}

// Close drains any unread remainder so the next pipelined request's read
// slot begins on a clean framing boundary (the framed-body-reader invariant
// that dropping mid-body preserves connection framing).
func (f *fixedReader) Close() error {
	if f.n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, f.r, f.n)
	f.n = 0
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// -----------------------------------------------------------------------------
// chunkedReader (Transfer-Encoding: chunked)
// -----------------------------------------------------------------------------

type chunkState int

const (
	stateChunkHeader chunkState = iota // waiting for "<hex-size>\r\n"
	stateChunkData                     // reading chunk data
	stateChunkCRLF                     // expecting "\r\n" after data
	stateTrailer                       // reading trailers
	stateDone                          // finished
)

// maxChunkLineBytes bounds a chunk-size line or trailer line; chunk
// framing has no equivalent of ParseLimits, so this is a fixed sanity cap
// rather than configuration.
const maxChunkLineBytes = 4096

type chunkedReader struct {
	ctx       context.Context
	r         *netx.CRLFFastReader
	state     chunkState
	remain    int64
	limit     int64
	readTotal int64
	header    Header
}

func newChunkedReader(ctx context.Context, src *netx.CRLFFastReader, limit int64, hdr Header) io.ReadCloser {
	return &chunkedReader{
		ctx:    ctx,
		r:      src,
		state:  stateChunkHeader,
		limit:  limit,
		header: hdr,
	}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
	}

	switch c.state {
	case stateDone:
		return 0, io.EOF

	case stateChunkHeader:
		size, err := c.nextChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			c.state = stateTrailer
			return 0, nil
		}
		c.remain = size
		c.state = stateChunkData
		return 0, nil

	case stateChunkData:
		if c.remain <= 0 {
			c.state = stateChunkCRLF
			return 0, nil
		}

		if int64(len(p)) > c.remain {
			p = p[:c.remain]
		}
		n, err := c.r.Read(p)
		c.remain -= int64(n)
		c.readTotal += int64(n)

		if c.limit > 0 && c.readTotal > c.limit {
			return n, ErrBodyTooLarge
		}

		if err != nil {
			return n, err
		}
		if c.remain == 0 {
			c.state = stateChunkCRLF
		}
		return n, nil

	case stateChunkCRLF:
		line, _, err := c.r.ReadLine(maxChunkLineBytes)
		if err != nil {
			return 0, ErrBadChunk
		}
		if len(line) != 0 {
			return 0, ErrBadChunk
		}
		c.state = stateChunkHeader
		return 0, nil

	case stateTrailer:
		if err := c.readTrailers(); err != nil {
			return 0, err
		}
		c.state = stateDone
		return 0, io.EOF

	default:
		return 0, fmt.Errorf("httpcore: invalid chunk reader state %d", c.state)
	}
}

// Close drains any remaining chunked data so the underlying stream lands on
// a clean boundary for the next pipelined request.
func (c *chunkedReader) Close() error {
	if c.state == stateDone {
		return nil
	}
	buf := make([]byte, 4096)
	for {
		_, err := c.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// nextChunkSize parses "<hex-size>\r\n"
func (c *chunkedReader) nextChunkSize() (int64, error) {
	raw, _, err := c.r.ReadLine(maxChunkLineBytes)
	if err != nil {
		return 0, err
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return 0, ErrBadChunk
	}

	// ignore chunk extensions ("; name=value")
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}

	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil || size < 0 {
		return 0, ErrBadChunk
	}
	return size, nil
}

// readTrailers parses optional trailer headers after the final 0-sized chunk.
func (c *chunkedReader) readTrailers() error {
	for {
		raw, _, err := c.r.ReadLine(maxChunkLineBytes)
		if err != nil {
			return ErrUnexpectedTrailer
		}
		if len(raw) == 0 {
			return nil // blank line terminates trailer section
		}
		line := string(raw)
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return ErrUnexpectedTrailer
		}
		key := CanonicalHeaderKey(line[:i])
		val := strings.TrimSpace(line[i+1:])
		c.header.Add(key, val)
	}
}
