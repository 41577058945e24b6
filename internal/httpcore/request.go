package httpcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/corewire/httpd/internal/netx"
	"github.com/corewire/httpd/internal/slotio"
)

// Sentinel parse errors. The connection driver maps these to status codes
// (400, 417, 505) without needing to inspect error strings.
var (
	ErrMalformedRequestLine = errors.New("httpcore: malformed request line")
	ErrMethodTooLong        = errors.New("httpcore: method token too long")
	ErrUnsupportedVersion   = errors.New("httpcore: unsupported HTTP version")
	ErrMissingHost          = errors.New("httpcore: missing Host header")
	ErrUnknownExpectation   = errors.New("httpcore: unsupported Expect value")
	ErrObsoleteLineFolding  = errors.New("httpcore: obsolete header line folding")
	ErrMalformedHeaderLine  = errors.New("httpcore: malformed header line")
)

const maxMethodTokenLen = 20

// ParseLimits bounds the request line and header section read from the
// wire, so a slow or hostile peer cannot force unbounded buffering.
type ParseLimits struct {
	MaxLineBytes   int // longest single line (request line or one header)
	MaxHeaderBytes int // cap on total bytes across all header lines
	MaxHeaderCount int // cap on number of header fields
}

// DefaultParseLimits matches the design notes' header caps.
var DefaultParseLimits = ParseLimits{
	MaxLineBytes:   8 * 1024,
	MaxHeaderBytes: 64 * 1024,
	MaxHeaderCount: 100,
}

// ResponseDefaults carries the per-connection facts Request.Respond needs
// that aren't part of any individual response: the server's self-reported
// name and the chunk/identity threshold. Grouped separately from Response
// itself since they come from the listening server's configuration, not
// from the handler answering one request.
type ResponseDefaults struct {
	ServerName     string
	ChunkThreshold int64
}

// Request is a fully parsed HTTP/1.x request, including the framing
// decision and keep-alive verdict computed from its headers. Its body and
// eventual response are each backed by one slot of the connection's
// slotio.Splitter, which is what lets a connection driver start parsing
// request k+1 before request k has been answered.
type Request struct {
	Method Method
	URL    *URL
	Proto  ProtoVersion
	Header Header
	Host   string

	framing      Framing
	mustContinue bool
	closeAfter   bool
	responded    bool

	bodyBuilt bool
	body      io.ReadCloser
	bodyErr   error

	rawReader *netx.CRLFFastReader
	readSlot  *slotio.ReadSlot
	writeSlot *slotio.WriteSlot

	bodyCfg  BodyConfig
	defaults ResponseDefaults

	closed bool
	ack    chan struct{}

	ctx context.Context
}

// setAck registers the channel the connection driver waits on before
// parsing the next request (the TLS single-flight constraint: a plain TCP
// connection never sets this).
func (r *Request) setAck(ch chan struct{}) { r.ack = ch }

// ParseRequest reads one request line, header block, and framing decision
// from r (which must be reading from rs, the read slot backing this
// request), leaving the body unread. rs and ws are retained so later calls
// to AsReader, Respond, Upgrade and Close can coordinate with the rest of
// the pipelined connection.
func ParseRequest(
	ctx context.Context,
	r *netx.CRLFFastReader,
	rs *slotio.ReadSlot,
	ws *slotio.WriteSlot,
	limits ParseLimits,
	bodyCfg BodyConfig,
	defaults ResponseDefaults,
) (*Request, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	line, _, err := r.ReadLine(limits.MaxLineBytes)
	if err != nil {
		return nil, fmt.Errorf("read request line: %w", err)
	}
	if len(line) == 0 {
		return nil, ErrMalformedRequestLine
	}

	method, target, proto, err := parseRequestLine(string(line))
	if err != nil {
		return nil, err
	}

	u, err := ParseRequestURI(target)
	if err != nil {
		return nil, err
	}

	header, err := readHeaderBlock(r, limits)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:    method,
		URL:       u,
		Proto:     proto,
		Header:    header,
		rawReader: r,
		readSlot:  rs,
		writeSlot: ws,
		bodyCfg:   bodyCfg,
		defaults:  defaults,
		ctx:       ctx,
	}

	if u.Host != "" {
		req.Host = u.Host
	} else if h := header.Get("Host"); h != "" {
		req.Host = strings.ToLower(strings.TrimSpace(h))
	}
	if req.Host == "" && proto.Compare(HTTP11) >= 0 {
		return nil, ErrMissingHost
	}

	framing, err := selectFraming(header)
	if err != nil {
		return nil, err
	}
	req.framing = framing

	if expect := strings.TrimSpace(header.Get("Expect")); expect != "" {
		if !strings.EqualFold(expect, "100-continue") {
			return nil, ErrUnknownExpectation
		}
		if proto.Compare(HTTP11) >= 0 {
			req.mustContinue = true
		}
	}

	req.closeAfter = !keepAlive(proto, header)
	return req, nil
}

// parseRequestLine parses "METHOD SP Request-URI SP HTTP/x.y" by splitting
// on exactly two single spaces, so malformed spacing (doubled spaces,
// missing fields) is rejected rather than tolerated.
func parseRequestLine(line string) (Method, string, ProtoVersion, error) {
	sp1 := strings.IndexByte(line, ' ')
	if sp1 < 0 {
		return Method{}, "", ProtoVersion{}, ErrMalformedRequestLine
	}
	rest := line[sp1+1:]
	sp2 := strings.IndexByte(rest, ' ')
	if sp2 < 0 {
		return Method{}, "", ProtoVersion{}, ErrMalformedRequestLine
	}

	methodTok := line[:sp1]
	target := rest[:sp2]
	protoTok := rest[sp2+1:]

	if methodTok == "" || len(methodTok) > maxMethodTokenLen {
		return Method{}, "", ProtoVersion{}, ErrMethodTooLong
	}
	if target == "" {
		return Method{}, "", ProtoVersion{}, ErrMalformedRequestLine
	}

	proto, err := parseProtoVersion(protoTok)
	if err != nil {
		return Method{}, "", ProtoVersion{}, err
	}

	return ParseMethod(methodTok), target, proto, nil
}

func parseProtoVersion(tok string) (ProtoVersion, error) {
	if !strings.HasPrefix(tok, "HTTP/") {
		return ProtoVersion{}, ErrUnsupportedVersion
	}
	ver := strings.TrimPrefix(tok, "HTTP/")
	dot := strings.IndexByte(ver, '.')
	if dot < 0 {
		return ProtoVersion{}, ErrUnsupportedVersion
	}
	major, err1 := strconv.Atoi(ver[:dot])
	minor, err2 := strconv.Atoi(ver[dot+1:])
	if err1 != nil || err2 != nil || major != 1 {
		return ProtoVersion{}, ErrUnsupportedVersion
	}
	proto := ProtoVersion{Major: major, Minor: minor}
	if proto.Compare(HTTP11) > 0 {
		return ProtoVersion{}, ErrUnsupportedVersion
	}
	return proto, nil
}

// readHeaderBlock reads header lines up to the blank line terminating the
// header section, rejecting obsolete line folding (RFC 7230 §3.2.4) and
// enforcing limits on line count and total bytes.
func readHeaderBlock(r *netx.CRLFFastReader, limits ParseLimits) (Header, error) {
	h := NewHeader()
	total := 0
	count := 0

	for {
		line, _, err := r.ReadLine(limits.MaxLineBytes)
		if err != nil {
			return Header{}, fmt.Errorf("read header line: %w", err)
		}
		if len(line) == 0 {
			return h, nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			return Header{}, ErrObsoleteLineFolding
		}

		total += len(line) + 2
		if limits.MaxHeaderBytes > 0 && total > limits.MaxHeaderBytes {
			return Header{}, ErrHeaderTooLarge
		}

		colon := indexByte(line, ':')
		if colon <= 0 {
			return Header{}, ErrMalformedHeaderLine
		}
		key := string(line[:colon])
		val := strings.TrimSpace(string(line[colon+1:]))

		if !isValidFieldName(key) {
			return Header{}, fmt.Errorf("%w: %q", ErrInvalidFieldName, key)
		}
		if !isValidValue(val) {
			return Header{}, fmt.Errorf("%w: %q", ErrInvalidValue, val)
		}

		count++
		if limits.MaxHeaderCount > 0 && count > limits.MaxHeaderCount {
			return Header{}, ErrHeaderTooLarge
		}

		h.Add(CanonicalHeaderKey(key), val)
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// -----------------------------------------------------------------------------
// Request operations
// -----------------------------------------------------------------------------

// Framing reports the body-framing decision derived from this request's
// headers.
func (r *Request) Framing() Framing { return r.framing }

// ContentLength returns the declared body length, or -1 if the body is
// chunked, absent, or an upgrade payload.
func (r *Request) ContentLength() int64 {
	if r.framing.Kind == FramingLength {
		return r.framing.Length
	}
	return -1
}

// CloseAfter reports whether the connection driver must close the
// connection after this request's response instead of reading another.
func (r *Request) CloseAfter() bool { return r.closeAfter }

// Responded reports whether Respond, IntoWriter, or Upgrade has already
// claimed this request's write slot.
func (r *Request) Responded() bool { return r.responded }

// markResponding finalizes the keep-alive decision before any response
// bytes go out. A pending 100-continue that nobody issued means the peer
// may still be waiting to send the body later; closing afterward avoids a
// desync on the next pipelined parse.
func (r *Request) markResponding() {
	if !r.bodyBuilt && r.mustContinue {
		r.closeAfter = true
	}
	r.responded = true
}

// AsReader returns the request body as a stream, issuing the deferred 100
// Continue response first if the client sent Expect: 100-continue. Safe to
// call more than once; the same reader (or error) is returned every time.
func (r *Request) AsReader() (io.Reader, error) {
	if r.bodyBuilt {
		return r.body, r.bodyErr
	}
	if r.mustContinue {
		if err := writeContinueResponse(r.writeSlot, r.Proto); err != nil {
			r.bodyBuilt = true
			r.bodyErr = err
			return nil, err
		}
	}
	r.body, r.bodyErr = NewBodyReader(r.ctx, r.framing, false, r.rawReader, r.bodyCfg)
	r.bodyBuilt = true
	return r.body, r.bodyErr
}

// writeContinueResponse writes the interim "100 Continue" status line
// directly to the write slot, ahead of (and independent from) the final
// response that will later occupy the same slot.
func writeContinueResponse(ws *slotio.WriteSlot, proto ProtoVersion) error {
	_, err := fmt.Fprintf(ws, "HTTP/%d.%d 100 Continue\r\n\r\n", proto.Major, proto.Minor)
	return err
}

// Respond serializes resp as the final answer to this request and releases
// the write slot, unblocking the next pipelined response. Write errors that
// mean the peer already closed the connection (broken pipe, reset, refused,
// aborted) are not returned; any other error is.
func (r *Request) Respond(resp *Response) error {
	if r.responded {
		return errors.New("httpcore: response already sent")
	}
	r.markResponding()

	suppress := r.Method.Equal(MethodHead) || resp.StatusCode.SuppressesBody()
	opts := WriteOpts{
		RequestVersion: r.Proto,
		RequestHeader:  r.Header,
		SuppressBody:   suppress,
		Close:          r.closeAfter,
		ServerName:     r.defaults.ServerName,
		ChunkThreshold: r.defaults.ChunkThreshold,
		Now:            time.Now,
	}
	err := WriteResponse(r.ctx, r.writeSlot, resp, opts)
	if cerr := r.writeSlot.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNABORTED) {
		err = nil
	}
	return err
}

// IntoWriter hands the caller direct, raw access to the write slot for
// protocols that need to assemble their own response bytes. The caller must
// write a complete response (status line through body) and Close the
// returned writer to release the next pipelined response.
func (r *Request) IntoWriter() (io.WriteCloser, error) {
	if r.responded {
		return nil, errors.New("httpcore: response already sent")
	}
	r.markResponding()
	return r.writeSlot, nil
}

// Upgrade sends a 101 Switching Protocols response naming token and hands
// back the raw duplex stream for the caller to speak the new protocol on.
// After a successful Upgrade the connection driver stops parsing further
// HTTP requests on this connection.
func (r *Request) Upgrade(token string) (io.ReadWriteCloser, error) {
	if r.responded {
		return nil, errors.New("httpcore: response already sent")
	}
	r.markResponding()
	r.closeAfter = true

	resp := NewResponse(StatusSwitchingProtocols)
	opts := WriteOpts{RequestVersion: r.Proto, UpgradeToken: token, Now: time.Now}
	if err := WriteResponse(r.ctx, r.writeSlot, resp, opts); err != nil {
		return nil, err
	}
	return &upgradeConn{r: r.rawReader, w: r.writeSlot}, nil
}

type upgradeConn struct {
	r *netx.CRLFFastReader
	w *slotio.WriteSlot
}

func (u *upgradeConn) Read(p []byte) (int, error)  { return u.r.Read(p) }
func (u *upgradeConn) Write(p []byte) (int, error) { return u.w.Write(p) }
func (u *upgradeConn) Close() error                { return u.w.Close() }

// Close finalizes the request: if nothing ever answered it, it sends an
// empty 500 so the write slot chain isn't left stuck; either way it drains
// any unread body (except one still held back behind an unsent 100
// Continue, which is left unread) and releases the read slot. Embedders must call Close
// (typically via defer) once they are done with a Request, the same way
// callers of net/http close a response body — Go has no destructor to do
// this automatically, and spec parity with Drop-on-scope-exit is achieved
// by requiring the explicit call instead of a GC-timed finalizer.
//
// Safe to call more than once and whether or not AsReader/Respond was ever
// called.
func (r *Request) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if !r.responded {
		err = r.Respond(NewEmptyResponse(StatusInternalError))
	}

	if r.bodyBuilt {
		if r.body != nil {
			_ = r.body.Close()
		}
	} else if !r.mustContinue {
		if body, berr := NewBodyReader(r.ctx, r.framing, false, r.rawReader, r.bodyCfg); berr == nil {
			_ = body.Close()
		}
	}
	if r.readSlot != nil {
		_ = r.readSlot.Close()
	}
	if r.ack != nil {
		close(r.ack)
	}
	return err
}

// Context returns the request's context.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context replaced by ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ctx = ctx
	return &cp
}

// String returns a human-readable request line, e.g. "GET /a/b HTTP/1.1".
func (r *Request) String() string {
	if r == nil {
		return "<nil request>"
	}
	return fmt.Sprintf("%s %s %s", r.Method.String(), r.URL.Path, r.Proto.String())
}
