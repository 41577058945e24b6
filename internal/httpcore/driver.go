package httpcore

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/corewire/httpd/internal/lifecycle"
	"github.com/corewire/httpd/internal/metrics"
	"github.com/corewire/httpd/internal/netx"
	"github.com/corewire/httpd/internal/queue"
	"github.com/corewire/httpd/internal/slotio"
)

// DeadlineConn is the connection surface the driver needs: a duplex byte
// stream plus the ability to arm a read deadline for the inactivity
// timeout. *net.TCPConn and *tls.Conn both satisfy it.
type DeadlineConn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// DriverConfig bundles the per-connection policy a Driver applies; shared
// across every connection the pool hands it.
type DriverConfig struct {
	Limits           ParseLimits
	BodyConfig       BodyConfig
	ResponseDefaults ResponseDefaults
	IdleTimeout      time.Duration
	Metrics          *metrics.Collectors
}

// connReadGate is the persistent connection-wide reader's underlying
// source. It always forwards to whichever read slot currently holds the
// turn, so every byte the request parser and the body reader pull from
// the wire passes through that request's own *slotio.ReadSlot instead of
// bypassing it — while still sharing one buffer for the connection's
// whole lifetime, so bytes the buffer reads ahead of a request's framing
// boundary (routine with any buffered reader) are never stranded in a
// buffer that gets discarded at the next request.
//
// The driver only repoints cur once it has confirmed (via
// ReadSlot.PredecessorDropped) that the previous request's body has
// already been fully drained, so there is never a moment where two
// requests' reads could land on the wrong slot.
type connReadGate struct {
	cur *slotio.ReadSlot
}

func (g *connReadGate) Read(p []byte) (int, error) {
	return g.cur.Read(p)
}

// Driver repeatedly parses requests off one connection and pushes them
// onto a shared queue, without waiting for each to be answered — except
// over TLS, where record-layer framing makes truly concurrent reads and
// writes on the same *tls.Conn unsafe, so the driver waits for each
// request to be closed (Request.Close) before parsing the next one.
type Driver struct {
	conn         DeadlineConn
	splitter     *slotio.Splitter
	reader       *netx.CRLFFastReader
	gate         *connReadGate
	singleFlight bool
	cfg          DriverConfig
	shutdown     *lifecycle.ShutdownFlag
}

// NewDriver wraps conn. shutdown may be nil (equivalent to never shutting
// down via this signal).
func NewDriver(conn DeadlineConn, shutdown *lifecycle.ShutdownFlag, cfg DriverConfig) *Driver {
	_, isTLS := conn.(*tls.Conn)
	gate := &connReadGate{}
	return &Driver{
		conn:         conn,
		splitter:     slotio.New(conn),
		reader:       netx.NewCRLFFastReader(gate),
		gate:         gate,
		singleFlight: isTLS,
		cfg:          cfg,
		shutdown:     shutdown,
	}
}

// Run parses requests and pushes each onto q until the connection ends, a
// parsed request forbids further pipelining (Connection: close, HTTP/1.0
// without keep-alive, or an upgrade), shutdown is requested, or ctx is
// done.
func (d *Driver) Run(ctx context.Context, q *queue.Queue[*Request]) {
	var prev *Request
	for {
		if d.shutdown != nil && d.shutdown.IsSet() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d.cfg.IdleTimeout > 0 {
			_ = d.conn.SetReadDeadline(time.Now().Add(d.cfg.IdleTimeout))
		}

		rs := d.splitter.NextRead()
		ws := d.splitter.NextWrite()

		// Block until the previous request's read slot has been dropped —
		// which only happens once its body has been fully drained — before
		// repointing the shared reader at this request's slot. Without this,
		// a buffered reader that has already read ahead past the previous
		// request's framing boundary would let this request's parse start
		// consuming the previous request's undrained bytes.
		select {
		case <-rs.PredecessorDropped():
		case <-ctx.Done():
			return
		}
		// Answering a request can still turn its keep-alive verdict into a
		// close (an unread 100-continue body, an Upgrade), so re-check it
		// once the previous request has released its read slot.
		if prev != nil && prev.CloseAfter() {
			return
		}
		d.gate.cur = rs

		req, err := ParseRequest(ctx, d.reader, rs, ws, d.cfg.Limits, d.cfg.BodyConfig, d.cfg.ResponseDefaults)
		if err != nil {
			d.respondToParseError(err, ws)
			_ = rs.Close()
			return
		}

		if d.cfg.Metrics != nil {
			d.cfg.Metrics.RequestAccepted()
		}

		var ack chan struct{}
		if d.singleFlight {
			ack = make(chan struct{})
			req.setAck(ack)
		}

		if !q.Push(req) {
			_ = req.Close()
			return
		}
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.SetQueueDepth(q.Len())
		}

		if d.singleFlight {
			select {
			case <-ack:
			case <-ctx.Done():
				return
			}
		}

		if req.CloseAfter() {
			return
		}
		prev = req
	}
}

// respondToParseError maps a ParseRequest failure to a best-effort status
// response per the parser's error-to-status table, or silently gives up
// the connection for plain I/O errors (a peer that simply went away isn't
// an error worth answering).
func (d *Driver) respondToParseError(err error, ws *slotio.WriteSlot) {
	var status StatusCode
	switch {
	case errors.Is(err, io.EOF):
		_ = ws.Close()
		return
	case isTimeoutErr(err):
		status = StatusRequestTimeout
	case errors.Is(err, ErrUnknownExpectation):
		status = StatusExpectationFailed
	case errors.Is(err, ErrUnsupportedVersion):
		status = StatusHTTPVersionNotSupp
	case errors.Is(err, ErrMissingHost),
		errors.Is(err, ErrMalformedRequestLine),
		errors.Is(err, ErrMethodTooLong),
		errors.Is(err, ErrObsoleteLineFolding),
		errors.Is(err, ErrMalformedHeaderLine),
		errors.Is(err, ErrInvalidFieldName),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, ErrHeaderTooLarge),
		errors.Is(err, ErrLengthMismatch):
		status = StatusBadRequest
	default:
		_ = ws.Close()
		return
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.ParseError()
	}
	resp := NewEmptyResponse(status)
	opts := WriteOpts{
		RequestVersion: HTTP11,
		Close:          true,
		ServerName:     d.cfg.ResponseDefaults.ServerName,
		Now:            time.Now,
	}
	_ = WriteResponse(context.Background(), ws, resp, opts)
	_ = ws.Close()
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
