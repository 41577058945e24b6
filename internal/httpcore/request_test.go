package httpcore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/corewire/httpd/internal/netx"
	"github.com/corewire/httpd/internal/slotio"
)

// loopbackConn is a minimal in-memory slotio.Conn backed by a byte buffer,
// for driving ParseRequest/Respond through real read and write slots.
type loopbackConn struct {
	mu  sync.Mutex
	in  *bytes.Buffer
	out bytes.Buffer
}

func newLoopbackConn(input string) *loopbackConn {
	return &loopbackConn{in: bytes.NewBufferString(input)}
}

func (c *loopbackConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Read(p)
}

func (c *loopbackConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func parseOne(t *testing.T, raw string) (*Request, *loopbackConn) {
	t.Helper()
	conn := newLoopbackConn(raw)
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	req, err := ParseRequest(context.Background(), rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	return req, conn
}

func TestParseRequestLineTable(t *testing.T) {
	if _, _, _, err := parseRequestLine("GET /a/b?x=1 HTTP/1.1"); err != nil {
		t.Fatal(err)
	}
	method, target, proto, err := parseRequestLine("GET /a/b?x=1 HTTP/1.1")
	if err != nil {
		t.Fatal(err)
	}
	if method.String() != "GET" || target != "/a/b?x=1" || proto != (ProtoVersion{1, 1}) {
		t.Fatalf("parsed wrong: %+v %q %+v", method, target, proto)
	}
}

func TestParseRequestLineBad(t *testing.T) {
	cases := []string{
		"G ET / HTTP/1.1",
		"GET / WTF/1.1",
		"GET / HTTP/x.y",
		"",
		"GET / HTTP/1",
		"TOOLONGMETHODNAMEFORHTTP / HTTP/1.1",
		"GET / HTTP/1.9",
		"GET / HTTP/2.0",
	}
	for _, c := range cases {
		if _, _, _, err := parseRequestLine(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

// TestParseProtoVersionRejectsAboveHTTP11 pins the exact sentinel error for
// a minor version past what this parser supports, since the driver maps
// ErrUnsupportedVersion specifically to a 505 response.
func TestParseProtoVersionRejectsAboveHTTP11(t *testing.T) {
	_, _, _, err := parseRequestLine("GET / HTTP/1.9")
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestParseRequestOriginForm(t *testing.T) {
	req, _ := parseOne(t, "GET /a/b?x=1 HTTP/1.1\r\nHost: ex.com\r\n\r\n")
	if req.Method.String() != "GET" || req.Proto.String() != "HTTP/1.1" {
		t.Fatalf("method/proto mismatch: %v %v", req.Method, req.Proto)
	}
	if req.URL.Path != "/a/b" || req.URL.RawQuery != "x=1" {
		t.Fatalf("url mismatch: %+v", req.URL)
	}
	if req.Host != "ex.com" {
		t.Fatalf("expected Host from header, got %q", req.Host)
	}
}

func TestParseRequestAbsoluteForm(t *testing.T) {
	req, _ := parseOne(t, "GET http://example.com/x?q=1 HTTP/1.1\r\n\r\n")
	if req.URL.Host != "example.com" {
		t.Fatalf("expected host example.com, got %q", req.URL.Host)
	}
	if req.Host != "example.com" {
		t.Fatalf("Host not propagated from absolute URI, got %q", req.Host)
	}
}

func TestParseRequestMissingHostOnHTTP11(t *testing.T) {
	conn := newLoopbackConn("GET / HTTP/1.1\r\n\r\n")
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	_, err := ParseRequest(context.Background(), rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err != ErrMissingHost {
		t.Fatalf("expected ErrMissingHost, got %v", err)
	}
}

func TestParseRequestHTTP10NoHostRequired(t *testing.T) {
	req, _ := parseOne(t, "GET / HTTP/1.0\r\n\r\n")
	if req.Host != "" {
		t.Fatalf("expected no host, got %q", req.Host)
	}
}

func TestParseRequestRejectsObsoleteFolding(t *testing.T) {
	conn := newLoopbackConn("GET / HTTP/1.1\r\nHost: ex.com\r\n Folded: value\r\n\r\n")
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	_, err := ParseRequest(context.Background(), rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err != ErrObsoleteLineFolding {
		t.Fatalf("expected ErrObsoleteLineFolding, got %v", err)
	}
}

func TestParseRequestUnknownExpectation(t *testing.T) {
	conn := newLoopbackConn("POST / HTTP/1.1\r\nHost: ex.com\r\nExpect: something-else\r\nContent-Length: 0\r\n\r\n")
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	_, err := ParseRequest(context.Background(), rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err != ErrUnknownExpectation {
		t.Fatalf("expected ErrUnknownExpectation, got %v", err)
	}
}

func TestRequestAsReaderSendsContinueThenReadsBody(t *testing.T) {
	conn := newLoopbackConn("POST /upload HTTP/1.1\r\nHost: ex.com\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\nhello")
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	req, err := ParseRequest(context.Background(), rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	if !req.mustContinue {
		t.Fatal("expected mustContinue to be set")
	}

	body, err := req.AsReader()
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
	if !strings.Contains(conn.out.String(), "100 Continue") {
		t.Fatalf("expected 100 Continue to be written, got %q", conn.out.String())
	}
}

func TestRequestCloseForcesCloseAfterOnUnreadContinueBody(t *testing.T) {
	conn := newLoopbackConn("POST /upload HTTP/1.1\r\nHost: ex.com\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n")
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	req, err := ParseRequest(context.Background(), rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	resp := NewEmptyResponse(StatusOK)
	if err := req.Respond(resp); err != nil {
		t.Fatal(err)
	}
	if !req.CloseAfter() {
		t.Fatal("expected CloseAfter to become true when body is never read after Expect: 100-continue")
	}
}

func TestRequestRespondEchoesCloseAndRejectsSecondCall(t *testing.T) {
	conn := newLoopbackConn("GET / HTTP/1.1\r\nHost: ex.com\r\nConnection: close\r\n\r\n")
	req, _ := parseOneFromConn(t, conn)

	resp := NewStringResponse(StatusOK, "ok")
	if err := req.Respond(resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(conn.out.String(), "HTTP/1.1 200 OK") {
		t.Fatalf("missing status line: %q", conn.out.String())
	}
	if !strings.Contains(conn.out.String(), "Connection: close") {
		t.Fatalf("expected Connection: close to be echoed: %q", conn.out.String())
	}
	if err := req.Respond(resp); err == nil {
		t.Fatal("expected second Respond call to fail")
	}
}

func parseOneFromConn(t *testing.T, conn *loopbackConn) (*Request, *slotio.Splitter) {
	t.Helper()
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	req, err := ParseRequest(context.Background(), rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	return req, sp
}

func TestContextCancelDuringParse(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	conn := newLoopbackConn(raw)
	sp := slotio.New(conn)
	rd := netx.NewCRLFFastReader(conn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ParseRequest(ctx, rd, sp.NextRead(), sp.NextWrite(), DefaultParseLimits, DefaultBodyConfig, ResponseDefaults{})
	if err == nil {
		t.Fatal("expected ctx error")
	}
}
