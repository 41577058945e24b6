package httpcore

import (
	"strconv"
	"strings"
)

// ProtoVersion is an HTTP version as a (major, minor) pair, totally ordered
// lexicographically per the data model.
type ProtoVersion struct {
	Major, Minor int
}

var (
	HTTP10 = ProtoVersion{1, 0}
	HTTP11 = ProtoVersion{1, 1}
)

// Compare returns -1, 0, or 1 comparing v to other lexicographically.
func (v ProtoVersion) Compare(other ProtoVersion) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}
	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}
	return 0
}

func (v ProtoVersion) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// FramingKind enumerates the four ways a message body's end can be detected.
type FramingKind int

const (
	FramingNone FramingKind = iota
	FramingLength
	FramingChunked
	FramingUpgrade
)

// Framing is the framing decision derived for one request, per the data
// model: None (no body), Length(n), Chunked, or Upgrade.
type Framing struct {
	Kind   FramingKind
	Length int64 // meaningful only when Kind == FramingLength
}

// selectFraming derives framing for a request's headers per the selection
// rule: Transfer-Encoding wins (RFC 2616 §4.4 says Content-Length is ignored
// when both appear); else Connection: upgrade; else Content-Length; else
// None.
func selectFraming(h Header) (Framing, error) {
	if te := h.Get("Transfer-Encoding"); te != "" {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			// Any other/unknown transfer-coding is still framed as chunked
			// per spec; unsupported codings are a caller-level concern.
			return Framing{Kind: FramingChunked}, nil
		}
		return Framing{Kind: FramingChunked}, nil
	}

	if connectionHasToken(h, "upgrade") {
		return Framing{Kind: FramingUpgrade}, nil
	}

	if cl := h.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return Framing{}, ErrLengthMismatch
		}
		return Framing{Kind: FramingLength, Length: n}, nil
	}

	return Framing{Kind: FramingNone}, nil
}

// connectionHasToken reports whether the Connection header (comma-separated,
// case-insensitive) contains token.
func connectionHasToken(h Header, token string) bool {
	for _, v := range h.Values("Connection") {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// keepAlive evaluates the keep-alive decision after a successful request,
// per spec: Connection: close or Connection: upgrade forbid further
// requests; HTTP/1.0 without Connection: keep-alive forbids further
// requests; otherwise the connection may carry another request.
func keepAlive(v ProtoVersion, h Header) bool {
	if connectionHasToken(h, "close") {
		return false
	}
	if connectionHasToken(h, "upgrade") {
		return false
	}
	if v.Compare(HTTP11) < 0 && !connectionHasToken(h, "keep-alive") {
		return false
	}
	return true
}
