package httpcore

import "strconv"

// StatusCode is a 16-bit HTTP status code with a total ordering and a
// default reason phrase. Unknown codes report "Unknown" for String().
type StatusCode uint16

// Standard status codes used throughout the emitter and driver.
const (
	StatusContinue           StatusCode = 100
	StatusSwitchingProtocols StatusCode = 101
	StatusOK                 StatusCode = 200
	StatusNoContent          StatusCode = 204
	StatusNotModified        StatusCode = 304
	StatusBadRequest         StatusCode = 400
	StatusExpectationFailed  StatusCode = 417
	StatusRequestTimeout     StatusCode = 408
	StatusInternalError      StatusCode = 500
	StatusHTTPVersionNotSupp StatusCode = 505
)

var reasonPhrases = map[StatusCode]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	418: "I'm a teapot",
	426: "Upgrade Required",
	428: "Precondition Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// String returns the default reason phrase for sc, or "Unknown" for codes
// outside the standard table.
func (sc StatusCode) String() string {
	if p, ok := reasonPhrases[sc]; ok {
		return p
	}
	return "Unknown"
}

// IsInformational reports whether sc is a 1xx code.
func (sc StatusCode) IsInformational() bool { return sc >= 100 && sc < 200 }

// SuppressesBody reports whether responses with this status code must never
// carry a body on the wire, regardless of what the caller supplied
// (1xx, 204, 304 per the data model's Response invariants).
func (sc StatusCode) SuppressesBody() bool {
	return sc.IsInformational() || sc == StatusNoContent || sc == StatusNotModified
}

func (sc StatusCode) int() int { return int(sc) }

// text returns "<code> <reason>" e.g. "200 OK", used when building a status
// line for a code with no explicit caller-provided reason string.
func (sc StatusCode) text() string {
	return strconv.Itoa(sc.int()) + " " + sc.String()
}
