package httpd

import (
	"io"

	"github.com/corewire/httpd/internal/httpcore"
)

// NewResponse starts a response with no body.
func NewResponse(status StatusCode) *Response { return httpcore.NewResponse(status) }

// NewEmptyResponse is NewResponse with no body and no content-length.
func NewEmptyResponse(status StatusCode) *Response { return httpcore.NewEmptyResponse(status) }

// NewStringResponse builds a text/plain response from a string body.
func NewStringResponse(status StatusCode, body string) *Response {
	return httpcore.NewStringResponse(status, body)
}

// NewDataResponse builds a response from an in-memory byte body with an
// explicit content type.
func NewDataResponse(status StatusCode, contentType string, data []byte) *Response {
	return httpcore.NewDataResponse(status, contentType, data)
}

// NewFileResponse builds a response streamed from body, whose length must be
// known up front (use -1 if it genuinely isn't, which forces HTTP/1.1
// chunked framing or HTTP/1.0 full buffering).
func NewFileResponse(status StatusCode, contentType string, body io.Reader, length int64) *Response {
	return httpcore.NewFileResponse(status, contentType, body, length)
}
