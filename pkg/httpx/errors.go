package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// ErrorType classifies a failed request.
type ErrorType string

const (
	// ErrorTypeResponse: the server answered with a non-2xx status.
	ErrorTypeResponse ErrorType = "api-response-error"
	// ErrorTypeRequest: the request was sent but no response came back.
	ErrorTypeRequest ErrorType = "api-request-error"
	// ErrorTypeConfig: the request was never sent.
	ErrorTypeConfig ErrorType = "api-request-config-error"
	// ErrorTypeUnknown: anything else.
	ErrorTypeUnknown ErrorType = "unknown-api-request-error"
)

const (
	// MaxResponseData bounds the response body kept in error metadata.
	MaxResponseData = 2048

	// RedactedHTML replaces HTML error pages in error metadata.
	RedactedHTML = "[html response body redacted]"

	// maxErrorBody bounds how much of an error response is buffered.
	maxErrorBody = 1 << 20
)

// Attributer is implemented by errors that carry structured metadata for
// logging and alerting.
type Attributer interface {
	CustomAttributes() map[string]any
}

// APIError is the normalized form of every failure surfaced by Client.
type APIError struct {
	Type    ErrorType
	Status  int
	Method  string
	URL     string
	Message string

	// ResponseData is the response body, HTML redacted and truncated to
	// MaxResponseData bytes.
	ResponseData string

	// Response is set for ErrorTypeResponse. Its body has been buffered and
	// can be read again.
	Response *http.Response

	Err error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.Method != "" || e.URL != "" {
		fmt.Fprintf(&b, " %s %s", e.Method, e.URL)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// StatusCode returns the response status, or 0 when nothing was received.
func (e *APIError) StatusCode() int { return e.Status }

// CustomAttributes returns the error metadata keyed the way log pipelines
// expect it.
func (e *APIError) CustomAttributes() map[string]any {
	attrs := map[string]any{
		"httpErrorType": string(e.Type),
	}
	if e.Status != 0 {
		attrs["httpErrorStatus"] = e.Status
	}
	if e.URL != "" {
		attrs["httpErrorRequestUrl"] = e.URL
	}
	if e.Method != "" {
		attrs["httpErrorRequestMethod"] = e.Method
	}
	if e.Type == ErrorTypeResponse {
		attrs["httpErrorResponseData"] = e.ResponseData
	}
	if e.Message != "" {
		attrs["httpErrorMessage"] = e.Message
	}
	return attrs
}

// Normalize turns the outcome of a request into nil (2xx) or an *APIError.
// An error that already is an *APIError is returned unchanged. The response
// body of a non-2xx response is buffered and closed.
func Normalize(req *http.Request, resp *http.Response, err error) error {
	var apiErr *APIError
	switch {
	case err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case resp != nil:
		return NewResponseError(req, resp)
	case err == nil:
		return newError(ErrorTypeUnknown, req, "no response and no error")
	case req == nil:
		return NewConfigError(nil, err)
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return NewRequestError(req, err)
	}
	e := newError(ErrorTypeUnknown, req, err.Error())
	e.Err = err
	return e
}

// NewResponseError builds an ErrorTypeResponse error from resp.
func NewResponseError(req *http.Request, resp *http.Response) *APIError {
	if req == nil {
		req = resp.Request
	}

	e := newError(ErrorTypeResponse, req, fmt.Sprintf("request failed with status code %d", resp.StatusCode))
	e.Status = resp.StatusCode

	body, readErr := bufferBody(resp)
	e.Response = resp
	e.ResponseData = responseData(resp.Header.Get("Content-Type"), body)
	e.Err = readErr
	return e
}

// NewRequestError builds an ErrorTypeRequest error for a request that got no
// response.
func NewRequestError(req *http.Request, err error) *APIError {
	e := newError(ErrorTypeRequest, req, err.Error())
	e.Err = err
	return e
}

// NewConfigError builds an ErrorTypeConfig error for a request that was
// never sent.
func NewConfigError(req *http.Request, err error) *APIError {
	e := newError(ErrorTypeConfig, req, err.Error())
	e.Err = err
	return e
}

func newError(t ErrorType, req *http.Request, msg string) *APIError {
	e := &APIError{Type: t, Message: msg}
	if req != nil {
		e.Method = req.Method
		if req.URL != nil {
			e.URL = req.URL.Redacted()
		}
	}
	return e
}

// bufferBody reads and closes the body of resp, then replaces it with an
// in-memory copy.
func bufferBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, err
}

func responseData(contentType string, body []byte) string {
	if isHTML(contentType, body) {
		return RedactedHTML
	}
	if len(body) > MaxResponseData {
		body = body[:MaxResponseData]
	}
	return string(body)
}

func isHTML(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "text/html" {
		return true
	}

	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 64)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// RedactBody applies the same HTML redaction and truncation used for error
// metadata. Other packages use it when they attach a response body to their
// own errors.
func RedactBody(contentType string, body []byte) string {
	return responseData(contentType, body)
}
