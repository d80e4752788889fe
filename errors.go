package fondy

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure of a purchase attempt or callback.
type ErrorKind string

const (
	KindTransport         ErrorKind = "transport"          // Network, connect or timeout failure talking to the gateway.
	KindDecode            ErrorKind = "decode"             // Malformed gateway response or callback body.
	KindSignature         ErrorKind = "signature"          // Parameters could not be signed.
	KindURL               ErrorKind = "url"                // Malformed configured or returned URL.
	KindGatewayRejected   ErrorKind = "gateway_rejected"   // Well-formed failure envelope from the gateway.
	KindSignatureMismatch ErrorKind = "signature_mismatch" // Callback signature did not verify.
	KindInvalidRequest    ErrorKind = "invalid_request"    // Missing or malformed inbound field.
	KindInternal          ErrorKind = "internal"           // Anything else.
)

// Error is the structured error returned by every component. Its JSON form
// is the body rendered to HTTP clients.
type Error struct {
	Kind    ErrorKind `json:"-"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	if e == nil || e.Code == 0 {
		return http.StatusInternalServerError
	}
	return e.Code
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == kind
}

// NewTransportError wraps a failure to reach the gateway.
func NewTransportError(err error) *Error {
	return newError(KindTransport, http.StatusInternalServerError, "payment gateway is unreachable", err)
}

// NewDecodeError wraps a gateway response that could not be parsed.
func NewDecodeError(message string, err error) *Error {
	return newError(KindDecode, http.StatusInternalServerError, message, err)
}

// NewSignatureError wraps a failure to sign request parameters.
func NewSignatureError(err error) *Error {
	return newError(KindSignature, http.StatusInternalServerError, "unable to sign request", err)
}

// NewURLError wraps a malformed configured or returned URL.
func NewURLError(message string, err error) *Error {
	return newError(KindURL, http.StatusInternalServerError, message, err)
}

// NewGatewayRejectedError surfaces the gateway's own error code and message.
func NewGatewayRejectedError(gwErr *GatewayError) *Error {
	msg := "payment gateway rejected the request"
	if gwErr != nil {
		msg = fmt.Sprintf("payment gateway rejected the request: %s (code %d)", gwErr.ErrorMessage, gwErr.ErrorCode)
	}
	return newError(KindGatewayRejected, http.StatusInternalServerError, msg, gwErr)
}

// NewSignatureMismatchError rejects a callback whose signature did not verify.
func NewSignatureMismatchError(err error) *Error {
	return newError(KindSignatureMismatch, http.StatusUnauthorized, "signature verification failed", err)
}

// NewCallbackDecodeError rejects a callback body that could not be parsed.
func NewCallbackDecodeError(err error) *Error {
	return newError(KindDecode, http.StatusBadRequest, "malformed payment notification", err)
}

// NewPayloadTooLargeError rejects a request body over the configured cap.
func NewPayloadTooLargeError(limit int64, err error) *Error {
	return newError(KindInvalidRequest, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit), err)
}

// NewInvalidRequestError builds a Bad Request error.
func NewInvalidRequestError(message string, err error) *Error {
	return newError(KindInvalidRequest, http.StatusBadRequest, message, err)
}

// NewInternalError builds an Internal Server Error.
func NewInternalError(message string, err error) *Error {
	return newError(KindInternal, http.StatusInternalServerError, message, err)
}

func newError(kind ErrorKind, status int, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Code:    status,
		Message: message,
		Err:     err,
	}
}
