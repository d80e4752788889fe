package fondy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ResponseStatus mirrors the response_status field of gateway responses.
type ResponseStatus string

const (
	ResponseStatusSuccess ResponseStatus = "success"
	ResponseStatusFailure ResponseStatus = "failure"
)

// Envelope mirrors the gateway convention of nesting payloads under "response".
type Envelope[T any] struct {
	Response T `json:"response"`
}

// DataOrError decodes a gateway response that carries either a success
// payload D or a failure payload E. There is no discriminator field: the
// success shape is tried first and accepted only when it validates, then the
// failure shape. A body matching both shapes is not expected from the gateway
// and decodes as success.
type DataOrError[D, E any] struct {
	data *D
	err  *E
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *DataOrError[D, E]) UnmarshalJSON(b []byte) error {
	var probe Envelope[json.RawMessage]
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if len(bytes.TrimSpace(probe.Response)) == 0 || bytes.Equal(bytes.TrimSpace(probe.Response), []byte("null")) {
		return errors.New("response envelope is empty")
	}

	var data D
	dataErr := json.Unmarshal(probe.Response, &data)
	if dataErr == nil {
		if dataErr = validate.Struct(data); dataErr == nil {
			r.data, r.err = &data, nil
			return nil
		}
	}

	var failure E
	failErr := json.Unmarshal(probe.Response, &failure)
	if failErr == nil {
		if failErr = validate.Struct(failure); failErr == nil {
			r.data, r.err = nil, &failure
			return nil
		}
	}
	return fmt.Errorf("response matches neither success (%v) nor failure (%v) shape",
		normalizeValidationError(dataErr), normalizeValidationError(failErr))
}

// Result unwraps the union. Exactly one of the returned pointers is non-nil
// after a successful decode.
func (r DataOrError[D, E]) Result() (*D, *E) {
	return r.data, r.err
}

// CheckoutRedirect is the success payload of the checkout URL call.
type CheckoutRedirect struct {
	ResponseStatus ResponseStatus `json:"response_status"`
	CheckoutURL    string         `json:"checkout_url" validate:"required"`
	PaymentID      FlexString     `json:"payment_id" validate:"required"`
}

// GatewayError is the failure payload the gateway returns for rejected requests.
type GatewayError struct {
	ResponseStatus ResponseStatus `json:"response_status"`
	ErrorCode      int            `json:"error_code" validate:"required"`
	ErrorMessage   string         `json:"error_message"`
	RequestID      string         `json:"request_id,omitempty"`
}

// Error makes *GatewayError satisfy the stdlib error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("gateway error %d: %s", e.ErrorCode, e.ErrorMessage)
}

// CheckoutResponse is the decoded body of the checkout URL call.
type CheckoutResponse = DataOrError[CheckoutRedirect, GatewayError]

// DecodeCheckoutResponse parses a checkout URL response body into either a
// redirect or a gateway error.
func DecodeCheckoutResponse(body []byte) (*CheckoutRedirect, *GatewayError, error) {
	var resp CheckoutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, err
	}
	data, failure := resp.Result()
	return data, failure, nil
}

// FlexString accepts both JSON strings and numbers. The gateway is not
// consistent about identifier types across endpoints.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

// String returns the raw value.
func (s FlexString) String() string { return string(s) }
