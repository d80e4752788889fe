// Package signature implements the Fondy request signature: the merchant
// password followed by every scalar parameter value, ordered by key and joined
// with "|", hashed with SHA-1 and rendered as lowercase hex.
package signature

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// Key is the parameter name the digest is stored under.
const Key = "signature"

// ResponseSignatureStringKey is the diagnostic field some gateway callbacks
// carry next to the signature. It never takes part in signing.
const ResponseSignatureStringKey = "response_signature_string"

const separator = "|"

var (
	// ErrNotMapping reports a signing input that is not a flat JSON object.
	ErrNotMapping = errors.New("signature: parameters must be a JSON object")
	// ErrMissingSignature reports a payload that carries no signature field.
	ErrMissingSignature = errors.New("signature: payload is not signed")
	// ErrSignatureMismatch reports a signature that does not match the payload.
	ErrSignatureMismatch = errors.New("signature: signature does not match payload")
)

// SigningString returns the pre-hash string for params. It starts with the
// secret, so it must only ever be logged in development.
func SigningString(secret string, params Params) string {
	var b strings.Builder
	b.WriteString(secret)
	for _, p := range params.Sorted() {
		b.WriteString(separator)
		b.WriteString(p.Value.String())
	}
	return b.String()
}

// Sign computes the digest of params with the merchant secret.
func Sign(secret string, params Params) string {
	sum := sha1.Sum([]byte(SigningString(secret, params)))
	return hex.EncodeToString(sum[:])
}

// SignJSON signs a raw JSON object. Arrays, objects and nulls nested in the
// object are skipped; any document that is not an object fails with
// [ErrNotMapping].
func SignJSON(secret string, raw []byte) (string, error) {
	params, err := FromJSON(raw)
	if err != nil {
		return "", err
	}
	return Sign(secret, params), nil
}

// Verifier validates the authenticity of gateway payloads.
type Verifier interface {
	Verify(ctx context.Context, params Params) error
}

// VerifierFunc lifts bare functions into [Verifier].
type VerifierFunc func(ctx context.Context, params Params) error

// Verify delegates to the wrapped function.
func (f VerifierFunc) Verify(ctx context.Context, params Params) error {
	return f(ctx, params)
}

// SHA1Verifier recomputes the digest over every parameter except the
// signature itself and compares it with the received one.
type SHA1Verifier struct {
	Secret string
	// OmitEmpty drops empty string values before signing, matching the
	// gateway's callback signing rules.
	OmitEmpty bool
}

// Verify implements [Verifier].
func (v SHA1Verifier) Verify(_ context.Context, params Params) error {
	if v.Secret == "" {
		return errors.New("signature: SHA1Verifier requires a non-empty secret")
	}
	received, ok := params.Get(Key)
	if !ok || received.String() == "" {
		return ErrMissingSignature
	}
	signed := params.Without(Key, ResponseSignatureStringKey)
	if v.OmitEmpty {
		signed = signed.NonEmpty()
	}
	expected := Sign(v.Secret, signed)
	got := strings.ToLower(received.String())
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// FromJSON decodes a JSON object into Params, keeping numbers in their
// original textual form.
func FromJSON(raw []byte) (Params, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("signature: decode parameters: %w", err)
	}
	if dec.More() {
		return nil, errors.New("signature: multiple JSON documents in body")
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, ErrNotMapping
	}
	return FromMap(obj), nil
}

// FromMap converts a decoded JSON object into Params. Values that are not
// booleans, numbers or strings are dropped.
func FromMap(m map[string]any) Params {
	params := make(Params, 0, len(m))
	for k, raw := range m {
		v, ok := scalar(raw)
		if !ok {
			continue
		}
		params = append(params, Param{Key: k, Value: v})
	}
	slices.SortFunc(params, compareParams)
	return params
}

func scalar(raw any) (Value, bool) {
	switch v := raw.(type) {
	case bool:
		return Bool(v), true
	case string:
		return String(v), true
	case json.Number:
		return Number(v), true
	case float64:
		return Float(v), true
	case int:
		return Int(int64(v)), true
	case int64:
		return Int(v), true
	case uint64:
		return Uint(v), true
	default:
		return Value{}, false
	}
}

// ReadAndBufferBody reads the request body while keeping it accessible for later handlers.
func ReadAndBufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// CanonicalizeJSONBody normalizes arbitrary JSON into canonical form so two
// deliveries of the same payload compare byte for byte.
func CanonicalizeJSONBody(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("signature: multiple JSON documents in body")
	}
	return canonicaljson.Marshal(payload)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
