package signature

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the scalar carried by a [Value].
type Kind uint8

const (
	KindString Kind = iota
	KindNumber
	KindBool
)

// Value is a scalar parameter value. Only booleans, numbers and strings can
// be represented, so nested structures never reach the signer.
type Value struct {
	kind Kind
	text string
}

// String wraps a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, text: strconv.FormatBool(b)} }

// Int wraps a signed integer value.
func Int(n int64) Value { return Value{kind: KindNumber, text: strconv.FormatInt(n, 10)} }

// Uint wraps an unsigned integer value.
func Uint(n uint64) Value { return Value{kind: KindNumber, text: strconv.FormatUint(n, 10)} }

// Float wraps a floating point value.
func Float(f float64) Value { return Value{kind: KindNumber, text: formatFloat(f)} }

// Number wraps a JSON number, keeping its textual form.
func Number(n json.Number) Value { return Value{kind: KindNumber, text: n.String()} }

// Kind reports which scalar the value holds.
func (v Value) Kind() Kind { return v.kind }

// String returns the canonical form used when signing: numbers and booleans
// without quotes, strings verbatim.
func (v Value) String() string { return v.text }

// MarshalJSON encodes the value with its JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber, KindBool:
		if v.text == "" {
			return []byte("null"), nil
		}
		return []byte(v.text), nil
	default:
		return json.Marshal(v.text)
	}
}

// Param is a single key/value pair.
type Param struct {
	Key   string
	Value Value
}

// Params is an ordered, flat parameter set.
type Params []Param

// Set replaces the value of key in place or appends it.
func (p *Params) Set(key string, v Value) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = v
			return
		}
	}
	*p = append(*p, Param{Key: key, Value: v})
}

// Get returns the value stored under key.
func (p Params) Get(key string) (Value, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return Value{}, false
}

// Delete removes key if present.
func (p *Params) Delete(key string) {
	*p = slices.DeleteFunc(*p, func(param Param) bool { return param.Key == key })
}

// Len returns the number of parameters.
func (p Params) Len() int { return len(p) }

// Clone returns an independent copy.
func (p Params) Clone() Params { return slices.Clone(p) }

// Without returns a copy with the given keys removed.
func (p Params) Without(keys ...string) Params {
	out := make(Params, 0, len(p))
	for _, param := range p {
		if slices.Contains(keys, param.Key) {
			continue
		}
		out = append(out, param)
	}
	return out
}

// NonEmpty returns a copy without empty string values.
func (p Params) NonEmpty() Params {
	out := make(Params, 0, len(p))
	for _, param := range p {
		if param.Value.kind == KindString && param.Value.text == "" {
			continue
		}
		out = append(out, param)
	}
	return out
}

// Sorted returns a copy ordered by key, byte-wise ascending.
func (p Params) Sorted() Params {
	out := slices.Clone(p)
	slices.SortStableFunc(out, compareParams)
	return out
}

// Map returns the parameters as plain strings.
func (p Params) Map() map[string]string {
	out := make(map[string]string, len(p))
	for _, param := range p {
		out[param.Key] = param.Value.String()
	}
	return out
}

// MarshalJSON encodes the parameters as a flat JSON object in insertion order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := param.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, skipping non-scalar values.
func (p *Params) UnmarshalJSON(b []byte) error {
	params, err := FromJSON(b)
	if err != nil {
		return err
	}
	*p = params
	return nil
}

func compareParams(a, b Param) int {
	return strings.Compare(a.Key, b.Key)
}
