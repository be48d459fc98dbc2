// Package codec serializes bridge values for backends whose ABI carries
// strings. Values travel as typed JSON envelopes: integers as strings so
// 64-bit values survive JSON number parsing, bytes as base64, composites
// as raw JSON.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/omnisdk/native-bridge/errors"
)

// Envelope is the wire form of one value.
type Envelope struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

// Encode wraps a Go value in its envelope.
func Encode(v any) (Envelope, error) {
	switch x := v.(type) {
	case nil:
		return Envelope{T: "nil"}, nil
	case bool:
		raw, _ := json.Marshal(x)
		return Envelope{T: "bool", V: raw}, nil
	case string:
		raw, _ := json.Marshal(x)
		return Envelope{T: "str", V: raw}, nil
	case int:
		return Encode(int64(x))
	case int32:
		return Encode(int64(x))
	case int64:
		raw, _ := json.Marshal(strconv.FormatInt(x, 10))
		return Envelope{T: "int", V: raw}, nil
	case float64:
		raw, _ := json.Marshal(x)
		return Envelope{T: "float", V: raw}, nil
	case []byte:
		raw, _ := json.Marshal(base64.StdEncoding.EncodeToString(x))
		return Envelope{T: "bytes", V: raw}, nil
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return Envelope{}, errors.InvalidInput(errors.PhaseNative,
				fmt.Sprintf("value of type %T cannot cross the bridge: %v", v, err))
		}
		return Envelope{T: "json", V: raw}, nil
	}
}

// Decode unwraps an envelope back into a Go value.
func Decode(e Envelope) (any, error) {
	switch e.T {
	case "nil", "":
		return nil, nil
	case "bool":
		var b bool
		if err := json.Unmarshal(e.V, &b); err != nil {
			return nil, malformed(e.T, err)
		}
		return b, nil
	case "str":
		var s string
		if err := json.Unmarshal(e.V, &s); err != nil {
			return nil, malformed(e.T, err)
		}
		return s, nil
	case "int":
		var s string
		if err := json.Unmarshal(e.V, &s); err != nil {
			return nil, malformed(e.T, err)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, malformed(e.T, err)
		}
		return n, nil
	case "float":
		var f float64
		if err := json.Unmarshal(e.V, &f); err != nil {
			return nil, malformed(e.T, err)
		}
		return f, nil
	case "bytes":
		var s string
		if err := json.Unmarshal(e.V, &s); err != nil {
			return nil, malformed(e.T, err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, malformed(e.T, err)
		}
		return b, nil
	case "json":
		var v any
		if err := json.Unmarshal(e.V, &v); err != nil {
			return nil, malformed(e.T, err)
		}
		return v, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseNative,
			fmt.Sprintf("unknown envelope type %q", e.T))
	}
}

func malformed(t string, cause error) error {
	return errors.New(errors.PhaseNative, errors.KindInvalidInput).
		Op("decode").
		Cause(cause).
		Detail("malformed %q envelope", t).
		Build()
}

// Marshal serializes one envelope.
func Marshal(e Envelope) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// MarshalValue is Encode followed by Marshal.
func MarshalValue(v any) (string, error) {
	e, err := Encode(v)
	if err != nil {
		return "", err
	}
	return Marshal(e)
}

// Unmarshal parses one serialized envelope. The empty string decodes to
// nil, matching an absent payload.
func Unmarshal(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, malformed("?", err)
	}
	return Decode(e)
}

// MarshalArgs serializes a call's arguments as a JSON array of envelopes.
func MarshalArgs(args []any) (string, error) {
	envs := make([]Envelope, len(args))
	for i, a := range args {
		e, err := Encode(a)
		if err != nil {
			return "", err
		}
		envs[i] = e
	}
	raw, err := json.Marshal(envs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
