package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Value is the operand of a terminal: String, Number, *Range or Raw.
type Value interface {
	value()
}

type String string

func (String) value() {}

// Number encodes NaN and infinities as JSON null, matching what browsers
// send for them.
type Number float64

func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (Number) value() {}

type Range struct {
	From         Value `json:"from"`
	To           Value `json:"to"`
	IncludeLower bool  `json:"include_lower"`
	IncludeUpper bool  `json:"include_upper"`
}

func (*Range) value() {}

// Raw carries any other JSON operand (lists, booleans, null) unchanged.
type Raw json.RawMessage

func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (Raw) value() {}

// CloneValue deep-copies v.
func CloneValue(v Value) Value {
	switch x := v.(type) {
	case *Range:
		if x == nil {
			return x
		}
		return &Range{
			From:         CloneValue(x.From),
			To:           CloneValue(x.To),
			IncludeLower: x.IncludeLower,
			IncludeUpper: x.IncludeUpper,
		}
	case Raw:
		return append(Raw(nil), x...)
	default:
		return v
	}
}

// EqualValues reports whether a and b hold the same operand. Values of
// different kinds are never equal, and NaN is not equal to itself.
func EqualValues(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case *Range:
		y, ok := b.(*Range)
		if !ok || x == nil || y == nil {
			return ok && x == y
		}
		return x.IncludeLower == y.IncludeLower &&
			x.IncludeUpper == y.IncludeUpper &&
			EqualValues(x.From, y.From) &&
			EqualValues(x.To, y.To)
	case Raw:
		y, ok := b.(Raw)
		return ok && bytes.Equal(x, y)
	}
	return false
}

func decodeValue(data json.RawMessage) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		if _, ok := fields["from"]; !ok {
			break
		}
		if _, ok := fields["to"]; !ok {
			break
		}
		return decodeRange(fields)
	case '[', 't', 'f', 'n':
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("invalid value %s: %w", data, err)
		}
		return Number(f), nil
	}

	return append(Raw(nil), data...), nil
}

func decodeRange(fields map[string]json.RawMessage) (*Range, error) {
	r := &Range{}
	var err error
	if r.From, err = decodeValue(fields["from"]); err != nil {
		return nil, err
	}
	if r.To, err = decodeValue(fields["to"]); err != nil {
		return nil, err
	}
	if raw, ok := fields["include_lower"]; ok {
		if err := json.Unmarshal(raw, &r.IncludeLower); err != nil {
			return nil, fmt.Errorf("invalid include_lower: %w", err)
		}
	}
	if raw, ok := fields["include_upper"]; ok {
		if err := json.Unmarshal(raw, &r.IncludeUpper); err != nil {
			return nil, fmt.Errorf("invalid include_upper: %w", err)
		}
	}
	return r, nil
}
