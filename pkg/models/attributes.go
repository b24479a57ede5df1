package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AttrKind discriminates the scalar kinds an attribute value may hold.
type AttrKind int

const (
	AttrString AttrKind = iota
	AttrInt
	AttrBool
)

// AttrValue is a scalar attribute value: string, int64 or bool. Secret
// attributes are open-ended metadata (contentType, expiry hints, ...) but
// are restricted to these kinds so they round-trip through storage exactly.
type AttrValue struct {
	Kind AttrKind
	Str  string
	Int  int64
	Bool bool
}

// Attributes is the caller-supplied attribute mapping merged over the
// defaulted attributes (enabled/created/updated/recoveryLevel) in responses.
type Attributes map[string]AttrValue

func StringAttr(s string) AttrValue { return AttrValue{Kind: AttrString, Str: s} }
func IntAttr(i int64) AttrValue     { return AttrValue{Kind: AttrInt, Int: i} }
func BoolAttr(b bool) AttrValue     { return AttrValue{Kind: AttrBool, Bool: b} }

// Native returns the value as the corresponding Go type, for use in
// JSON response maps.
func (v AttrValue) Native() any {
	switch v.Kind {
	case AttrInt:
		return v.Int
	case AttrBool:
		return v.Bool
	default:
		return v.Str
	}
}

// MarshalJSON encodes the underlying scalar directly.
func (v AttrValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON accepts JSON strings, integers and booleans. Anything else
// (floats, null, arrays, objects) is rejected so malformed input fails at
// the boundary instead of corrupting stored attributes.
func (v *AttrValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case string:
		*v = StringAttr(val)
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return fmt.Errorf("attribute value %q is not an integer", val.String())
		}
		*v = IntAttr(i)
	case bool:
		*v = BoolAttr(val)
	default:
		return fmt.Errorf("attribute value must be a string, integer or boolean, got %T", raw)
	}
	return nil
}
