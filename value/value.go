package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// json.Number stays the stdlib type; the codecs that feed FromInterface
// decode with UseNumber and produce exactly it
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind the canonical value kind
type Kind int

// The closed set of canonical kinds. Every foreign runtime value is
// normalized into exactly one of these before it crosses the host boundary.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// Value the canonical value shared by the host and every engine adapter.
// Int and Float are kept apart so that a value round-tripped through a
// runtime that distinguishes them comes back with the same kind.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	List  []Value
	Map   map[string]Value
}

// Null create a null value
func Null() Value { return Value{Kind: KindNull} }

// NewBool create a boolean value
func NewBool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// NewInt create an integer value
func NewInt(v int64) Value { return Value{Kind: KindInt, Int: v} }

// NewFloat create a float value
func NewFloat(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// NewString create a string value
func NewString(v string) Value { return Value{Kind: KindString, Str: v} }

// NewList create a list value
func NewList(items ...Value) Value { return Value{Kind: KindList, List: items} }

// NewMap create a map value
func NewMap(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindMap, Map: m}
}

// IsNull check if the value is null
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Number the numeric content as float64. Non-numeric kinds try a textual
// parse and fall back to 0.
func (v Value) Number() float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.Int)
	case KindFloat:
		return v.Float
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

// Text the best textual form of the value
func (v Value) Text() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindString:
		return v.Str
	case KindList, KindMap:
		data, err := codec.Marshal(v.ToInterface())
		if err != nil {
			return fmt.Sprintf("%v", v.ToInterface())
		}
		return string(data)
	}
	return ""
}

// Equal deep equality over canonical values
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for key, av := range a.Map {
			bv, has := b.Map[key]
			if !has || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// FromInterface normalize a decoded interface tree into a canonical value.
// The conversion is total: anything that matches no known shape falls back
// to its default textual representation.
//
//	---------------------------------------------------
//	| Go                      | Canonical             |
//	---------------------------------------------------
//	| nil                     | Null                  |
//	| bool                    | Bool                  |
//	| int, int8..int64        | Int                   |
//	| uint, uint8..uint64     | Int                   |
//	| float32, float64        | Float                 |
//	| json.Number             | Int or Float          |
//	| string                  | String                |
//	| []interface{}           | List                  |
//	| map[string]interface{}  | Map                   |
//	| map[interface{}]...     | Map (stringed keys)   |
//	| anything else           | String (fmt %v)       |
//	---------------------------------------------------
func FromInterface(v interface{}) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case Value:
		return val
	case bool:
		return NewBool(val)
	case int:
		return NewInt(int64(val))
	case int8:
		return NewInt(int64(val))
	case int16:
		return NewInt(int64(val))
	case int32:
		return NewInt(int64(val))
	case int64:
		return NewInt(val)
	case uint:
		return NewInt(int64(val))
	case uint8:
		return NewInt(int64(val))
	case uint16:
		return NewInt(int64(val))
	case uint32:
		return NewInt(int64(val))
	case uint64:
		return NewInt(int64(val))
	case float32:
		return NewFloat(float64(val))
	case float64:
		return NewFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return NewInt(i)
		}
		if f, err := val.Float64(); err == nil {
			return NewFloat(f)
		}
		return NewString(val.String())
	case string:
		return NewString(val)
	case []interface{}:
		items := make([]Value, 0, len(val))
		for _, item := range val {
			items = append(items, FromInterface(item))
		}
		return NewList(items...)
	case []string:
		items := make([]Value, 0, len(val))
		for _, item := range val {
			items = append(items, NewString(item))
		}
		return NewList(items...)
	case map[string]interface{}:
		m := make(map[string]Value, len(val))
		for key, item := range val {
			m[key] = FromInterface(item)
		}
		return NewMap(m)
	case map[string]string:
		m := make(map[string]Value, len(val))
		for key, item := range val {
			m[key] = NewString(item)
		}
		return NewMap(m)
	case map[interface{}]interface{}:
		m := make(map[string]Value, len(val))
		for key, item := range val {
			m[fmt.Sprintf("%v", key)] = FromInterface(item)
		}
		return NewMap(m)
	case fmt.Stringer:
		return NewString(val.String())
	default:
		return NewString(fmt.Sprintf("%v", v))
	}
}

// ToInterface the canonical value as a plain interface tree, suitable for
// JSON encoding and for re-marshaling into a foreign runtime.
func (v Value) ToInterface() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindList:
		items := make([]interface{}, 0, len(v.List))
		for _, item := range v.List {
			items = append(items, item.ToInterface())
		}
		return items
	case KindMap:
		m := make(map[string]interface{}, len(v.Map))
		for key, item := range v.Map {
			m[key] = item.ToInterface()
		}
		return m
	}
	return nil
}

// ToMap the map content of the value, an empty map if the value is not
// map-shaped
func ToMap(v Value) map[string]Value {
	if v.Kind != KindMap || v.Map == nil {
		return map[string]Value{}
	}
	return v.Map
}

// ToList the list content of the value, an empty list if the value is not
// list-shaped
func ToList(v Value) []Value {
	if v.Kind != KindList {
		return []Value{}
	}
	return v.List
}

// Keys the sorted key set of a map-shaped value
func Keys(v Value) []string {
	keys := make([]string, 0, len(v.Map))
	for key := range v.Map {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
