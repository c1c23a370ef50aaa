// Package bridge marshals values between V8 and the canonical value model.
// Scalars cross directly; structured values ride a JSON round trip, decoded
// with UseNumber so the int/float distinction survives.
package bridge

import (
	"math"

	jsoniter "github.com/json-iterator/go"
	"rogchap.com/v8go"

	"github.com/bylins/mudscript/value"
)

var json = jsoniter.Config{UseNumber: true}.Froze()

// JsValues cast canonical values to JavaScript values
func JsValues(ctx *v8go.Context, values []value.Value) ([]*v8go.Value, error) {
	res := []*v8go.Value{}
	for _, v := range values {
		jsValue, err := JsValue(ctx, v)
		if err != nil {
			return nil, err
		}
		res = append(res, jsValue)
	}
	return res, nil
}

// JsValue cast a canonical value to a JavaScript value
//
//	---------------------------------------------
//	| Canonical        | JavaScript             |
//	---------------------------------------------
//	| Null             | null                   |
//	| Bool             | boolean                |
//	| Int              | number(int)            |
//	| Float            | number(float)          |
//	| String           | string                 |
//	| List             | array                  |
//	| Map              | object                 |
//	---------------------------------------------
func JsValue(ctx *v8go.Context, v value.Value) (*v8go.Value, error) {
	switch v.Kind {
	case value.KindNull:
		return v8go.Null(ctx.Isolate()), nil
	case value.KindBool:
		return v8go.NewValue(ctx.Isolate(), v.Bool)
	case value.KindInt:
		// int32 range crosses as a plain number; v8go turns a raw int64
		// into a BigInt, which does not mix with JS number arithmetic
		if v.Int >= math.MinInt32 && v.Int <= math.MaxInt32 {
			return v8go.NewValue(ctx.Isolate(), int32(v.Int))
		}
		return v8go.NewValue(ctx.Isolate(), float64(v.Int))
	case value.KindFloat:
		return v8go.NewValue(ctx.Isolate(), v.Float)
	case value.KindString:
		return v8go.NewValue(ctx.Isolate(), v.Str)
	default:
		data, err := json.Marshal(v.ToInterface())
		if err != nil {
			return nil, err
		}
		return v8go.JSONParse(ctx, string(data))
	}
}

// GoValue cast a JavaScript value to a canonical value. The conversion is
// total: values with no data shape (functions, symbols, detached objects)
// fall back to their textual form.
//
//	---------------------------------------------
//	| JavaScript       | Canonical              |
//	---------------------------------------------
//	| null, undefined  | Null                   |
//	| boolean          | Bool                   |
//	| number(integral) | Int                    |
//	| number(float)    | Float                  |
//	| bigint           | Int                    |
//	| string           | String                 |
//	| array            | List                   |
//	| object           | Map                    |
//	| anything else    | String (textual form)  |
//	---------------------------------------------
func GoValue(v *v8go.Value) value.Value {
	if v == nil || v.IsNull() || v.IsUndefined() {
		return value.Null()
	}

	if v.IsString() {
		return value.NewString(v.String())
	}

	if v.IsBoolean() {
		return value.NewBool(v.Boolean())
	}

	if v.IsNumber() {
		n := v.Number()
		if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) <= float64(math.MaxInt64) {
			return value.NewInt(int64(n))
		}
		return value.NewFloat(n)
	}

	if v.IsBigInt() {
		return value.NewInt(v.BigInt().Int64())
	}

	if v.IsFunction() {
		return value.NewString(v.String())
	}

	if v.IsArray() || v.IsObject() {
		if parsed, ok := parse(v); ok {
			return parsed
		}
	}

	return value.NewString(v.String())
}

// parse run a structured value through JSON
func parse(v *v8go.Value) (value.Value, bool) {
	data, err := v.MarshalJSON()
	if err != nil {
		return value.Null(), false
	}

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return value.Null(), false
	}
	return value.FromInterface(decoded), true
}

// JsException throw an exception into the context and return the
// undefined value the callback must hand back
func JsException(ctx *v8go.Context, message string) *v8go.Value {
	msg, err := v8go.NewValue(ctx.Isolate(), message)
	if err != nil {
		return v8go.Undefined(ctx.Isolate())
	}
	return ctx.Isolate().ThrowException(msg)
}

// FreeJsValues release the values unless null or undefined
func FreeJsValues(values []*v8go.Value) {
	for _, v := range values {
		if v != nil && !v.IsNull() && !v.IsUndefined() {
			v.Release()
		}
	}
}

// Valuers cast values to valuers for calls
func Valuers(values []*v8go.Value) []v8go.Valuer {
	res := []v8go.Valuer{}
	for _, v := range values {
		res = append(res, v)
	}
	return res
}
