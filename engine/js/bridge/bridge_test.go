package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"rogchap.com/v8go"

	"github.com/bylins/mudscript/value"
)

func prepare(t *testing.T) *v8go.Context {
	iso := v8go.NewIsolate()
	ctx := v8go.NewContext(iso)
	t.Cleanup(func() {
		ctx.Close()
		iso.Dispose()
	})
	return ctx
}

// echo the value through the JS side and back
func roundTrip(t *testing.T, ctx *v8go.Context, v value.Value) value.Value {
	_, err := ctx.RunScript("function identity(v) { return v }", "identity.js")
	require.NoError(t, err)

	jsValue, err := JsValue(ctx, v)
	require.NoError(t, err)

	jsRes, err := ctx.Global().MethodCall("identity", jsValue)
	require.NoError(t, err)
	return GoValue(jsRes)
}

func TestScalarRoundTrip(t *testing.T) {
	ctx := prepare(t)
	for _, v := range []value.Value{
		value.Null(),
		value.NewBool(true),
		value.NewBool(false),
		value.NewInt(42),
		value.NewInt(-7),
		value.NewFloat(0.618),
		value.NewString("Гоблин мертв."),
	} {
		got := roundTrip(t, ctx, v)
		assert.True(t, value.Equal(v, got), "value %v came back as %v", v, got)
	}
}

func TestNestedRoundTrip(t *testing.T) {
	ctx := prepare(t)

	listOfMaps := value.NewList(
		value.NewMap(map[string]value.Value{"id": value.NewInt(1), "w": value.NewFloat(1.5)}),
		value.NewMap(map[string]value.Value{"id": value.NewInt(2), "name": value.NewString("Таверна")}),
	)
	got := roundTrip(t, ctx, listOfMaps)
	assert.True(t, value.Equal(listOfMaps, got), "got %v", got)

	mapOfLists := value.NewMap(map[string]value.Value{
		"exits": value.NewList(value.NewString("n"), value.NewString("s")),
		"hp":    value.NewList(value.NewInt(95), value.NewInt(120)),
	})
	got = roundTrip(t, ctx, mapOfLists)
	assert.True(t, value.Equal(mapOfLists, got), "got %v", got)
}

func TestGoValueUndefined(t *testing.T) {
	ctx := prepare(t)
	jsRes, err := ctx.RunScript("undefined", "undefined.js")
	require.NoError(t, err)
	assert.True(t, GoValue(jsRes).IsNull())
	assert.True(t, GoValue(nil).IsNull())
}

func TestGoValueIntegralNumberIsInt(t *testing.T) {
	ctx := prepare(t)
	jsRes, err := ctx.RunScript("40 + 2.0", "int.js")
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(42), GoValue(jsRes))

	jsRes, err = ctx.RunScript("0.5 + 0.25", "float.js")
	require.NoError(t, err)
	assert.Equal(t, value.NewFloat(0.75), GoValue(jsRes))
}

func TestGoValueFunctionFallsBackToText(t *testing.T) {
	ctx := prepare(t)
	jsRes, err := ctx.RunScript("(function named() {})", "fn.js")
	require.NoError(t, err)
	got := GoValue(jsRes)
	assert.Equal(t, value.KindString, got.Kind)
	assert.Contains(t, got.Str, "named")
}
