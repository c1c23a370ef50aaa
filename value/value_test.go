package value

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromInterfaceScalars(t *testing.T) {
	assert.Equal(t, KindNull, FromInterface(nil).Kind)
	assert.Equal(t, NewBool(true), FromInterface(true))
	assert.Equal(t, NewInt(42), FromInterface(42))
	assert.Equal(t, NewInt(42), FromInterface(uint16(42)))
	assert.Equal(t, NewFloat(0.618), FromInterface(0.618))
	assert.Equal(t, NewString("бар"), FromInterface("бар"))
}

func TestFromInterfaceJSONNumber(t *testing.T) {
	assert.Equal(t, NewInt(1024), FromInterface(json.Number("1024")))
	assert.Equal(t, NewFloat(3.14), FromInterface(json.Number("3.14")))
}

func TestFromInterfaceFallback(t *testing.T) {
	type opaque struct{ A int }
	v := FromInterface(opaque{A: 1})
	assert.Equal(t, KindString, v.Kind)
	assert.Equal(t, "{1}", v.Str)

	v = FromInterface(bytes.NewBufferString("text"))
	assert.Equal(t, NewString("text"), v)
}

func TestNestedRoundTrip(t *testing.T) {
	src := map[string]interface{}{
		"rooms": []interface{}{
			map[string]interface{}{"id": 7, "name": "Таверна", "exits": []interface{}{"n", "s"}},
			map[string]interface{}{"id": 8, "name": "Площадь", "weight": 1.5},
		},
		"hp": 100,
	}
	v := FromInterface(src)
	assert.Equal(t, KindMap, v.Kind)
	assert.Equal(t, KindList, v.Map["rooms"].Kind)

	back := FromInterface(v.ToInterface())
	assert.True(t, Equal(v, back))

	rooms := ToList(v.Map["rooms"])
	assert.Len(t, rooms, 2)
	assert.Equal(t, NewInt(7), ToMap(rooms[0])["id"])
	assert.Equal(t, NewFloat(1.5), ToMap(rooms[1])["weight"])
}

func TestIntFloatDistinct(t *testing.T) {
	assert.False(t, Equal(NewInt(1), NewFloat(1)))
	assert.Equal(t, "1", NewInt(1).Text())
	assert.Equal(t, "1.5", NewFloat(1.5).Text())
	assert.Equal(t, float64(1), NewInt(1).Number())
	assert.Equal(t, 2.5, NewString(" 2.5 ").Number())
}

func TestShapeHelpers(t *testing.T) {
	assert.Empty(t, ToMap(NewString("no")))
	assert.Empty(t, ToList(NewInt(1)))
	assert.Equal(t, []string{"a", "b"}, Keys(NewMap(map[string]Value{"b": Null(), "a": Null()})))
}

func TestText(t *testing.T) {
	assert.Equal(t, "", Null().Text())
	assert.Equal(t, "true", NewBool(true).Text())
	assert.Equal(t, `["a",1]`, NewList(NewString("a"), NewInt(1)).Text())
}
