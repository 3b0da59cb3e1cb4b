package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	lua "github.com/yuin/gopher-lua"
)

func TestConvert_RoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	in := map[string]any{
		"gesture":     "open_palm",
		"fingerCount": 5.0,
		"confident":   true,
		"tags":        []any{"a", "b"},
		"nested":      map[string]any{"depth": 2.0},
	}

	out := luaToGo(goToLua(L, in))
	assert.Equal(t, in, out)
}

func TestConvert_ArrayDetection(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	// Contiguous integer keys from 1 decode as a slice.
	tbl := L.NewTable()
	tbl.Append(lua.LString("x"))
	tbl.Append(lua.LString("y"))
	assert.Equal(t, []any{"x", "y"}, luaToGo(tbl))

	// A gap forces map representation.
	sparse := L.NewTable()
	L.RawSetInt(sparse, 1, lua.LString("x"))
	L.RawSetInt(sparse, 3, lua.LString("z"))
	assert.Equal(t, map[string]any{"1": "x", "3": "z"}, luaToGo(sparse))

	// Mixed keys are a map.
	mixed := L.NewTable()
	L.RawSetInt(mixed, 1, lua.LString("x"))
	L.SetField(mixed, "k", lua.LString("v"))
	assert.Equal(t, map[string]any{"1": "x", "k": "v"}, luaToGo(mixed))
}

func TestConvert_UnrepresentableValuesDropToNil(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	fn := L.NewFunction(func(L *lua.LState) int { return 0 })
	assert.Nil(t, luaToGo(fn))
}

func TestConvert_EmptyTableIsMap(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	assert.Equal(t, map[string]any{}, luaToGo(L.NewTable()))
}
