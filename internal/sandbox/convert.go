package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a JSON-representable Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		return goMapToLuaTable(L, val)
	default:
		return lua.LNil
	}
}

// goMapToLuaTable converts a Go map to a Lua table.
func goMapToLuaTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, goToLua(L, v))
	}
	return tbl
}

// luaToGo converts a Lua value to a JSON-representable Go value.
// Functions, userdata, threads and channels convert to nil.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// A table with only positive integer keys 1..n is an
		// array; anything else marshals as a map.
		isArray := true
		maxIdx := 0
		count := 0
		val.ForEach(func(k, _ lua.LValue) {
			count++
			if num, ok := k.(lua.LNumber); ok && num == lua.LNumber(int(num)) && int(num) >= 1 {
				if int(num) > maxIdx {
					maxIdx = int(num)
				}
			} else {
				isArray = false
			}
		})

		if isArray && maxIdx > 0 && maxIdx == count {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, v lua.LValue) {
				idx := int(k.(lua.LNumber)) - 1
				arr[idx] = luaToGo(v)
			})
			return arr
		}
		return luaTableToGoMap(val)
	default:
		return nil
	}
}

// luaTableToGoMap converts a Lua table to a Go map. Non-string keys
// are stringified through their Lua representation.
func luaTableToGoMap(tbl *lua.LTable) map[string]any {
	result := make(map[string]any)
	tbl.ForEach(func(key, value lua.LValue) {
		result[key.String()] = luaToGo(value)
	})
	return result
}
