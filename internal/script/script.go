// Package script runs user-defined commands written in Lua. Each
// configured script becomes a workspace command; invocations run in a
// fresh interpreter state so one script cannot poison another.
package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/typserve/internal/logging"
)

// Common script errors.
var (
	// ErrUnknownCommand indicates no script is registered under the
	// name.
	ErrUnknownCommand = errors.New("unknown user command")
)

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = 5 * time.Second

// Engine maps command names to Lua scripts and runs them on demand.
type Engine struct {
	scripts map[string]string
	timeout time.Duration
	log     *logging.Logger
}

// NewEngine creates an engine over the configured name-to-path map.
func NewEngine(scripts map[string]string, log *logging.Logger) *Engine {
	return &Engine{
		scripts: scripts,
		timeout: DefaultTimeout,
		log:     logging.Component(log, "script"),
	}
}

// Commands returns the registered command names, sorted.
func (e *Engine) Commands() []string {
	names := make([]string, 0, len(e.scripts))
	for name := range e.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered command.
func (e *Engine) Has(name string) bool {
	_, ok := e.scripts[name]
	return ok
}

// Run executes the named script with the given arguments. The script
// sees the arguments as a global "args" table and its return value
// becomes the command result.
func (e *Engine) Run(ctx context.Context, name string, args []any) (any, error) {
	path, ok := e.scripts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	argTable := L.NewTable()
	for _, a := range args {
		argTable.Append(goToLua(L, a))
	}
	L.SetGlobal("args", argTable)

	e.log.Debug("running user command", "name", name, "script", path)
	if err := L.DoFile(path); err != nil {
		return nil, fmt.Errorf("user command %s: %w", name, err)
	}

	ret := L.Get(-1)
	if ret == lua.LNil {
		return nil, nil
	}
	return luaToGo(ret), nil
}

// goToLua converts a JSON-shaped Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		t := L.NewTable()
		for _, e := range v {
			t.Append(goToLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range v {
			t.RawSetString(k, goToLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// luaToGo converts a Lua value back to a JSON-shaped Go value.
func luaToGo(v lua.LValue) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		// Array part when contiguous, map otherwise.
		if v.Len() > 0 {
			arr := make([]any, 0, v.Len())
			for i := 1; i <= v.Len(); i++ {
				arr = append(arr, luaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(k, e lua.LValue) {
			m[k.String()] = luaToGo(e)
		})
		return m
	default:
		return nil
	}
}
