package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpUndumpPreservesConstantsAndArithmetic(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(`
local function fib(n)
	if n < 2 then return n end
	return fib(n - 1) + fib(n - 2)
end
return fib(10)
`), "=fib")
	require.NoError(t, err)

	data, err := DumpClosure(cl, false)
	require.NoError(t, err)

	proto, err := Undump(data, "=fib.reloaded", gs.gc, gs.strings)
	require.NoError(t, err)
	reloaded := &Closure{Proto: proto}
	gs.gc.link(reloaded)
	envUp := &Upvalue{closed: true, value: gs.Globals()}
	gs.gc.link(envUp)
	reloaded.Upvals = []*Upvalue{envUp}

	results, err := gs.Call(gs.MainThread(), reloaded, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, Int(55), results[0])
}

func TestDumpStripRemovesDebugInfoButKeepsBehavior(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(`return "stripped" .. "-ok"`), "=str")
	require.NoError(t, err)

	stripped, err := DumpClosure(cl, true)
	require.NoError(t, err)
	full, err := DumpClosure(cl, false)
	require.NoError(t, err)
	assert.Less(t, len(stripped), len(full)+1)

	loaded, err := gs.LoadAny(stripped, "=str.reloaded")
	require.NoError(t, err)
	results, err := gs.Call(gs.MainThread(), loaded, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, "stripped-ok", results[0].String())
}

func TestUndumpRejectsTruncatedData(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(`return 1`), "=ok")
	require.NoError(t, err)
	data, err := DumpClosure(cl, false)
	require.NoError(t, err)

	_, err = Undump(data[:len(data)/2], "=truncated", gs.gc, gs.strings)
	assert.Error(t, err)
}
