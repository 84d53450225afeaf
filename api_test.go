package mask

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeQueriesAndValueReaders(t *testing.T) {
	gs := NewGlobalState()
	l := gs.MainThread()

	assert.Equal(t, TagNil, TypeOf(nil))
	assert.True(t, IsNil(nil))
	assert.True(t, IsBoolean(Bool(true)))
	assert.True(t, IsNumber(Int(1)))
	assert.True(t, IsNumber(Float(1.5)))
	assert.True(t, IsString(gs.NewString([]byte("x"))))
	assert.True(t, IsTable(gs.NewTableWithHint(0, 0)))
	assert.True(t, IsThread(l))

	cc := gs.NewCClosure(func(*Thread) (int, error) { return 0, nil })
	assert.True(t, IsFunction(cc))

	n, ok := ToInt(Int(42))
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	f, ok := ToFloat(Float(3.5))
	require.True(t, ok)
	assert.Equal(t, 3.5, f)

	assert.True(t, ToBoolean(Int(0))) // only nil/false are falsy
	assert.False(t, ToBoolean(Bool(false)))

	s, err := gs.ToString(l, gs.NewString([]byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, "hi", s)

	th, ok := ToThread(l)
	require.True(t, ok)
	assert.Same(t, l, th)
}

func TestNewUserDataRoundTrip(t *testing.T) {
	gs := NewGlobalState()
	u := gs.NewUserData("payload", 2)
	data, ok := ToUserData(u)
	require.True(t, ok)
	assert.Equal(t, "payload", data)
	assert.Len(t, u.UserValues, 2)
}

func TestTableFieldAndIndexAccessors(t *testing.T) {
	gs := NewGlobalState()
	l := gs.MainThread()
	tbl := gs.NewTableWithHint(2, 2)

	require.NoError(t, gs.SetField(l, tbl, "name", gs.NewString([]byte("mask"))))
	v, err := gs.GetField(l, tbl, "name")
	require.NoError(t, err)
	assert.Equal(t, "mask", v.String())

	require.NoError(t, gs.SetIndex(l, tbl, 1, Int(7)))
	v2, err := gs.GetIndex(l, tbl, 1)
	require.NoError(t, err)
	assert.Equal(t, Int(7), v2)
}

func TestLoadAnyDispatchesToTextParserForSource(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.LoadAny([]byte(`return 1 + 1`), "=test")
	require.NoError(t, err)
	results, err := gs.Call(gs.MainThread(), cl, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, Int(2), results[0])
}

func TestDumpUndumpRoundTrip(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(`return 21 * 2`), "=test")
	require.NoError(t, err)

	data, err := DumpClosure(cl, true)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	loaded, err := gs.LoadAny(data, "=reloaded")
	require.NoError(t, err)
	results, err := gs.Call(gs.MainThread(), loaded, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, Int(42), results[0])
}

func TestWarnInvokesRegisteredHandler(t *testing.T) {
	gs := NewGlobalState()
	var got string
	gs.SetWarningHandler(func(msg string, cont bool) { got = msg })
	gs.warningOn = true
	gs.Warn("careful", false)
	assert.Equal(t, "careful", got)
}

func TestAtPanicInvokedOnUnprotectedError(t *testing.T) {
	gs := NewGlobalState()
	var caught Value
	gs.AtPanic(func(l *Thread, v Value) { caught = v })
	cl, err := gs.Load([]byte(`
local t = nil
return t.field
`), "=test")
	require.NoError(t, err)
	_, callErr := gs.Call(gs.MainThread(), cl, nil, -1)
	require.Error(t, callErr)
	_ = caught
}

func TestSetILPRaisesOnRunawayBackwardJump(t *testing.T) {
	gs := NewGlobalState()
	gs.SetILP(true, 1000)
	cl, err := gs.Load([]byte(`
local i = 0
while true do
	i = i + 1
end
`), "=test")
	require.NoError(t, err)
	_, err = gs.Call(gs.MainThread(), cl, nil, -1)
	require.Error(t, err)
}

func TestSetETLRaisesOnExceedingTimeLimit(t *testing.T) {
	gs := NewGlobalState()
	gs.SetETL(true, time.Millisecond)
	cl, err := gs.Load([]byte(`
local i = 0
while true do
	i = i + 1
end
`), "=test")
	require.NoError(t, err)
	_, err = gs.Call(gs.MainThread(), cl, nil, -1)
	require.Error(t, err)
}

func TestCompileWarningsResetScopesToNextLoad(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
local function f(x: int) return x end
f("a")
`), "=test")
	require.NoError(t, err)
	require.Len(t, gs.CompileWarnings(), 1)

	gs.ResetCompileWarnings()
	assert.Empty(t, gs.CompileWarnings())

	_, err = gs.Load([]byte(`local n = 1`), "=test2")
	require.NoError(t, err)
	assert.Empty(t, gs.CompileWarnings())
}
