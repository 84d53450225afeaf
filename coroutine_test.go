package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoroutineResumeYieldRoundTrip(t *testing.T) {
	gs := NewGlobalState()
	l := gs.MainThread()

	body := gs.NewCClosure(func(inner *Thread) (int, error) {
		a := nativeArg(inner, 0)
		n, _ := ToInt(a)
		results, err := gs.Yield(inner, []Value{Int(n + 1)})
		require.NoError(t, err)
		b, _ := ToInt(results[0])
		return nativeReturn(inner, Int(b*2))
	})

	co := gs.CreateCoroutine(body)
	ok1, r1, err := gs.Resume(l, co, []Value{Int(10)})
	require.NoError(t, err)
	assert.True(t, ok1)
	require.Len(t, r1, 1)
	assert.Equal(t, Int(11), r1[0])
	assert.Equal(t, StatusYield, co.Status())

	ok2, r2, err := gs.Resume(l, co, []Value{Int(5)})
	require.NoError(t, err)
	assert.True(t, ok2)
	require.Len(t, r2, 1)
	assert.Equal(t, Int(10), r2[0])
	assert.Equal(t, StatusDead, co.Status())
}

func TestCoroutineResumeDeadReturnsError(t *testing.T) {
	gs := NewGlobalState()
	l := gs.MainThread()
	co := gs.CreateCoroutine(gs.NewCClosure(func(inner *Thread) (int, error) {
		return nativeReturn(inner, Int(1))
	}))
	_, _, err := gs.Resume(l, co, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDead, co.Status())

	_, _, err = gs.Resume(l, co, nil)
	require.Error(t, err)
}

func TestCoroutineScriptLevelCreateResume(t *testing.T) {
	gs, _ := runScript(t, `
local co = coroutine.create(function(a)
	local b = coroutine.yield(a + 1)
	return b * 2
end)
ok1, r1 = coroutine.resume(co, 10)
ok2, r2 = coroutine.resume(co, 5)
status = coroutine.status(co)
`)
	assert.Equal(t, Bool(true), global(t, gs, "ok1"))
	assert.Equal(t, Int(11), global(t, gs, "r1"))
	assert.Equal(t, Bool(true), global(t, gs, "ok2"))
	assert.Equal(t, Int(10), global(t, gs, "r2"))
	assert.Equal(t, "dead", global(t, gs, "status").String())
}

func TestCoroutineIsYieldable(t *testing.T) {
	gs := NewGlobalState()
	assert.False(t, gs.IsYieldable(gs.MainThread()))
	co := gs.CreateCoroutine(gs.NewCClosure(func(inner *Thread) (int, error) {
		assert.True(t, gs.IsYieldable(inner))
		return 0, nil
	}))
	_, _, err := gs.Resume(gs.MainThread(), co, nil)
	require.NoError(t, err)
}
