package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeHintCompatibleCallEmitsNoWarning(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(`
local function f(x: int) return x*x end
return f(5)
`), "=test")
	require.NoError(t, err)
	results, err := gs.Call(gs.MainThread(), cl, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, Int(25), results[0])
	assert.Equal(t, 0, gs.sink.Count())
}

func TestTypeHintMismatchedCallEmitsWarning(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(`
local function f(x: int) return x end
return f("a")
`), "=test")
	require.NoError(t, err)
	results, err := gs.Call(gs.MainThread(), cl, nil, -1)
	require.NoError(t, err)
	// hints never gate execution: the call still runs and returns "a".
	assert.Equal(t, "a", results[0].String())

	warnings := gs.CompileWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnTypeMismatch, warnings[0].Class)
	assert.Contains(t, warnings[0].Message, "expected int, got string")
}

func TestTypeHintExcessiveArgumentsWarns(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
local function f(a: int, b: int) return a + b end
f(1, 2, 3)
`), "=test")
	require.NoError(t, err)
	warnings := gs.CompileWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnExcessiveArgs, warnings[0].Class)
}

func TestTypeHintNullableAcceptsNil(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
local function f(x: ?string) return x end
f(nil)
`), "=test")
	require.NoError(t, err)
	assert.Equal(t, 0, len(gs.CompileWarnings()))
}

func TestTypeHintLocalAssignmentMismatchWarns(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
local n: int = "not a number"
`), "=test")
	require.NoError(t, err)
	warnings := gs.CompileWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnTypeMismatch, warnings[0].Class)
	assert.Contains(t, warnings[0].Message, "local 'n'")
}

func TestTypeHintReturnMismatchWarns(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
local function f(): string
	return 42
end
`), "=test")
	require.NoError(t, err)
	warnings := gs.CompileWarnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "return value")
}
