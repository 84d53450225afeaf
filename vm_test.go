package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runScript compiles and runs src on a fresh GlobalState, returning
// the results of the top-level chunk.
func runScript(t *testing.T, src string) (*GlobalState, []Value) {
	t.Helper()
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(src), "=test")
	require.NoError(t, err)
	results, err := gs.Call(gs.MainThread(), cl, nil, -1)
	require.NoError(t, err)
	return gs, results
}

func global(t *testing.T, gs *GlobalState, name string) Value {
	t.Helper()
	v, err := gs.GetField(gs.MainThread(), gs.Globals(), name)
	require.NoError(t, err)
	return v
}

func TestVMArithmetic(t *testing.T) {
	gs, _ := runScript(t, `x = 1 + 2 * 3 - 4 / 2`)
	assert.Equal(t, Float(5), global(t, gs, "x"))
}

func TestVMIntegerArithmeticStaysInt(t *testing.T) {
	gs, _ := runScript(t, `x = 3 + 4`)
	assert.Equal(t, Int(7), global(t, gs, "x"))
}

func TestVMLocalsAndAssignment(t *testing.T) {
	gs, _ := runScript(t, `
local a = 10
local b = 20
total = a + b
`)
	assert.Equal(t, Int(30), global(t, gs, "total"))
}

func TestVMIfElse(t *testing.T) {
	gs, _ := runScript(t, `
local n = 7
if n > 5 then
	result = "big"
else
	result = "small"
end
`)
	v := global(t, gs, "result")
	s, ok := v.(*ShortString)
	require.True(t, ok)
	assert.Equal(t, "big", s.s)
}

func TestVMWhileLoop(t *testing.T) {
	gs, _ := runScript(t, `
local i = 0
local sum = 0
while i < 5 do
	sum = sum + i
	i = i + 1
end
total = sum
`)
	assert.Equal(t, Int(10), global(t, gs, "total"))
}

func TestVMNumericFor(t *testing.T) {
	gs, _ := runScript(t, `
local sum = 0
for i = 1, 10 do
	sum = sum + i
end
total = sum
`)
	assert.Equal(t, Int(55), global(t, gs, "total"))
}

func TestVMBreakAndContinue(t *testing.T) {
	gs, _ := runScript(t, `
local sum = 0
for i = 1, 10 do
	if i == 5 then
		break
	end
	if i % 2 == 0 then
		continue
	end
	sum = sum + i
end
total = sum
`)
	// odd numbers 1, 3 before the break at i==5
	assert.Equal(t, Int(4), global(t, gs, "total"))
}

func TestVMFunctionCallAndReturn(t *testing.T) {
	gs, _ := runScript(t, `
function add(a, b)
	return a + b
end
result = add(3, 4)
`)
	assert.Equal(t, Int(7), global(t, gs, "result"))
}

func TestVMClosureCapturesUpvalue(t *testing.T) {
	gs, _ := runScript(t, `
function makeCounter()
	local n = 0
	return function()
		n = n + 1
		return n
	end
end
local c = makeCounter()
a = c()
b = c()
d = c()
`)
	assert.Equal(t, Int(1), global(t, gs, "a"))
	assert.Equal(t, Int(2), global(t, gs, "b"))
	assert.Equal(t, Int(3), global(t, gs, "d"))
}

func TestVMTableConstructorAndIndex(t *testing.T) {
	gs, _ := runScript(t, `
local t = {1, 2, 3, name = "mask"}
x = t[1] + t[2] + t[3]
y = t.name
`)
	assert.Equal(t, Int(6), global(t, gs, "x"))
	s := global(t, gs, "y").(*ShortString)
	assert.Equal(t, "mask", s.s)
}

func TestVMStringConcat(t *testing.T) {
	gs, _ := runScript(t, `s = "foo" .. "bar"`)
	v := global(t, gs, "s")
	assert.Equal(t, "foobar", v.String())
}

func TestVMTernaryAndNullCoalesce(t *testing.T) {
	gs, _ := runScript(t, `
local n = 5
a = n > 3 ? "yes" : "no"
local m = nil
b = m ?? "fallback"
`)
	assert.Equal(t, "yes", global(t, gs, "a").String())
	assert.Equal(t, "fallback", global(t, gs, "b").String())
}

func TestVMSwitchStatement(t *testing.T) {
	gs, _ := runScript(t, `
local function classify(n)
	switch n
	case 1:
		return "one"
	case 2:
		return "two"
	default:
		return "many"
	end
end
a = classify(1)
b = classify(2)
c = classify(99)
`)
	assert.Equal(t, "one", global(t, gs, "a").String())
	assert.Equal(t, "two", global(t, gs, "b").String())
	assert.Equal(t, "many", global(t, gs, "c").String())
}

func TestVMEnum(t *testing.T) {
	gs, _ := runScript(t, `
enum Color begin
	Red,
	Green,
	Blue
end
a = Red
b = Green
c = Blue
`)
	assert.Equal(t, Int(0), global(t, gs, "a"))
	assert.Equal(t, Int(1), global(t, gs, "b"))
	assert.Equal(t, Int(2), global(t, gs, "c"))
}

func TestVMFString(t *testing.T) {
	gs, _ := runScript(t, `
local name = "world"
greeting = $"hello, {name}!"
`)
	assert.Equal(t, "hello, world!", global(t, gs, "greeting").String())
}

func TestVMPrefixIncrement(t *testing.T) {
	gs, _ := runScript(t, `
local x = 1
++x
a = x
`)
	assert.Equal(t, Int(2), global(t, gs, "a"))
}

func TestVMGenericForOverTable(t *testing.T) {
	gs, _ := runScript(t, `
local function iter(t, i)
	i = i + 1
	local v = t[i]
	if v == nil then
		return nil
	end
	return i, v
end

local function values(t)
	return iter, t, 0
end

local t = {10, 20, 30}
local sum = 0
for i, v in values(t) do
	sum = sum + v
end
total = sum
`)
	assert.Equal(t, Int(60), global(t, gs, "total"))
}

func TestVMRuntimeErrorOnCallingNonFunction(t *testing.T) {
	gs := NewGlobalState()
	cl, err := gs.Load([]byte(`local x = 1
x()`), "=test")
	require.NoError(t, err)
	_, err = gs.Call(gs.MainThread(), cl, nil, -1)
	require.Error(t, err)
}
