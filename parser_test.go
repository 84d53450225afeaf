package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserSyntaxErrorMissingEnd(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`if true then`), "=test")
	assert.Error(t, err)
}

func TestParserSyntaxErrorBadLocalName(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`local 1 = 2`), "=test")
	assert.Error(t, err)
}

func TestParserShadowWarningOnNestedBlock(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
local x = 1
do
	local x = 2
end
`), "=test")
	require.NoError(t, err)
	warnings := gs.CompileWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnShadow, warnings[0].Class)
	assert.Contains(t, warnings[0].Message, "'x'")
}

func TestParserNoShadowWarningForDistinctNames(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
local x = 1
do
	local y = 2
end
`), "=test")
	require.NoError(t, err)
	assert.Empty(t, gs.CompileWarnings())
}

func TestParserUnreachableCodeAfterBreak(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
while true do
	break
	print(1)
end
`), "=test")
	require.NoError(t, err)
	warnings := gs.CompileWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnUnreachable, warnings[0].Class)
}

func TestParserNoUnreachableWarningWhenBreakEndsBlock(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
while true do
	break
end
`), "=test")
	require.NoError(t, err)
	assert.Empty(t, gs.CompileWarnings())
}

func TestParserDeprecatedSwitchKeywordWarns(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
hello_switch 1
case 1:
end
`), "=test")
	require.NoError(t, err)
	warnings := gs.CompileWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnDeprecated, warnings[0].Class)
	assert.Contains(t, warnings[0].Message, "switch")
}

func TestParserModernSwitchKeywordNoWarning(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
switch 1
case 1:
end
`), "=test")
	require.NoError(t, err)
	assert.Empty(t, gs.CompileWarnings())
}

func TestGotoForwardWithinSameBlockSkipsCode(t *testing.T) {
	gs, _ := runScript(t, `
local x = 0
do
	goto skip
	x = 1
	::skip::
	x = x + 10
end
result = x
`)
	assert.Equal(t, Int(10), global(t, gs, "result"))
}

func TestGotoForwardOutOfNestedBlockToEnclosingLabel(t *testing.T) {
	gs, _ := runScript(t, `
local sum = 0
for i = 1, 5 do
	if i == 3 then goto skip end
	sum = sum + i
	::skip::
end
result = sum
`)
	assert.Equal(t, Int(12), global(t, gs, "result"))
}

func TestGotoBackwardToEarlierLabelLoops(t *testing.T) {
	gs, _ := runScript(t, `
local i = 0
::top::
i = i + 1
if i < 5 then goto top end
result = i
`)
	assert.Equal(t, Int(5), global(t, gs, "result"))
}

func TestGotoUnresolvedLabelIsCompileError(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
do
	goto nowhere
end
`), "=test")
	assert.Error(t, err)
}

func TestGotoIntoScopeOfLaterLocalIsCompileError(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
do
	goto skip
	local y = 1
	::skip::
end
`), "=test")
	assert.Error(t, err)
}

func TestParserDirectiveDisablesShadowWarning(t *testing.T) {
	gs := NewGlobalState()
	_, err := gs.Load([]byte(`
-- @mask_warnings: disable-variable-shadow
local x = 1
do
	local x = 2
end
`), "=test")
	require.NoError(t, err)
	assert.Empty(t, gs.CompileWarnings())
}
