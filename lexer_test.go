package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []*Token {
	t.Helper()
	l := NewLexer([]byte(src), "test")
	var toks []*Token
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			break
		}
	}
	return toks
}

func TestLexerKeywordsAndIdentifiers(t *testing.T) {
	toks := lexAll(t, "local x = 10")
	kinds := make([]TokenKind, len(toks))
	for i, tok := range toks {
		kinds[i] = tok.Kind
	}
	assert.Equal(t, []TokenKind{TokLocal, TokName, TokAssign, TokInt, TokEOF}, kinds)
	assert.Equal(t, "x", toks[1].Str)
	assert.Equal(t, int64(10), toks[3].Int)
}

func TestLexerCompatibilityKeywordAliases(t *testing.T) {
	toks := lexAll(t, "hello_switch hello_case hello_default hello_continue hello_when hello_enum")
	var kinds []TokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []TokenKind{TokSwitch, TokCase, TokDefault, TokContinue, TokWhen, TokEnum, TokEOF}, kinds)
}

func TestLexerOperators(t *testing.T) {
	toks := lexAll(t, "+= -= .. ... ** ?? ?. := -> ++")
	var kinds []TokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []TokenKind{
		TokPlusEq, TokMinusEq, TokConcat, TokEllipsis, TokPow,
		TokNullCoalesce, TokSafeDot, TokWalrus, TokArrow, TokIncr, TokEOF,
	}, kinds)
}

func TestLexerStringLiteral(t *testing.T) {
	toks := lexAll(t, `"hello\nworld"`)
	require.Len(t, toks, 2)
	assert.Equal(t, TokString, toks[0].Kind)
	assert.Equal(t, "hello\nworld", toks[0].Str)
}

func TestLexerFString(t *testing.T) {
	l := NewLexer([]byte(`$"x={x}"`), "test")
	tok, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, TokFString, tok.Kind)
	parts := l.LastFStringParts()
	require.Len(t, parts, 2)
	assert.True(t, parts[0].IsLiteral)
	assert.Equal(t, "x=", parts[0].Text)
	assert.False(t, parts[1].IsLiteral)
	assert.Equal(t, "x", parts[1].Name)
}

func TestLexerSyntaxErrorReportsPosition(t *testing.T) {
	l := NewLexer([]byte("`"), "chunk")
	_, err := l.Next()
	require.Error(t, err)
	se, ok := err.(*SyntaxError)
	require.True(t, ok)
	assert.Equal(t, "chunk", se.Chunk)
	assert.Equal(t, 1, se.Line)
}
