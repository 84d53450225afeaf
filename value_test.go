package mask

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruthy(t *testing.T) {
	gs := NewGlobalState()
	tests := []struct {
		name     string
		v        Value
		expected bool
	}{
		{"nil is falsy", valNil, false},
		{"false is falsy", Bool(false), false},
		{"true is truthy", Bool(true), true},
		{"zero is truthy", Int(0), true},
		{"empty string is truthy", gs.NewString(nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truthy(tt.v))
		})
	}
}

func TestTagString(t *testing.T) {
	tests := []struct {
		tag      Tag
		expected string
	}{
		{TagNil, "nil"},
		{TagBoolean, "boolean"},
		{TagInt, "number"},
		{TagFloat, "number"},
		{TagShortString, "string"},
		{TagLongString, "string"},
		{TagTable, "table"},
		{TagClosure, "function"},
		{TagThread, "thread"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.tag.String())
		})
	}
}

func TestIsNumber(t *testing.T) {
	assert.True(t, isNumber(Int(1)))
	assert.True(t, isNumber(Float(1.5)))
	assert.False(t, isNumber(Bool(true)))
	assert.False(t, isNumber(valNil))
}

func TestAsFloat(t *testing.T) {
	f, ok := asFloat(Int(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = asFloat(Float(2.5))
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	_, ok = asFloat(Bool(false))
	assert.False(t, ok)
}

func TestFloatString(t *testing.T) {
	assert.Equal(t, "1.0", Float(1).String())
	assert.Equal(t, "inf", Float(math.Inf(1)).String())
	assert.Equal(t, "-inf", Float(math.Inf(-1)).String())
	assert.Equal(t, "nan", Float(math.NaN()).String())
}

func TestLightUserData(t *testing.T) {
	u := LightUserData{Ptr: 0x1234}
	assert.Equal(t, TagLightUserData, u.Tag())
	assert.Contains(t, u.String(), "0x1234")
}
