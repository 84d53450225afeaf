package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() (*gc, *Table) {
	g := newGC(defaultGCParams())
	return g, newTable(g)
}

func TestTableArraySetGet(t *testing.T) {
	g, tbl := newTestTable()
	require.NoError(t, tbl.Set(g, Int(1), Int(100)))
	require.NoError(t, tbl.Set(g, Int(2), Int(200)))
	require.NoError(t, tbl.Set(g, Int(3), Int(300)))

	assert.Equal(t, Int(100), tbl.Get(Int(1)))
	assert.Equal(t, Int(200), tbl.Get(Int(2)))
	assert.Equal(t, 3, tbl.Len())
}

func TestTableHashSetGet(t *testing.T) {
	g, tbl := newTestTable()
	st := newStringTable(g)
	key := NewString(g, st, []byte("name"))
	require.NoError(t, tbl.Set(g, key, Int(42)))
	assert.Equal(t, Int(42), tbl.Get(key))
}

func TestTableIntegralFloatKeyAliasesInt(t *testing.T) {
	g, tbl := newTestTable()
	require.NoError(t, tbl.Set(g, Int(5), Int(500)))
	assert.Equal(t, Int(500), tbl.Get(Float(5)))

	require.NoError(t, tbl.Set(g, Float(6), Int(600)))
	assert.Equal(t, Int(600), tbl.Get(Int(6)))
}

func TestTableGetAbsentKeyReturnsAbsentSentinel(t *testing.T) {
	_, tbl := newTestTable()
	v := tbl.Get(Int(99))
	n, ok := v.(Nil)
	require.True(t, ok)
	assert.Equal(t, NilAbsentKey, n.kind)
}

func TestTableLenWithHashContinuation(t *testing.T) {
	g, tbl := newTestTable()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, tbl.Set(g, Int(i), Int(i*10)))
	}
	// grow the hash part directly; elements 1-5 stay in the array part
	tbl.resizeHash(g, 8)
	require.NoError(t, tbl.Set(g, Int(6), Int(60)))
	assert.GreaterOrEqual(t, tbl.Len(), 5)
}

func TestTableFrozenRejectsWrites(t *testing.T) {
	g, tbl := newTestTable()
	require.NoError(t, tbl.Set(g, Int(1), Int(1)))
	tbl.Freeze()
	assert.True(t, tbl.IsFrozen())
	err := tbl.Set(g, Int(1), Int(2))
	assert.ErrorIs(t, err, ErrFrozen{})
}

func TestTableSetNilOnArrayBorderDoesNotAppend(t *testing.T) {
	g, tbl := newTestTable()
	require.NoError(t, tbl.Set(g, Int(1), Int(10)))
	require.NoError(t, tbl.Set(g, Int(2), Int(20)))

	require.NoError(t, tbl.Set(g, Int(3), valNil))
	assert.Equal(t, 2, tbl.Len())
	_, absent := tbl.Get(Int(3)).(Nil)
	assert.True(t, absent)
}

func TestTableSetNilOnExistingArraySlotLeavesHole(t *testing.T) {
	g, tbl := newTestTable()
	require.NoError(t, tbl.Set(g, Int(1), Int(10)))
	require.NoError(t, tbl.Set(g, Int(2), Int(20)))
	require.NoError(t, tbl.Set(g, Int(3), Int(30)))

	require.NoError(t, tbl.Set(g, Int(2), valNil))
	n, ok := tbl.Get(Int(2)).(Nil)
	require.True(t, ok)
	assert.Equal(t, NilAbsentKey, n.kind)
}

func TestTableSetNilOnHashKeyDeletesIt(t *testing.T) {
	g, tbl := newTestTable()
	st := newStringTable(g)
	key := NewString(g, st, []byte("name"))
	require.NoError(t, tbl.Set(g, key, Int(42)))

	require.NoError(t, tbl.Set(g, key, valNil))
	n, ok := tbl.Get(key).(Nil)
	require.True(t, ok)
	assert.Equal(t, NilAbsentKey, n.kind)

	k, _, err := tbl.Next(nil)
	require.NoError(t, err)
	assert.Nil(t, k)
}

func TestTableSetNilThenSetAgainRestoresKey(t *testing.T) {
	g, tbl := newTestTable()
	st := newStringTable(g)
	key := NewString(g, st, []byte("k"))
	require.NoError(t, tbl.Set(g, key, Int(1)))
	require.NoError(t, tbl.Set(g, key, valNil))
	require.NoError(t, tbl.Set(g, key, Int(2)))
	assert.Equal(t, Int(2), tbl.Get(key))
}

func TestTableNextIteratesArrayThenHash(t *testing.T) {
	g, tbl := newTestTable()
	require.NoError(t, tbl.Set(g, Int(1), Int(10)))
	require.NoError(t, tbl.Set(g, Int(2), Int(20)))
	st := newStringTable(g)
	key := NewString(g, st, []byte("x"))
	require.NoError(t, tbl.Set(g, key, Int(30)))

	seen := map[string]Value{}
	k, v, err := tbl.Next(nil)
	for k != nil {
		require.NoError(t, err)
		seen[k.String()] = v
		k, v, err = tbl.Next(k)
	}
	assert.Equal(t, Int(10), seen["1"])
	assert.Equal(t, Int(20), seen["2"])
	assert.Equal(t, Int(30), seen["x"])
}
