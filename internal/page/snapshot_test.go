package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSnapshotOrdersAndDedupes(t *testing.T) {
	snap := NewSnapshot("https://a.test", "A", nil, []Element{
		{Index: 7, Tag: "a", Text: "seven"},
		{Index: 2, Tag: "input"},
		{Index: 7, Tag: "button", Text: "dup"},
		{Index: 4, Tag: "button"},
	})

	var got []int
	for _, el := range snap.Elements {
		got = append(got, el.Index)
	}
	assert.Equal(t, []int{2, 4, 7}, got)

	el, ok := snap.Lookup(7)
	assert.True(t, ok)
	assert.Equal(t, "seven", el.Text)
	assert.False(t, snap.Has(3))
	assert.Equal(t, 3, snap.Len())
}

func TestLookupWithoutIndex(t *testing.T) {
	snap := &Snapshot{Elements: []Element{{Index: 1, Tag: "a"}}}
	assert.True(t, snap.Has(1))
	assert.False(t, snap.Has(2))

	var nilSnap *Snapshot
	assert.False(t, nilSnap.Has(1))
	assert.Zero(t, nilSnap.Len())
}

func TestBoxCenter(t *testing.T) {
	x, y := Box{X: 10, Y: 20, Width: 100, Height: 40}.Center()
	assert.Equal(t, 60, x)
	assert.Equal(t, 40, y)
}
