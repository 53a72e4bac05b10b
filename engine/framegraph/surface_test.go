package framegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSurfaceCellSubscribe(t *testing.T) {
	first := newFakeSurface(2)
	cell := NewSurfaceCell(first)
	assert.Same(t, first, cell.Get())

	var seen []Surface
	unsubscribe := cell.Subscribe(func(s Surface) { seen = append(seen, s) })
	var other []Surface
	cell.Subscribe(func(s Surface) { other = append(other, s) })
	assert.Equal(t, []Surface{first}, seen)

	second := newFakeSurface(3)
	cell.Set(second)
	assert.Same(t, second, cell.Get())
	assert.Equal(t, []Surface{first, second}, seen)

	unsubscribe()
	cell.Set(first)
	assert.Len(t, seen, 2)
	assert.Equal(t, []Surface{first, second, first}, other)
	unsubscribe()
}
