package containers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spaghettifunk/voxel/engine/math"
)

var (
	ErrFreeListExhausted = errors.New("freelist: no free block large enough")
	ErrInvalidFree       = errors.New("freelist: region is not allocated")
)

type freeBlock struct {
	offset uint64
	size   uint64
}

// Allocation is a region handed out by a FreeList.
type Allocation struct {
	Offset uint64
	Size   uint64
}

func (a Allocation) String() string {
	return fmt.Sprintf("[%d %d]", a.Offset, a.Size)
}

// FreeList manages a linear range of TotalSize bytes. Free blocks are kept sorted by offset
// and adjacent blocks are always coalesced, so the list never holds two touching blocks.
type FreeList struct {
	totalSize uint64
	blocks    []freeBlock
}

func NewFreeList(totalSize uint64) *FreeList {
	fl := &FreeList{totalSize: totalSize}
	if totalSize > 0 {
		fl.blocks = []freeBlock{{offset: 0, size: totalSize}}
	}
	return fl
}

// Allocate returns the first block that fits size bytes at the given alignment.
func (fl *FreeList) Allocate(size, align uint64) (Allocation, error) {
	if size == 0 {
		return Allocation{}, fmt.Errorf("freelist: zero sized allocation")
	}
	if align == 0 {
		align = 1
	}
	for i, b := range fl.blocks {
		start := math.AlignUp(b.offset, align)
		padding := start - b.offset
		if padding+size > b.size {
			continue
		}
		end := start + size
		blockEnd := b.offset + b.size

		// Split the block into the padding in front and the tail behind the allocation.
		var replacement []freeBlock
		if padding > 0 {
			replacement = append(replacement, freeBlock{offset: b.offset, size: padding})
		}
		if end < blockEnd {
			replacement = append(replacement, freeBlock{offset: end, size: blockEnd - end})
		}
		fl.blocks = append(fl.blocks[:i], append(replacement, fl.blocks[i+1:]...)...)
		return Allocation{Offset: start, Size: size}, nil
	}
	return Allocation{}, fmt.Errorf("%w: want %d bytes, %d free", ErrFreeListExhausted, size, fl.FreeSpace())
}

// Free returns a region to the list and merges it with its neighbours. It runs in a single
// pass with no recursion regardless of how fragmented the list is.
func (fl *FreeList) Free(a Allocation) error {
	if a.Size == 0 || a.Offset+a.Size > fl.totalSize {
		return fmt.Errorf("%w: %s", ErrInvalidFree, a)
	}
	i := sort.Search(len(fl.blocks), func(i int) bool {
		return fl.blocks[i].offset >= a.Offset
	})

	// Reject overlaps with the neighbouring free blocks, which means a double free.
	if i < len(fl.blocks) && a.Offset+a.Size > fl.blocks[i].offset {
		return fmt.Errorf("%w: %s overlaps free space", ErrInvalidFree, a)
	}
	if i > 0 {
		prev := fl.blocks[i-1]
		if prev.offset+prev.size > a.Offset {
			return fmt.Errorf("%w: %s overlaps free space", ErrInvalidFree, a)
		}
	}

	mergePrev := i > 0 && fl.blocks[i-1].offset+fl.blocks[i-1].size == a.Offset
	mergeNext := i < len(fl.blocks) && a.Offset+a.Size == fl.blocks[i].offset

	switch {
	case mergePrev && mergeNext:
		fl.blocks[i-1].size += a.Size + fl.blocks[i].size
		fl.blocks = append(fl.blocks[:i], fl.blocks[i+1:]...)
	case mergePrev:
		fl.blocks[i-1].size += a.Size
	case mergeNext:
		fl.blocks[i].offset = a.Offset
		fl.blocks[i].size += a.Size
	default:
		fl.blocks = append(fl.blocks, freeBlock{})
		copy(fl.blocks[i+1:], fl.blocks[i:])
		fl.blocks[i] = freeBlock{offset: a.Offset, size: a.Size}
	}
	return nil
}

func (fl *FreeList) FreeSpace() uint64 {
	var total uint64
	for _, b := range fl.blocks {
		total += b.size
	}
	return total
}

func (fl *FreeList) TotalSize() uint64 {
	return fl.totalSize
}

// BlockCount is the number of disjoint free blocks.
func (fl *FreeList) BlockCount() int {
	return len(fl.blocks)
}
