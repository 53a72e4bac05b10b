package framegraph

import (
	vk "github.com/goki/vulkan"
)

type ResourceKind int

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindImage
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindBuffer:
		return "buffer"
	case ResourceKindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Usage is one (access, stage[, layout]) declaration a node applies to a set of resources.
type Usage interface {
	Node() *Node
	Kind() ResourceKind
	AccessMask() vk.AccessFlags
	StageMask() vk.PipelineStageFlags
	reset(frame int)
}

// frameTable maps resources to regions for one frame slot. Keys keep their first insertion
// order so the barriers built from the table come out in a stable order.
type frameTable[K comparable, V any] struct {
	keys   []K
	values map[K]V
}

func newFrameTables[K comparable, V any](frames int) []frameTable[K, V] {
	tables := make([]frameTable[K, V], frames)
	for i := range tables {
		tables[i].values = make(map[K]V)
	}
	return tables
}

func (t *frameTable[K, V]) set(k K, v V) {
	if _, ok := t.values[k]; !ok {
		t.keys = append(t.keys, k)
	}
	t.values[k] = v
}

func (t *frameTable[K, V]) get(k K) (V, bool) {
	v, ok := t.values[k]
	return v, ok
}

func (t *frameTable[K, V]) clear() {
	t.keys = t.keys[:0]
	clear(t.values)
}

// BufferRegion is a byte range of a buffer. Size WholeSize runs to the end of the buffer.
type BufferRegion struct {
	Offset uint64
	Size   uint64
}

// End returns the exclusive end offset of the region inside a buffer of the given size.
func (r BufferRegion) End(bufferSize uint64) uint64 {
	if r.Size == WholeSize {
		return bufferSize
	}
	return r.Offset + r.Size
}

type BufferUsage struct {
	node   *Node
	access vk.AccessFlags
	stages vk.PipelineStageFlags
	tables []frameTable[Buffer, BufferRegion]
}

func newBufferUsage(n *Node, access vk.AccessFlags, stages vk.PipelineStageFlags) *BufferUsage {
	return &BufferUsage{
		node:   n,
		access: access,
		stages: stages,
		tables: newFrameTables[Buffer, BufferRegion](n.graph.framesInFlight),
	}
}

func (u *BufferUsage) Node() *Node                      { return u.node }
func (u *BufferUsage) Kind() ResourceKind               { return ResourceKindBuffer }
func (u *BufferUsage) AccessMask() vk.AccessFlags       { return u.access }
func (u *BufferUsage) StageMask() vk.PipelineStageFlags { return u.stages }

// Sync declares that, in the current frame, the owning node touches size bytes of buffer
// starting at offset. A later Sync of the same buffer in the same frame replaces the entry.
func (u *BufferUsage) Sync(buffer Buffer, size, offset uint64) {
	u.syncAt(u.node.graph.frame, buffer, size, offset)
}

func (u *BufferUsage) syncAt(frame int, buffer Buffer, size, offset uint64) {
	u.tables[frame].set(buffer, BufferRegion{Offset: offset, Size: size})
}

// Region returns the region declared for buffer in the given frame slot.
func (u *BufferUsage) Region(frame int, buffer Buffer) (BufferRegion, bool) {
	return u.tables[frame].get(buffer)
}

// Buffers lists the buffers declared in the given frame slot in declaration order.
func (u *BufferUsage) Buffers(frame int) []Buffer {
	return u.tables[frame].keys
}

func (u *BufferUsage) reset(frame int) {
	u.tables[frame].clear()
}

type ImageUsage struct {
	node   *Node
	access vk.AccessFlags
	stages vk.PipelineStageFlags
	layout vk.ImageLayout
	tables []frameTable[Image, vk.ImageSubresourceRange]
}

func newImageUsage(n *Node, access vk.AccessFlags, stages vk.PipelineStageFlags, layout vk.ImageLayout) *ImageUsage {
	return &ImageUsage{
		node:   n,
		access: access,
		stages: stages,
		layout: layout,
		tables: newFrameTables[Image, vk.ImageSubresourceRange](n.graph.framesInFlight),
	}
}

func (u *ImageUsage) Node() *Node                      { return u.node }
func (u *ImageUsage) Kind() ResourceKind               { return ResourceKindImage }
func (u *ImageUsage) AccessMask() vk.AccessFlags       { return u.access }
func (u *ImageUsage) StageMask() vk.PipelineStageFlags { return u.stages }
func (u *ImageUsage) Layout() vk.ImageLayout           { return u.layout }

// Sync declares that, in the current frame, the owning node touches the given subresource
// range of image in this usage's layout.
func (u *ImageUsage) Sync(image Image, subresources vk.ImageSubresourceRange) {
	u.syncAt(u.node.graph.frame, image, subresources)
}

func (u *ImageUsage) syncAt(frame int, image Image, subresources vk.ImageSubresourceRange) {
	u.tables[frame].set(image, subresources)
}

func (u *ImageUsage) Region(frame int, image Image) (vk.ImageSubresourceRange, bool) {
	return u.tables[frame].get(image)
}

func (u *ImageUsage) Images(frame int) []Image {
	return u.tables[frame].keys
}

func (u *ImageUsage) reset(frame int) {
	u.tables[frame].clear()
}

// ColorRange covers the single mip level and array layer of a color attachment.
func ColorRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}
