package framegraph

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/voxel/engine/containers"
	"github.com/spaghettifunk/voxel/engine/core"
	"github.com/spaghettifunk/voxel/engine/math"
)

const (
	DefaultStagingSize      uint64 = 256 << 20
	DefaultDeferredCapacity        = 64

	stagingAlignment uint64 = 4
)

// stagingState is the ownership state of one frame slot's staging buffer.
type stagingState int

const (
	// The slot's last submission may still read the staging memory.
	stagingReleased stagingState = iota
	// The slot's fence was observed; the host may write staging memory.
	stagingClaimed
	// The slot's command buffer is being recorded. New transfers are deferred.
	stagingOpen
)

type bufferCopy struct {
	dst    Buffer
	region vk.BufferCopy
}

type imageCopy struct {
	dst          Image
	region       vk.BufferImageCopy
	subresources vk.ImageSubresourceRange
}

type stagingSlot struct {
	state        stagingState
	buffer       StagingBuffer
	cursor       uint64
	bufferCopies []bufferCopy
	imageCopies  []imageCopy
}

// deferredTransfer is a transfer issued while the current slot was open. It owns a copy of
// the caller's data.
type deferredTransfer struct {
	buffer      Buffer
	size        uint64
	offset      uint64
	image       Image
	imageOffset vk.Offset3D
	extent      vk.Extent3D
	subresource vk.ImageSubresourceLayers
	data        []byte
}

// TransferNode moves host data to device buffers and images through one persistently
// mapped staging buffer per frame slot.
//
// Transfers issued while the current slot's command buffer is open are queued and applied
// at the start of the next PreRender, before any barrier of that frame is computed. Queued
// transfers keep their order: while any are waiting, new transfers queue behind them.
type TransferNode struct {
	node     *Node
	slots    []stagingSlot
	deferred *containers.RingQueue[deferredTransfer]
	buffers  *BufferUsage
	images   *ImageUsage
}

// NewTransferNode adds a transfer node on queue with stagingSize bytes of staging memory per
// frame slot and room for deferredCapacity deferred transfers.
func NewTransferNode(g *RenderGraph, name string, queue Queue, stagingSize uint64, deferredCapacity int) (*TransferNode, error) {
	t := &TransferNode{
		deferred: containers.NewRingQueue[deferredTransfer](deferredCapacity),
	}
	n, err := g.AddNode(name, queue, vk.PipelineStageFlags(vk.PipelineStageTransferBit), t)
	if err != nil {
		return nil, err
	}
	t.node = n
	t.slots = make([]stagingSlot, g.framesInFlight)
	for f := range t.slots {
		buf, err := g.device.CreateStagingBuffer(stagingSize)
		if err != nil {
			t.Destroy()
			err = fmt.Errorf("transfer node %q: staging buffer %d: %w", n.name, f, err)
			g.log.Error(err.Error())
			return nil, err
		}
		t.slots[f].buffer = buf
	}
	transferWrite := vk.AccessFlags(vk.AccessTransferWriteBit)
	transferStage := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	t.buffers = n.NewBufferUsage(transferWrite, transferStage)
	t.images = n.NewImageUsage(transferWrite, transferStage, vk.ImageLayoutTransferDstOptimal)
	return t, nil
}

func (t *TransferNode) Node() *Node               { return t.node }
func (t *TransferNode) BufferUsage() *BufferUsage { return t.buffers }
func (t *TransferNode) ImageUsage() *ImageUsage   { return t.images }

// Cursor is the next free byte of the slot's staging buffer.
func (t *TransferNode) Cursor(frame int) uint64 { return t.slots[frame].cursor }

// Pending is the number of deferred transfers waiting for the next PreRender.
func (t *TransferNode) Pending() int { return t.deferred.Len() }

func (t *TransferNode) StagingCapacity() uint64 {
	if len(t.slots) == 0 || t.slots[0].buffer == nil {
		return 0
	}
	return t.slots[0].buffer.Size()
}

// Fits reports whether a transfer of size bytes issued now would be accepted.
func (t *TransferNode) Fits(size uint64) bool {
	if size > t.StagingCapacity() {
		return false
	}
	if t.deferring() {
		return !t.deferred.IsFull()
	}
	slot := &t.slots[t.node.graph.frame]
	return math.AlignUp(slot.cursor, stagingAlignment)+size <= slot.buffer.Size()
}

// deferring reports whether new transfers go to the deferred queue.
func (t *TransferNode) deferring() bool {
	return t.slots[t.node.graph.frame].state == stagingOpen || !t.deferred.IsEmpty()
}

// TransferBuffer copies size bytes of data to buffer at offset during the current frame.
func (t *TransferNode) TransferBuffer(buffer Buffer, size, offset uint64, data []byte) error {
	if size == 0 {
		return nil
	}
	if uint64(len(data)) < size {
		return fmt.Errorf("transfer node %q: %d bytes requested from a %d byte slice", t.node.name, size, len(data))
	}
	frame := t.node.graph.frame
	if t.deferring() {
		return t.enqueueDeferred(deferredTransfer{
			buffer: buffer,
			size:   size,
			offset: offset,
			data:   append([]byte(nil), data[:size]...),
		})
	}
	return t.writeBuffer(frame, buffer, size, offset, data[:size])
}

// TransferImage copies data into the given region of image during the current frame. The
// image is transitioned from an undefined layout, so the whole region is overwritten.
func (t *TransferNode) TransferImage(image Image, offset vk.Offset3D, extent vk.Extent3D, subresource vk.ImageSubresourceLayers, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	frame := t.node.graph.frame
	if t.deferring() {
		return t.enqueueDeferred(deferredTransfer{
			image:       image,
			imageOffset: offset,
			extent:      extent,
			subresource: subresource,
			data:        append([]byte(nil), data...),
		})
	}
	return t.writeImage(frame, image, offset, extent, subresource, data)
}

func (t *TransferNode) enqueueDeferred(d deferredTransfer) error {
	// A queued transfer must fit an empty slot or it would block the queue for good.
	if size, capacity := uint64(len(d.data)), t.StagingCapacity(); size > capacity {
		return fmt.Errorf("transfer node %q: %d bytes of %d: %w", t.node.name, size, capacity, core.ErrStagingOverflow)
	}
	if err := t.deferred.Enqueue(d); err != nil {
		return fmt.Errorf("transfer node %q: %d pending: %w", t.node.name, t.deferred.Len(), core.ErrDeferredQueueFull)
	}
	return nil
}

// claim makes sure the slot's previous submission finished reading its staging memory.
func (t *TransferNode) claim(frame int) error {
	slot := &t.slots[frame]
	if slot.state != stagingReleased {
		return nil
	}
	if err := t.node.waitFence(frame); err != nil {
		return err
	}
	slot.state = stagingClaimed
	return nil
}

// stage copies data into the slot's staging buffer and returns its offset there.
func (t *TransferNode) stage(frame int, data []byte) (uint64, error) {
	if err := t.claim(frame); err != nil {
		return 0, err
	}
	slot := &t.slots[frame]
	size := uint64(len(data))
	start := math.AlignUp(slot.cursor, stagingAlignment)
	if capacity := slot.buffer.Size(); start+size > capacity {
		return 0, fmt.Errorf("transfer node %q: %d bytes at %d of %d: %w", t.node.name, size, start, capacity, core.ErrStagingOverflow)
	}
	copy(slot.buffer.Mapped()[start:start+size], data)
	slot.cursor = start + math.AlignUp(size, stagingAlignment)
	return start, nil
}

func (t *TransferNode) writeBuffer(frame int, buffer Buffer, size, offset uint64, data []byte) error {
	start, err := t.stage(frame, data)
	if err != nil {
		return err
	}
	slot := &t.slots[frame]
	slot.bufferCopies = append(slot.bufferCopies, bufferCopy{
		dst: buffer,
		region: vk.BufferCopy{
			SrcOffset: vk.DeviceSize(start),
			DstOffset: vk.DeviceSize(offset),
			Size:      vk.DeviceSize(size),
		},
	})

	// The usage covers every region written to the buffer this frame.
	lo, hi := offset, offset+size
	if prev, ok := t.buffers.Region(frame, buffer); ok {
		lo = min(lo, prev.Offset)
		hi = max(hi, prev.End(buffer.Size()))
	}
	t.buffers.syncAt(frame, buffer, hi-lo, lo)
	return nil
}

func (t *TransferNode) writeImage(frame int, image Image, offset vk.Offset3D, extent vk.Extent3D, subresource vk.ImageSubresourceLayers, data []byte) error {
	start, err := t.stage(frame, data)
	if err != nil {
		return err
	}
	rng := vk.ImageSubresourceRange{
		AspectMask:     subresource.AspectMask,
		BaseMipLevel:   subresource.MipLevel,
		LevelCount:     1,
		BaseArrayLayer: subresource.BaseArrayLayer,
		LayerCount:     subresource.LayerCount,
	}
	slot := &t.slots[frame]
	slot.imageCopies = append(slot.imageCopies, imageCopy{
		dst: image,
		region: vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(start),
			ImageSubresource: subresource,
			ImageOffset:      offset,
			ImageExtent:      extent,
		},
		subresources: rng,
	})

	if prev, ok := t.images.Region(frame, image); ok {
		rng = hullRange(prev, rng)
	}
	t.images.syncAt(frame, image, rng)
	return nil
}

func hullRange(a, b vk.ImageSubresourceRange) vk.ImageSubresourceRange {
	levelEnd := max(a.BaseMipLevel+a.LevelCount, b.BaseMipLevel+b.LevelCount)
	layerEnd := max(a.BaseArrayLayer+a.LayerCount, b.BaseArrayLayer+b.LayerCount)
	out := vk.ImageSubresourceRange{
		AspectMask:     a.AspectMask | b.AspectMask,
		BaseMipLevel:   min(a.BaseMipLevel, b.BaseMipLevel),
		BaseArrayLayer: min(a.BaseArrayLayer, b.BaseArrayLayer),
	}
	out.LevelCount = levelEnd - out.BaseMipLevel
	out.LayerCount = layerEnd - out.BaseArrayLayer
	return out
}

// PreRender applies the transfers deferred while the previous slot was open. A transfer
// leaves the queue only once it is staged. When the slot runs out of staging memory the rest
// stays queued for the next frame.
func (t *TransferNode) PreRender(frame int) error {
	for !t.deferred.IsEmpty() {
		d, _ := t.deferred.Peek()
		var err error
		if d.image != nil {
			err = t.writeImage(frame, d.image, d.imageOffset, d.extent, d.subresource, d.data)
		} else {
			err = t.writeBuffer(frame, d.buffer, d.size, d.offset, d.data)
		}
		if errors.Is(err, core.ErrStagingOverflow) {
			t.node.graph.log.Debug("staging buffer full, transfers carried over", "node", t.node.name, "pending", t.deferred.Len())
			return nil
		}
		if err != nil {
			return err
		}
		_, _ = t.deferred.Dequeue()
	}
	return nil
}

func (t *TransferNode) Render(frame int, cmd CommandBuffer) error {
	slot := &t.slots[frame]
	slot.state = stagingOpen

	for _, c := range slot.bufferCopies {
		cmd.CopyBuffer(slot.buffer, c.dst, []vk.BufferCopy{c.region})
	}
	for _, c := range slot.imageCopies {
		cmd.PipelineBarrier(
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			nil,
			[]ImageBarrier{{
				Image:          c.dst,
				SrcAccess:      0,
				DstAccess:      vk.AccessFlags(vk.AccessTransferWriteBit),
				OldLayout:      vk.ImageLayoutUndefined,
				NewLayout:      vk.ImageLayoutTransferDstOptimal,
				SrcQueueFamily: QueueFamilyIgnored,
				DstQueueFamily: QueueFamilyIgnored,
				Range:          c.subresources,
			}},
		)
		cmd.CopyBufferToImage(slot.buffer, c.dst, vk.ImageLayoutTransferDstOptimal, []vk.BufferImageCopy{c.region})
	}

	slot.cursor = 0
	slot.bufferCopies = slot.bufferCopies[:0]
	slot.imageCopies = slot.imageCopies[:0]
	return nil
}

// PostRender hands the slot's staging memory to the GPU until its fence signals again.
func (t *TransferNode) PostRender(frame int) error {
	t.slots[frame].state = stagingReleased
	return nil
}

func (t *TransferNode) Destroy() {
	for i := range t.slots {
		if t.slots[i].buffer != nil {
			t.slots[i].buffer.Destroy()
			t.slots[i].buffer = nil
		}
	}
}
