package framegraph

import (
	vk "github.com/goki/vulkan"
)

// WholeSize marks a buffer region that extends to the end of the resource.
const WholeSize = uint64(vk.WholeSize)

// QueueFamilyIgnored is used on both sides of a barrier that does not transfer ownership.
const QueueFamilyIgnored = uint32(vk.QueueFamilyIgnored)

// InfiniteTimeout is used for every fence and acquire wait.
const InfiniteTimeout = ^uint64(0)

// Device is the logical device the graph allocates its per-node objects from.
type Device interface {
	CreateCommandPool(queueFamily uint32) (CommandPool, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	// CreateStagingBuffer returns a host visible, persistently mapped transfer source.
	CreateStagingBuffer(size uint64) (StagingBuffer, error)
	WaitIdle() error
}

type Queue interface {
	FamilyIndex() uint32
	Submit(info SubmitInfo, fence Fence) error
	WaitIdle() error
}

// SubmitInfo is the accumulated submit descriptor of a node for one frame slot.
type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []vk.PipelineStageFlags
	CommandBuffer    CommandBuffer
	SignalSemaphores []Semaphore
}

type CommandPool interface {
	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	Destroy()
}

type CommandBuffer interface {
	Begin() error
	End() error
	PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, buffers []BufferBarrier, images []ImageBarrier)
	CopyBuffer(src, dst Buffer, regions []vk.BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, layout vk.ImageLayout, regions []vk.BufferImageCopy)
	ClearColorImage(image Image, layout vk.ImageLayout, color [4]float32, ranges []vk.ImageSubresourceRange)
}

type Fence interface {
	Wait(timeoutNs uint64) error
	Reset() error
	Signaled() bool
	Destroy()
}

type Semaphore interface {
	Destroy()
}

// Buffer is a buffer handle allocated by the memory manager. The graph only reads its size.
type Buffer interface {
	Size() uint64
}

// Image is an image handle allocated by the memory manager or owned by a swapchain.
type Image interface {
	Format() vk.Format
	Extent() vk.Extent3D
}

type StagingBuffer interface {
	Buffer
	// Mapped is the persistently mapped host view of the whole buffer.
	Mapped() []byte
	Destroy()
}

// Surface is the presentation engine: a swapchain and the operations on it.
type Surface interface {
	Extent() vk.Extent2D
	Images() []Image
	// AcquireNextImage returns core.ErrSwapchainBooting when the surface is out of date.
	AcquireNextImage(timeoutNs uint64, signal Semaphore) (uint32, error)
	Present(queue Queue, wait []Semaphore, imageIndex uint32) error
}

// BufferBarrier is a buffer memory barrier, possibly transferring queue family ownership.
type BufferBarrier struct {
	Buffer         Buffer
	SrcAccess      vk.AccessFlags
	DstAccess      vk.AccessFlags
	SrcQueueFamily uint32
	DstQueueFamily uint32
	Offset         uint64
	Size           uint64
}

// ImageBarrier is an image memory barrier with a layout transition.
type ImageBarrier struct {
	Image          Image
	SrcAccess      vk.AccessFlags
	DstAccess      vk.AccessFlags
	OldLayout      vk.ImageLayout
	NewLayout      vk.ImageLayout
	SrcQueueFamily uint32
	DstQueueFamily uint32
	Range          vk.ImageSubresourceRange
}

// OwnershipTransfer reports whether the barrier moves the buffer between queue families.
func (b BufferBarrier) OwnershipTransfer() bool {
	return b.SrcQueueFamily != b.DstQueueFamily
}

func (b ImageBarrier) OwnershipTransfer() bool {
	return b.SrcQueueFamily != b.DstQueueFamily
}
