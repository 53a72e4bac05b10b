package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/voxel/engine/core"
	"github.com/spaghettifunk/voxel/engine/framegraph"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandPool allocates resettable primary command buffers for one queue family.
type VulkanCommandPool struct {
	context *VulkanContext
	Handle  vk.CommandPool
	Family  uint32
}

func NewCommandPool(context *VulkanContext, queueFamily uint32) (*VulkanCommandPool, error) {
	pool := &VulkanCommandPool{context: context, Family: queueFamily}
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	err := context.Locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.CreateCommandPool(context.Device.LogicalDevice, &info, context.Allocator, &pool.Handle), "vkCreateCommandPool")
	})
	if err != nil {
		return nil, err
	}
	core.LogDebug("command pool created for queue family %d", queueFamily)
	return pool, nil
}

func (p *VulkanCommandPool) AllocateCommandBuffers(count int) ([]framegraph.CommandBuffer, error) {
	handles := make([]vk.CommandBuffer, count)
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	err := p.context.Locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.AllocateCommandBuffers(p.context.Device.LogicalDevice, &info, handles), "vkAllocateCommandBuffers")
	})
	if err != nil {
		return nil, err
	}
	out := make([]framegraph.CommandBuffer, count)
	for i, h := range handles {
		out[i] = &VulkanCommandBuffer{Handle: h, State: COMMAND_BUFFER_STATE_READY}
	}
	return out, nil
}

// Destroy frees the pool and with it every command buffer allocated from it.
func (p *VulkanCommandPool) Destroy() {
	if p.Handle == vk.NullCommandPool {
		return
	}
	_ = p.context.Locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(p.context.Device.LogicalDevice, p.Handle, p.context.Allocator)
		return nil
	})
	p.Handle = vk.NullCommandPool
}

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState
}

// Begin implicitly resets the buffer. Every frame records from scratch, so the buffer is
// always begun for one time submission.
func (v *VulkanCommandBuffer) Begin() error {
	return v.BeginWithFlags(true, false, false)
}

func (v *VulkanCommandBuffer) BeginWithFlags(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if err := check(vk.BeginCommandBuffer(v.Handle, beginInfo), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("command buffer is not recording (state %d)", v.State)
	}
	if err := check(vk.EndCommandBuffer(v.Handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, buffers []framegraph.BufferBarrier, images []framegraph.ImageBarrier) {
	var bufferBarriers []vk.BufferMemoryBarrier
	for _, b := range buffers {
		bufferBarriers = append(bufferBarriers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			SrcQueueFamilyIndex: b.SrcQueueFamily,
			DstQueueFamilyIndex: b.DstQueueFamily,
			Buffer:              bufferHandle(b.Buffer),
			Offset:              vk.DeviceSize(b.Offset),
			Size:                vk.DeviceSize(b.Size),
		})
	}
	var imageBarriers []vk.ImageMemoryBarrier
	for _, b := range images {
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			OldLayout:           b.OldLayout,
			NewLayout:           b.NewLayout,
			SrcQueueFamilyIndex: b.SrcQueueFamily,
			DstQueueFamilyIndex: b.DstQueueFamily,
			Image:               imageHandle(b.Image),
			SubresourceRange:    b.Range,
		})
	}
	vk.CmdPipelineBarrier(v.Handle, srcStages, dstStages, 0,
		0, nil,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst framegraph.Buffer, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(v.Handle, bufferHandle(src), bufferHandle(dst), uint32(len(regions)), regions)
}

func (v *VulkanCommandBuffer) CopyBufferToImage(src framegraph.Buffer, dst framegraph.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	vk.CmdCopyBufferToImage(v.Handle, bufferHandle(src), imageHandle(dst), layout, uint32(len(regions)), regions)
}

func (v *VulkanCommandBuffer) ClearColorImage(image framegraph.Image, layout vk.ImageLayout, color [4]float32, ranges []vk.ImageSubresourceRange) {
	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = color
	vk.CmdClearColorImage(v.Handle, imageHandle(image), layout, &value, uint32(len(ranges)), ranges)
}

func bufferHandle(b framegraph.Buffer) vk.Buffer {
	if h, ok := b.(interface{ BufferHandle() vk.Buffer }); ok {
		return h.BufferHandle()
	}
	core.LogError("buffer %T has no vulkan handle", b)
	return vk.NullBuffer
}

func imageHandle(i framegraph.Image) vk.Image {
	if h, ok := i.(interface{ ImageHandle() vk.Image }); ok {
		return h.ImageHandle()
	}
	core.LogError("image %T has no vulkan handle", i)
	return vk.NullImage
}
