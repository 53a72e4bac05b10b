package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/voxel/engine/core"
)

// VulkanBuffer is a buffer with its own dedicated allocation. Host visible buffers can be
// mapped once and kept mapped for their whole lifetime.
type VulkanBuffer struct {
	context     *VulkanContext
	Handle      vk.Buffer
	Memory      vk.DeviceMemory
	TotalSize   uint64
	Usage       vk.BufferUsageFlags
	MemoryFlags vk.MemoryPropertyFlags

	mapped []byte
}

func BufferCreate(context *VulkanContext, size uint64, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) (*VulkanBuffer, error) {
	buffer := &VulkanBuffer{
		context:     context,
		TotalSize:   size,
		Usage:       usage,
		MemoryFlags: memoryFlags,
	}

	err := context.Locks.SafeCall(BufferManagement, func() error {
		info := vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Size:        vk.DeviceSize(size),
			Usage:       usage,
			SharingMode: vk.SharingModeExclusive,
		}
		return check(vk.CreateBuffer(context.Device.LogicalDevice, &info, context.Allocator, &buffer.Handle), "vkCreateBuffer")
	})
	if err != nil {
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer.Handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryIndex == -1 {
		buffer.Destroy()
		err := fmt.Errorf("unable to create vulkan buffer because the required memory type index was not found")
		core.LogError(err.Error())
		return nil, err
	}

	err = context.Locks.SafeCall(MemoryManagement, func() error {
		allocateInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  requirements.Size,
			MemoryTypeIndex: uint32(memoryIndex),
		}
		if err := check(vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &buffer.Memory), "vkAllocateMemory"); err != nil {
			return err
		}
		return check(vk.BindBufferMemory(context.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0), "vkBindBufferMemory")
	})
	if err != nil {
		buffer.Destroy()
		return nil, err
	}
	return buffer, nil
}

// StagingBufferCreate returns a host visible, coherent transfer source that stays mapped.
func StagingBufferCreate(context *VulkanContext, size uint64) (*VulkanBuffer, error) {
	buffer, err := BufferCreate(context, size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	if err := buffer.Map(); err != nil {
		buffer.Destroy()
		return nil, err
	}
	return buffer, nil
}

func (b *VulkanBuffer) Map() error {
	if b.mapped != nil {
		return nil
	}
	var ptr unsafe.Pointer
	if err := check(vk.MapMemory(b.context.Device.LogicalDevice, b.Memory, 0, vk.DeviceSize(b.TotalSize), 0, &ptr), "vkMapMemory"); err != nil {
		return err
	}
	b.mapped = unsafe.Slice((*byte)(ptr), b.TotalSize)
	return nil
}

func (b *VulkanBuffer) Unmap() {
	if b.mapped == nil {
		return
	}
	vk.UnmapMemory(b.context.Device.LogicalDevice, b.Memory)
	b.mapped = nil
}

func (b *VulkanBuffer) Size() uint64 {
	return b.TotalSize
}

func (b *VulkanBuffer) Mapped() []byte {
	return b.mapped
}

func (b *VulkanBuffer) BufferHandle() vk.Buffer {
	return b.Handle
}

func (b *VulkanBuffer) Destroy() {
	b.Unmap()
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.context.Device.LogicalDevice, b.Memory, b.context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, b.Handle, b.context.Allocator)
		b.Handle = vk.NullBuffer
	}
}
