package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/voxel/engine/core"
	"github.com/spaghettifunk/voxel/engine/framegraph"
)

// VulkanQueue implements framegraph.Queue. Submissions are serialized per family through the
// context lock pool.
type VulkanQueue struct {
	context *VulkanContext
	Name    string
	Handle  vk.Queue
	Family  uint32
}

func newQueue(context *VulkanContext, name string, family uint32) *VulkanQueue {
	q := &VulkanQueue{context: context, Name: name, Family: family}
	vk.GetDeviceQueue(context.Device.LogicalDevice, family, 0, &q.Handle)
	return q
}

func (q *VulkanQueue) FamilyIndex() uint32 {
	return q.Family
}

func (q *VulkanQueue) Submit(info framegraph.SubmitInfo, fence framegraph.Fence) error {
	cmd, ok := info.CommandBuffer.(*VulkanCommandBuffer)
	if !ok {
		return fmt.Errorf("%s queue: command buffer %T is not a vulkan command buffer", q.Name, info.CommandBuffer)
	}

	waits, err := semaphoreHandles(info.WaitSemaphores)
	if err != nil {
		return fmt.Errorf("%s queue: %w", q.Name, err)
	}
	signals, err := semaphoreHandles(info.SignalSemaphores)
	if err != nil {
		return fmt.Errorf("%s queue: %w", q.Name, err)
	}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    info.WaitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd.Handle},
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	fenceHandle := vk.NullFence
	var vf *VulkanFence
	if fence != nil {
		if vf, ok = fence.(*VulkanFence); !ok {
			return fmt.Errorf("%s queue: fence %T is not a vulkan fence", q.Name, fence)
		}
		fenceHandle = vf.Handle
	}

	err = q.context.Locks.SafeQueueCall(q.Family, func() error {
		if result := vk.QueueSubmit(q.Handle, 1, []vk.SubmitInfo{submitInfo}, fenceHandle); result != vk.Success {
			err := fmt.Errorf("vkQueueSubmit on %s queue failed with result: %s", q.Name, VulkanResultString(result))
			core.LogError(err.Error())
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	cmd.UpdateSubmitted()
	if vf != nil {
		vf.IsSignaled = false
	}
	return nil
}

func (q *VulkanQueue) WaitIdle() error {
	return q.context.Locks.SafeQueueCall(q.Family, func() error {
		return check(vk.QueueWaitIdle(q.Handle), "vkQueueWaitIdle")
	})
}

func semaphoreHandles(list []framegraph.Semaphore) ([]vk.Semaphore, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]vk.Semaphore, len(list))
	for i, s := range list {
		vs, ok := s.(*VulkanSemaphore)
		if !ok {
			return nil, fmt.Errorf("semaphore %T is not a vulkan semaphore", s)
		}
		out[i] = vs.Handle
	}
	return out, nil
}
