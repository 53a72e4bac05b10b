package vulkan

import (
	vk "github.com/goki/vulkan"
)

// VulkanImage is an image the backend hands to the render graph. Swapchain images are not
// owned: their memory belongs to the presentation engine.
type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32

	format vk.Format
}

func (i *VulkanImage) Format() vk.Format {
	return i.format
}

func (i *VulkanImage) Extent() vk.Extent3D {
	return vk.Extent3D{Width: i.Width, Height: i.Height, Depth: 1}
}

func (i *VulkanImage) ImageHandle() vk.Image {
	return i.Handle
}

func (i *VulkanImage) destroyView(context *VulkanContext) {
	if i.View != vk.NullImageView {
		vk.DestroyImageView(context.Device.LogicalDevice, i.View, context.Allocator)
		i.View = vk.NullImageView
	}
}
