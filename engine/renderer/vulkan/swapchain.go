package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/voxel/engine/core"
	"github.com/spaghettifunk/voxel/engine/framegraph"
	vmath "github.com/spaghettifunk/voxel/engine/math"
)

// VulkanSwapchain implements framegraph.Surface. Out of date results are reported as
// core.ErrSwapchainBooting and never recreate the swapchain in place; the owner recreates
// it once the graph is idle.
type VulkanSwapchain struct {
	context     *VulkanContext
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	ImageCount  uint32
	ImageExtent vk.Extent2D

	images []*VulkanImage
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

func SwapchainCreate(context *VulkanContext, width uint32, height uint32) (*VulkanSwapchain, error) {
	return createSwapchain(context, width, height, vk.NullSwapchain)
}

// SwapchainRecreate builds a replacement from the current surface capabilities and destroys
// the old one. The device must be idle.
func (vs *VulkanSwapchain) SwapchainRecreate(width uint32, height uint32) (*VulkanSwapchain, error) {
	context := vs.context
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, &context.Device.SwapchainSupport); err != nil {
		return nil, err
	}
	sc, err := createSwapchain(context, width, height, vs.Handle)
	if err != nil {
		return nil, err
	}
	vs.destroySwapchain()
	return sc, nil
}

func (vs *VulkanSwapchain) SwapchainDestroy() {
	vs.destroySwapchain()
}

func (vs *VulkanSwapchain) Extent() vk.Extent2D {
	return vs.ImageExtent
}

func (vs *VulkanSwapchain) Images() []framegraph.Image {
	out := make([]framegraph.Image, len(vs.images))
	for i, img := range vs.images {
		out[i] = img
	}
	return out
}

func (vs *VulkanSwapchain) AcquireNextImage(timeoutNs uint64, signal framegraph.Semaphore) (uint32, error) {
	semaphore := vk.NullSemaphore
	if s, ok := signal.(*VulkanSemaphore); ok {
		semaphore = s.Handle
	}

	var imageIndex uint32
	var result vk.Result
	_ = vs.context.Locks.SafeCall(SwapchainManagement, func() error {
		result = vk.AcquireNextImage(vs.context.Device.LogicalDevice, vs.Handle, timeoutNs, semaphore, vk.NullFence, &imageIndex)
		return nil
	})

	switch result {
	case vk.Success, vk.Suboptimal:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		core.LogDebug("swapchain out of date on acquire, booting.")
		return 0, core.ErrSwapchainBooting
	default:
		err := fmt.Errorf("failed to acquire swapchain image: %s", VulkanResultString(result))
		core.LogError(err.Error())
		return 0, err
	}
}

func (vs *VulkanSwapchain) Present(queue framegraph.Queue, wait []framegraph.Semaphore, imageIndex uint32) error {
	q, ok := queue.(*VulkanQueue)
	if !ok {
		return fmt.Errorf("present: queue %T is not a vulkan queue", queue)
	}
	waits, err := semaphoreHandles(wait)
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	var result vk.Result
	_ = vs.context.Locks.SafeQueueCall(q.Family, func() error {
		result = vk.QueuePresent(q.Handle, &presentInfo)
		return nil
	})

	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		// Swapchain is out of date, suboptimal or a framebuffer resize has occurred.
		core.LogDebug("swapchain out of date on present, booting.")
		return core.ErrSwapchainBooting
	default:
		err := fmt.Errorf("failed to present swapchain image: %s", VulkanResultString(result))
		core.LogError(err.Error())
		return err
	}
}

func createSwapchain(context *VulkanContext, width, height uint32, old vk.Swapchain) (*VulkanSwapchain, error) {
	support := &context.Device.SwapchainSupport
	if len(support.Formats) == 0 {
		err := fmt.Errorf("surface reports no formats")
		core.LogError(err.Error())
		return nil, err
	}
	swapchain := &VulkanSwapchain{context: context}

	// Choose a swap surface format.
	swapchain.ImageFormat = support.Formats[0]
	for _, format := range support.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			swapchain.ImageFormat = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	swapchainExtent := vk.Extent2D{Width: width, Height: height}
	if support.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = support.Capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	min := support.Capabilities.MinImageExtent
	max := support.Capabilities.MaxImageExtent
	swapchainExtent.Width = vmath.Clamp(swapchainExtent.Width, min.Width, max.Width)
	swapchainExtent.Height = vmath.Clamp(swapchainExtent.Height, min.Height, max.Height)
	swapchain.ImageExtent = swapchainExtent

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		// Transfer destination so graph nodes can clear and copy into the image.
		ImageUsage:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: vk.CompositeAlphaOpaqueBit,
		PresentMode:    presentMode,
		Clipped:        vk.True,
		OldSwapchain:   old,
	}

	// Images move between the graphics and present families through graph barriers, so
	// exclusive sharing is enough even when the families differ.
	swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive

	err := context.Locks.SafeCall(SwapchainManagement, func() error {
		return check(vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchain.Handle), "vkCreateSwapchainKHR")
	})
	if err != nil {
		return nil, err
	}

	if err := check(vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, nil), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	handles := make([]vk.Image, swapchain.ImageCount)
	if err := check(vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, handles), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}

	swapchain.images = make([]*VulkanImage, swapchain.ImageCount)
	for i, handle := range handles {
		img := &VulkanImage{
			Handle: handle,
			Width:  swapchainExtent.Width,
			Height: swapchainExtent.Height,
			format: swapchain.ImageFormat.Format,
		}
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    handle,
			ViewType: vk.ImageViewType2d,
			Format:   swapchain.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if err := check(vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &img.View), "vkCreateImageView"); err != nil {
			swapchain.images = swapchain.images[:i]
			swapchain.destroySwapchain()
			return nil, err
		}
		swapchain.images[i] = img
	}

	core.LogInfo("Swapchain created successfully (%dx%d, %d images).", swapchainExtent.Width, swapchainExtent.Height, swapchain.ImageCount)
	return swapchain, nil
}

func (vs *VulkanSwapchain) destroySwapchain() {
	// Only destroy the views, not the images, since those are owned by the swapchain and are thus
	// destroyed when it is.
	for _, img := range vs.images {
		img.destroyView(vs.context)
	}
	vs.images = nil
	if vs.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(vs.context.Device.LogicalDevice, vs.Handle, vs.context.Allocator)
		vs.Handle = vk.NullSwapchain
	}
}
