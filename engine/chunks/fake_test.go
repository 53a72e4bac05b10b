package chunks

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/voxel/engine/framegraph"
)

// Minimal backend doubles: submissions retire at once and command buffers log their ops.

type fakeDevice struct{}

func (fakeDevice) CreateCommandPool(queueFamily uint32) (framegraph.CommandPool, error) {
	return &fakeCommandPool{}, nil
}

func (fakeDevice) CreateFence(signaled bool) (framegraph.Fence, error) {
	return &fakeFence{signaled: signaled}, nil
}

func (fakeDevice) CreateSemaphore() (framegraph.Semaphore, error) { return &fakeSemaphore{}, nil }

func (fakeDevice) CreateStagingBuffer(size uint64) (framegraph.StagingBuffer, error) {
	return &fakeStaging{data: make([]byte, size)}, nil
}

func (fakeDevice) WaitIdle() error { return nil }

type fakeQueue struct {
	family  uint32
	submits int
}

func (q *fakeQueue) FamilyIndex() uint32 { return q.family }

func (q *fakeQueue) Submit(info framegraph.SubmitInfo, fence framegraph.Fence) error {
	q.submits++
	fence.(*fakeFence).signaled = true
	return nil
}

func (q *fakeQueue) WaitIdle() error { return nil }

type fakeCommandPool struct{}

func (p *fakeCommandPool) AllocateCommandBuffers(count int) ([]framegraph.CommandBuffer, error) {
	out := make([]framegraph.CommandBuffer, count)
	for i := range out {
		out[i] = &fakeCommandBuffer{}
	}
	return out, nil
}

func (p *fakeCommandPool) Destroy() {}

type clearCall struct {
	image  framegraph.Image
	layout vk.ImageLayout
	color  [4]float32
}

type fakeCommandBuffer struct {
	ops     []string
	buffers []framegraph.BufferBarrier
	images  []framegraph.ImageBarrier
	copies  []vk.BufferCopy
	clears  []clearCall
}

func (b *fakeCommandBuffer) Begin() error {
	*b = fakeCommandBuffer{}
	return nil
}

func (b *fakeCommandBuffer) End() error { return nil }

func (b *fakeCommandBuffer) PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, buffers []framegraph.BufferBarrier, images []framegraph.ImageBarrier) {
	b.ops = append(b.ops, "barrier")
	b.buffers = append(b.buffers, buffers...)
	b.images = append(b.images, images...)
}

func (b *fakeCommandBuffer) CopyBuffer(src, dst framegraph.Buffer, regions []vk.BufferCopy) {
	b.ops = append(b.ops, "copy-buffer")
	b.copies = append(b.copies, regions...)
}

func (b *fakeCommandBuffer) CopyBufferToImage(src framegraph.Buffer, dst framegraph.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	b.ops = append(b.ops, "copy-image")
}

func (b *fakeCommandBuffer) ClearColorImage(image framegraph.Image, layout vk.ImageLayout, color [4]float32, ranges []vk.ImageSubresourceRange) {
	b.ops = append(b.ops, "clear")
	b.clears = append(b.clears, clearCall{image: image, layout: layout, color: color})
}

type fakeFence struct{ signaled bool }

func (f *fakeFence) Wait(timeoutNs uint64) error {
	f.signaled = true
	return nil
}

func (f *fakeFence) Reset() error {
	f.signaled = false
	return nil
}

func (f *fakeFence) Signaled() bool { return f.signaled }
func (f *fakeFence) Destroy()       {}

type fakeSemaphore struct{ destroyed bool }

func (s *fakeSemaphore) Destroy() { s.destroyed = true }

type fakeBuffer struct{ size uint64 }

func (b *fakeBuffer) Size() uint64 { return b.size }

type fakeStaging struct{ data []byte }

func (b *fakeStaging) Size() uint64   { return uint64(len(b.data)) }
func (b *fakeStaging) Mapped() []byte { return b.data }
func (b *fakeStaging) Destroy()       {}

type fakeImage struct{ index int }

func (i *fakeImage) Format() vk.Format { return vk.FormatB8g8r8a8Unorm }
func (i *fakeImage) Extent() vk.Extent3D {
	return vk.Extent3D{Width: 640, Height: 480, Depth: 1}
}

type fakeSurface struct {
	images   []framegraph.Image
	next     uint32
	presents int
}

func newFakeSurface(count int) *fakeSurface {
	s := &fakeSurface{}
	for i := 0; i < count; i++ {
		s.images = append(s.images, &fakeImage{index: i})
	}
	return s
}

func (s *fakeSurface) Extent() vk.Extent2D        { return vk.Extent2D{Width: 640, Height: 480} }
func (s *fakeSurface) Images() []framegraph.Image { return s.images }

func (s *fakeSurface) AcquireNextImage(timeoutNs uint64, signal framegraph.Semaphore) (uint32, error) {
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return idx, nil
}

func (s *fakeSurface) Present(queue framegraph.Queue, wait []framegraph.Semaphore, imageIndex uint32) error {
	s.presents++
	return nil
}
