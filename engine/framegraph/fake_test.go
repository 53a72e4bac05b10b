package framegraph

import (
	"errors"

	vk "github.com/goki/vulkan"
)

// Recording test doubles for the backend interfaces. Queues retire work immediately: a
// submitted fence is signaled by the time Submit returns.

type fakeDevice struct {
	pools      []*fakeCommandPool
	fences     []*fakeFence
	semaphores []*fakeSemaphore
	staging    []*fakeStagingBuffer

	failSemaphores bool
	waitIdleCalls  int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{}
}

func (d *fakeDevice) CreateCommandPool(queueFamily uint32) (CommandPool, error) {
	p := &fakeCommandPool{family: queueFamily}
	d.pools = append(d.pools, p)
	return p, nil
}

func (d *fakeDevice) CreateFence(signaled bool) (Fence, error) {
	f := &fakeFence{signaled: signaled}
	d.fences = append(d.fences, f)
	return f, nil
}

func (d *fakeDevice) CreateSemaphore() (Semaphore, error) {
	if d.failSemaphores {
		return nil, errors.New("out of semaphores")
	}
	s := &fakeSemaphore{id: len(d.semaphores)}
	d.semaphores = append(d.semaphores, s)
	return s, nil
}

func (d *fakeDevice) CreateStagingBuffer(size uint64) (StagingBuffer, error) {
	b := &fakeStagingBuffer{data: make([]byte, size)}
	d.staging = append(d.staging, b)
	return b, nil
}

func (d *fakeDevice) WaitIdle() error {
	d.waitIdleCalls++
	return nil
}

func (d *fakeDevice) liveSemaphores() int {
	live := 0
	for _, s := range d.semaphores {
		if !s.destroyed {
			live++
		}
	}
	return live
}

type fakeQueue struct {
	family    uint32
	submits   []SubmitInfo
	submitErr error
	// hold keeps submitted fences unsignaled until the next wait.
	hold bool
}

func (q *fakeQueue) FamilyIndex() uint32 { return q.family }

func (q *fakeQueue) Submit(info SubmitInfo, fence Fence) error {
	if q.submitErr != nil {
		return q.submitErr
	}
	q.submits = append(q.submits, info)
	f := fence.(*fakeFence)
	f.submits++
	if !q.hold {
		f.signaled = true
	}
	return nil
}

func (q *fakeQueue) WaitIdle() error { return nil }

type fakeCommandPool struct {
	family    uint32
	buffers   []*fakeCommandBuffer
	destroyed bool
}

func (p *fakeCommandPool) AllocateCommandBuffers(count int) ([]CommandBuffer, error) {
	out := make([]CommandBuffer, count)
	for i := range out {
		b := &fakeCommandBuffer{}
		p.buffers = append(p.buffers, b)
		out[i] = b
	}
	return out, nil
}

func (p *fakeCommandPool) Destroy() { p.destroyed = true }

type barrierCall struct {
	srcStages vk.PipelineStageFlags
	dstStages vk.PipelineStageFlags
	buffers   []BufferBarrier
	images    []ImageBarrier
}

type bufferCopyCall struct {
	src, dst Buffer
	regions  []vk.BufferCopy
}

type imageCopyCall struct {
	src     Buffer
	dst     Image
	layout  vk.ImageLayout
	regions []vk.BufferImageCopy
}

// fakeCommandBuffer keeps the commands of its latest recording. ops lists them in order.
type fakeCommandBuffer struct {
	recording   bool
	recordings  int
	ops         []string
	barriers    []barrierCall
	copies      []bufferCopyCall
	imageCopies []imageCopyCall
}

func (b *fakeCommandBuffer) Begin() error {
	if b.recording {
		return errors.New("command buffer already recording")
	}
	b.recording = true
	b.recordings++
	b.ops = nil
	b.barriers = nil
	b.copies = nil
	b.imageCopies = nil
	return nil
}

func (b *fakeCommandBuffer) End() error {
	if !b.recording {
		return errors.New("command buffer not recording")
	}
	b.recording = false
	return nil
}

func (b *fakeCommandBuffer) PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, buffers []BufferBarrier, images []ImageBarrier) {
	b.ops = append(b.ops, "barrier")
	b.barriers = append(b.barriers, barrierCall{
		srcStages: srcStages,
		dstStages: dstStages,
		buffers:   append([]BufferBarrier(nil), buffers...),
		images:    append([]ImageBarrier(nil), images...),
	})
}

func (b *fakeCommandBuffer) CopyBuffer(src, dst Buffer, regions []vk.BufferCopy) {
	b.ops = append(b.ops, "copy-buffer")
	b.copies = append(b.copies, bufferCopyCall{src: src, dst: dst, regions: append([]vk.BufferCopy(nil), regions...)})
}

func (b *fakeCommandBuffer) CopyBufferToImage(src Buffer, dst Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	b.ops = append(b.ops, "copy-image")
	b.imageCopies = append(b.imageCopies, imageCopyCall{src: src, dst: dst, layout: layout, regions: append([]vk.BufferImageCopy(nil), regions...)})
}

func (b *fakeCommandBuffer) ClearColorImage(image Image, layout vk.ImageLayout, color [4]float32, ranges []vk.ImageSubresourceRange) {
	b.ops = append(b.ops, "clear")
}

func (b *fakeCommandBuffer) bufferBarriers() []BufferBarrier {
	var out []BufferBarrier
	for _, c := range b.barriers {
		out = append(out, c.buffers...)
	}
	return out
}

func (b *fakeCommandBuffer) imageBarriers() []ImageBarrier {
	var out []ImageBarrier
	for _, c := range b.barriers {
		out = append(out, c.images...)
	}
	return out
}

type fakeFence struct {
	signaled  bool
	submits   int
	resets    int
	destroyed bool
	// signaledAtWait records the fence state each time a wait started.
	signaledAtWait []bool
	// waitErr fails the next wait once.
	waitErr error
}

func (f *fakeFence) Wait(timeoutNs uint64) error {
	if f.waitErr != nil {
		err := f.waitErr
		f.waitErr = nil
		return err
	}
	f.signaledAtWait = append(f.signaledAtWait, f.signaled)
	// Held work completes while the host waits.
	f.signaled = true
	return nil
}

func (f *fakeFence) Reset() error {
	f.signaled = false
	f.resets++
	return nil
}

func (f *fakeFence) Signaled() bool { return f.signaled }
func (f *fakeFence) Destroy()       { f.destroyed = true }

type fakeSemaphore struct {
	id        int
	destroyed bool
}

func (s *fakeSemaphore) Destroy() { s.destroyed = true }

type fakeBuffer struct {
	name string
	size uint64
}

func (b *fakeBuffer) Size() uint64 { return b.size }

type fakeImage struct {
	name   string
	extent vk.Extent3D
}

func (i *fakeImage) Format() vk.Format   { return vk.FormatR8g8b8a8Unorm }
func (i *fakeImage) Extent() vk.Extent3D { return i.extent }

type fakeStagingBuffer struct {
	data      []byte
	destroyed bool
}

func (b *fakeStagingBuffer) Size() uint64   { return uint64(len(b.data)) }
func (b *fakeStagingBuffer) Mapped() []byte { return b.data }
func (b *fakeStagingBuffer) Destroy()       { b.destroyed = true }

type presentCall struct {
	queue      Queue
	wait       []Semaphore
	imageIndex uint32
}

type fakeSurface struct {
	images     []Image
	next       uint32
	acquires   []Semaphore
	presents   []presentCall
	acquireErr error
	presentErr error
}

func newFakeSurface(count int) *fakeSurface {
	s := &fakeSurface{}
	for i := 0; i < count; i++ {
		s.images = append(s.images, &fakeImage{extent: vk.Extent3D{Width: 800, Height: 600, Depth: 1}})
	}
	return s
}

func (s *fakeSurface) Extent() vk.Extent2D { return vk.Extent2D{Width: 800, Height: 600} }
func (s *fakeSurface) Images() []Image     { return s.images }

func (s *fakeSurface) AcquireNextImage(timeoutNs uint64, signal Semaphore) (uint32, error) {
	if s.acquireErr != nil {
		return 0, s.acquireErr
	}
	s.acquires = append(s.acquires, signal)
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return idx, nil
}

func (s *fakeSurface) Present(queue Queue, wait []Semaphore, imageIndex uint32) error {
	if s.presentErr != nil {
		return s.presentErr
	}
	s.presents = append(s.presents, presentCall{queue: queue, wait: wait, imageIndex: imageIndex})
	return nil
}

// phaseRecorder is a node kind that logs every phase it runs and can fail on demand.
type phaseRecorder struct {
	calls     []string
	frames    []int
	preErr    error
	renderErr error
	postErr   error
	onPre     func(frame int)
	onRender  func(frame int, cmd CommandBuffer)
}

func (r *phaseRecorder) PreRender(frame int) error {
	r.calls = append(r.calls, "pre")
	r.frames = append(r.frames, frame)
	if r.preErr != nil {
		err := r.preErr
		r.preErr = nil
		return err
	}
	if r.onPre != nil {
		r.onPre(frame)
	}
	return nil
}

func (r *phaseRecorder) Render(frame int, cmd CommandBuffer) error {
	r.calls = append(r.calls, "render")
	if r.onRender != nil {
		r.onRender(frame, cmd)
	}
	return r.renderErr
}

func (r *phaseRecorder) PostRender(frame int) error {
	r.calls = append(r.calls, "post")
	if r.postErr != nil {
		err := r.postErr
		r.postErr = nil
		return err
	}
	return nil
}

var errBoom = errors.New("boom")

func stages(bits vk.PipelineStageFlagBits) vk.PipelineStageFlags {
	return vk.PipelineStageFlags(bits)
}

func access(bits vk.AccessFlagBits) vk.AccessFlags {
	return vk.AccessFlags(bits)
}

func fakeCmd(n *Node, frame int) *fakeCommandBuffer {
	return n.CommandBuffer(frame).(*fakeCommandBuffer)
}

func fakeFenceOf(n *Node, frame int) *fakeFence {
	return n.Fence(frame).(*fakeFence)
}
