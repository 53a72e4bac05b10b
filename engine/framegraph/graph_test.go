package framegraph

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/voxel/engine/core"
)

func newTestGraph(t *testing.T, frames int) (*RenderGraph, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	g, err := New(dev, WithFramesInFlight(frames))
	require.NoError(t, err)
	return g, dev
}

func addTestNode(t *testing.T, g *RenderGraph, name string, q Queue, impl any) *Node {
	t.Helper()
	n, err := g.AddNode(name, q, stages(vk.PipelineStageComputeShaderBit), impl)
	require.NoError(t, err)
	return n
}

// link connects a fresh buffer usage on src to a fresh buffer usage on dst.
func link(t *testing.T, g *RenderGraph, src, dst *Node) *Edge {
	t.Helper()
	e, err := g.AddEdge(
		src.NewBufferUsage(access(vk.AccessShaderWriteBit), stages(vk.PipelineStageComputeShaderBit)),
		dst.NewBufferUsage(access(vk.AccessShaderReadBit), stages(vk.PipelineStageComputeShaderBit)),
	)
	require.NoError(t, err)
	return e
}

func indexOf(order []*Node, n *Node) int {
	for i, o := range order {
		if o == n {
			return i
		}
	}
	return -1
}

func TestNewRejectsZeroFrames(t *testing.T) {
	_, err := New(newFakeDevice(), WithFramesInFlight(0))
	assert.ErrorIs(t, err, core.ErrInvalidFrameCount)
}

func TestNewDefaults(t *testing.T) {
	g, err := New(newFakeDevice())
	require.NoError(t, err)
	assert.Equal(t, DefaultFramesInFlight, g.FramesInFlight())
	assert.Equal(t, 0, g.Frame())
	assert.False(t, g.Baked())
}

func TestAddNodeAllocatesPerFrameObjects(t *testing.T) {
	g, dev := newTestGraph(t, 3)
	q := &fakeQueue{family: 4}
	n := addTestNode(t, g, "", q, nil)

	assert.NotEmpty(t, n.Name())
	assert.Equal(t, NodeID(0), n.ID())
	assert.Same(t, n, g.Node(n.ID()))
	assert.Nil(t, g.Node(7))

	require.Len(t, dev.pools, 1)
	assert.Equal(t, uint32(4), dev.pools[0].family)
	assert.Len(t, dev.pools[0].buffers, 3)
	require.Len(t, dev.fences, 3)
	for f := 0; f < 3; f++ {
		assert.True(t, fakeFenceOf(n, f).Signaled(), "fence %d starts signaled", f)
		assert.Equal(t, NodeStateIdle, n.State(f))
	}
}

func TestAddEdgeValidation(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)

	buf := a.NewBufferUsage(access(vk.AccessShaderWriteBit), stages(vk.PipelineStageComputeShaderBit))
	img := b.NewImageUsage(access(vk.AccessShaderReadBit), stages(vk.PipelineStageFragmentShaderBit), vk.ImageLayoutShaderReadOnlyOptimal)

	_, err := g.AddEdge(buf, img)
	assert.ErrorIs(t, err, core.ErrUsageKindMismatch)

	_, err = g.AddEdge(buf, a.NewBufferUsage(0, stages(vk.PipelineStageComputeShaderBit)))
	assert.ErrorIs(t, err, core.ErrSelfEdge)

	other, _ := newTestGraph(t, 2)
	foreign := addTestNode(t, other, "foreign", q, nil)
	_, err = g.AddEdge(buf, foreign.NewBufferUsage(0, stages(vk.PipelineStageComputeShaderBit)))
	assert.ErrorIs(t, err, core.ErrForeignUsage)

	assert.Empty(t, g.Edges())
	assert.Empty(t, a.Outputs())
}

func TestAddEdgeDeduplicatesOutputs(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)

	link(t, g, a, b)
	link(t, g, a, b)

	assert.Len(t, g.Edges(), 2)
	assert.Len(t, a.Outgoing(), 2)
	assert.Len(t, b.Incoming(), 2)
	assert.Equal(t, []*Node{b}, a.Outputs())
}

func TestBakeOrdersEveryEdgeForward(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	// Registered in reverse of their dependency order.
	present := addTestNode(t, g, "present", q, nil)
	post := addTestNode(t, g, "post", q, nil)
	lighting := addTestNode(t, g, "lighting", q, nil)
	shadow := addTestNode(t, g, "shadow", q, nil)
	gbuffer := addTestNode(t, g, "gbuffer", q, nil)
	upload := addTestNode(t, g, "upload", q, nil)
	isolated := addTestNode(t, g, "isolated", q, nil)

	link(t, g, upload, gbuffer)
	link(t, g, upload, shadow)
	link(t, g, gbuffer, lighting)
	link(t, g, shadow, lighting)
	link(t, g, lighting, post)
	link(t, g, post, present)
	link(t, g, gbuffer, post)

	require.NoError(t, g.Bake())
	order := g.Order()
	require.Len(t, order, 7)
	assert.Contains(t, order, isolated)
	for _, e := range g.Edges() {
		assert.Less(t, indexOf(order, e.SrcNode()), indexOf(order, e.DstNode()), "edge %s", e)
	}
}

func TestBakeRejectsCycle(t *testing.T) {
	g, dev := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)
	link(t, g, a, b)
	link(t, g, b, a)

	err := g.Bake()
	require.ErrorIs(t, err, core.ErrGraphCycle)
	assert.Contains(t, err.Error(), `"b" -> "a"`)
	assert.False(t, g.Baked())
	assert.Nil(t, g.Order())
	assert.Empty(t, g.Semaphores())
	assert.Empty(t, dev.semaphores)
	for _, n := range []*Node{a, b} {
		assert.Empty(t, n.WaitSemaphores(0))
		assert.Empty(t, n.SignalSemaphores(0))
	}

	assert.ErrorIs(t, g.Execute(), core.ErrGraphNotBaked)
}

func TestBakeRejectsLongerCycle(t *testing.T) {
	g, _ := newTestGraph(t, 1)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)
	c := addTestNode(t, g, "c", q, nil)
	link(t, g, a, b)
	link(t, g, b, c)
	link(t, g, c, a)

	assert.ErrorIs(t, g.Bake(), core.ErrGraphCycle)
}

func TestBakeSemaphoreBetweenTwoNodes(t *testing.T) {
	g, dev := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b, err := g.AddNode("b", q, stages(vk.PipelineStageVertexInputBit), nil)
	require.NoError(t, err)

	_, err = g.AddEdge(
		a.NewBufferUsage(access(vk.AccessTransferWriteBit), stages(vk.PipelineStageTransferBit)),
		b.NewBufferUsage(access(vk.AccessVertexAttributeReadBit), stages(vk.PipelineStageVertexInputBit)),
	)
	require.NoError(t, err)
	require.NoError(t, g.Bake())

	require.Len(t, g.Semaphores(), 1)
	assert.Len(t, dev.semaphores, 1)
	sem := g.Semaphores()[0]
	for f := 0; f < 2; f++ {
		assert.Equal(t, []Semaphore{sem}, a.SignalSemaphores(f))
		assert.Empty(t, a.WaitSemaphores(f))
		assert.Equal(t, []Semaphore{sem}, b.WaitSemaphores(f))
		assert.Equal(t, []vk.PipelineStageFlags{stages(vk.PipelineStageVertexInputBit)}, b.WaitStages(f))
		assert.Empty(t, b.SignalSemaphores(f))
	}
}

func TestBakeOneSemaphorePerAdjacency(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)
	c := addTestNode(t, g, "c", q, nil)
	link(t, g, a, b)
	link(t, g, a, b)
	link(t, g, a, c)
	link(t, g, b, c)

	require.NoError(t, g.Bake())
	assert.Len(t, g.Semaphores(), 3)
	assert.Len(t, a.SignalSemaphores(0), 2)
	assert.Len(t, c.WaitSemaphores(1), 2)
}

func TestBakeFailureReleasesSemaphores(t *testing.T) {
	g, dev := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)
	link(t, g, a, b)
	dev.failSemaphores = true

	require.Error(t, g.Bake())
	assert.False(t, g.Baked())
	assert.Empty(t, a.SignalSemaphores(0))
}

func TestMutationsAfterBake(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)
	require.NoError(t, g.Bake())

	assert.ErrorIs(t, g.Bake(), core.ErrGraphBaked)
	_, err := g.AddNode("c", q, 0, nil)
	assert.ErrorIs(t, err, core.ErrGraphBaked)
	_, err = g.AddEdge(a.NewBufferUsage(0, 0), b.NewBufferUsage(0, 0))
	assert.ErrorIs(t, err, core.ErrGraphBaked)
}

func TestExecuteRunsPhasesGlobally(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	var log []string
	mk := func(name string) *phaseRecorder {
		r := &phaseRecorder{}
		r.onPre = func(int) { log = append(log, name+":pre") }
		r.onRender = func(int, CommandBuffer) { log = append(log, name+":render") }
		return r
	}
	a := addTestNode(t, g, "a", q, mk("a"))
	b := addTestNode(t, g, "b", q, mk("b"))
	link(t, g, a, b)
	require.NoError(t, g.Bake())

	require.NoError(t, g.Execute())
	assert.Equal(t, []string{"a:pre", "b:pre", "a:render", "b:render"}, log)
	require.Len(t, q.submits, 2)
	assert.Same(t, a.CommandBuffer(0), q.submits[0].CommandBuffer)
	assert.Same(t, b.CommandBuffer(0), q.submits[1].CommandBuffer)
	assert.Equal(t, 1, g.Frame())
}

func TestExecuteCyclesFrameSlots(t *testing.T) {
	const frames = 3
	g, _ := newTestGraph(t, frames)
	q := &fakeQueue{hold: true}
	rec := &phaseRecorder{}
	a := addTestNode(t, g, "a", q, rec)
	b := addTestNode(t, g, "b", q, nil)
	link(t, g, a, b)
	require.NoError(t, g.Bake())

	for i := 0; i < 2*frames+1; i++ {
		require.NoError(t, g.Execute())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, rec.frames)
	assert.Equal(t, 1, g.Frame())

	// Every submission of a slot was preceded by exactly one wait and reset of its fence.
	for _, n := range []*Node{a, b} {
		for f := 0; f < frames; f++ {
			fence := fakeFenceOf(n, f)
			assert.Equal(t, fence.submits, fence.resets, "node %s frame %d", n.Name(), f)
			assert.Equal(t, NodeStateSubmitted, n.State(f))
		}
	}
}

func TestFenceSignaledBeforeEveryRecord(t *testing.T) {
	const frames = 2
	g, _ := newTestGraph(t, frames)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, &phaseRecorder{})
	require.NoError(t, g.Bake())

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Execute())
	}
	waits := append(fakeFenceOf(a, 0).signaledAtWait, fakeFenceOf(a, 1).signaledAtWait...)
	require.Len(t, waits, 5)
	for _, signaled := range waits {
		assert.True(t, signaled)
	}
	assert.Equal(t, 3, fakeCmd(a, 0).recordings)
	assert.Equal(t, 2, fakeCmd(a, 1).recordings)
}

func TestWaitDrainsEveryFrameSlot(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{hold: true}
	a := addTestNode(t, g, "a", q, nil)
	require.NoError(t, g.Bake())
	require.NoError(t, g.Execute())
	require.NoError(t, g.Execute())
	assert.False(t, fakeFenceOf(a, 0).Signaled())

	require.NoError(t, g.Wait())
	for f := 0; f < 2; f++ {
		assert.True(t, fakeFenceOf(a, f).Signaled())
		assert.Equal(t, NodeStateIdle, a.State(f))
	}
	require.NoError(t, g.Execute())
}

func TestImageLayoutTransitionBetweenNodes(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	img := &fakeImage{name: "albedo"}
	rng := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 4,
		LayerCount: 1,
	}

	var write *ImageUsage
	var read *ImageUsage
	a := addTestNode(t, g, "upload", q, &phaseRecorder{onPre: func(int) { write.Sync(img, rng) }})
	b := addTestNode(t, g, "shade", q, &phaseRecorder{onPre: func(int) { read.Sync(img, rng) }})
	write = a.NewImageUsage(access(vk.AccessTransferWriteBit), stages(vk.PipelineStageTransferBit), vk.ImageLayoutTransferDstOptimal)
	read = b.NewImageUsage(access(vk.AccessShaderReadBit), stages(vk.PipelineStageFragmentShaderBit), vk.ImageLayoutShaderReadOnlyOptimal)
	_, err := g.AddEdge(write, read)
	require.NoError(t, err)
	require.NoError(t, g.Bake())
	require.NoError(t, g.Execute())

	// Same queue family: nothing to release on the producer side.
	assert.Empty(t, fakeCmd(a, 0).barriers)

	cmd := fakeCmd(b, 0)
	require.Len(t, cmd.barriers, 1)
	call := cmd.barriers[0]
	assert.Equal(t, stages(vk.PipelineStageTransferBit), call.srcStages)
	assert.Equal(t, stages(vk.PipelineStageFragmentShaderBit), call.dstStages)
	require.Len(t, call.images, 1)
	barrier := call.images[0]
	assert.Same(t, img, barrier.Image)
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, barrier.OldLayout)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, barrier.NewLayout)
	assert.Equal(t, access(vk.AccessTransferWriteBit), barrier.SrcAccess)
	assert.Equal(t, access(vk.AccessShaderReadBit), barrier.DstAccess)
	assert.Equal(t, QueueFamilyIgnored, barrier.SrcQueueFamily)
	assert.Equal(t, QueueFamilyIgnored, barrier.DstQueueFamily)
	assert.Equal(t, rng, barrier.Range)
	assert.False(t, barrier.OwnershipTransfer())
}

func TestCrossQueueBufferBarriers(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	transferQ := &fakeQueue{family: 2}
	graphicsQ := &fakeQueue{family: 0}
	buf := &fakeBuffer{name: "vertices", size: 4096}

	var write, read *BufferUsage
	a := addTestNode(t, g, "upload", transferQ, &phaseRecorder{onPre: func(int) { write.Sync(buf, 256, 512) }})
	b := addTestNode(t, g, "draw", graphicsQ, &phaseRecorder{onPre: func(int) { read.Sync(buf, WholeSize, 0) }})
	write = a.NewBufferUsage(access(vk.AccessTransferWriteBit), stages(vk.PipelineStageTransferBit))
	read = b.NewBufferUsage(access(vk.AccessVertexAttributeReadBit), stages(vk.PipelineStageVertexInputBit))
	_, err := g.AddEdge(write, read)
	require.NoError(t, err)
	require.NoError(t, g.Bake())
	require.NoError(t, g.Execute())

	release := fakeCmd(a, 0)
	require.Len(t, release.barriers, 1)
	assert.Equal(t, stages(vk.PipelineStageTransferBit), release.barriers[0].srcStages)
	assert.Equal(t, stages(vk.PipelineStageBottomOfPipeBit), release.barriers[0].dstStages)
	require.Len(t, release.barriers[0].buffers, 1)
	rb := release.barriers[0].buffers[0]
	assert.Equal(t, uint32(2), rb.SrcQueueFamily)
	assert.Equal(t, uint32(0), rb.DstQueueFamily)
	assert.Equal(t, uint64(512), rb.Offset)
	assert.Equal(t, uint64(256), rb.Size)

	acquire := fakeCmd(b, 0)
	require.Len(t, acquire.barriers, 1)
	assert.Equal(t, stages(vk.PipelineStageTopOfPipeBit), acquire.barriers[0].srcStages)
	assert.Equal(t, stages(vk.PipelineStageVertexInputBit), acquire.barriers[0].dstStages)
	require.Len(t, acquire.barriers[0].buffers, 1)
	ab := acquire.barriers[0].buffers[0]
	assert.True(t, ab.OwnershipTransfer())
	assert.Equal(t, access(vk.AccessTransferWriteBit), ab.SrcAccess)
	assert.Equal(t, access(vk.AccessVertexAttributeReadBit), ab.DstAccess)
	assert.Equal(t, uint64(0), ab.Offset)
	assert.Equal(t, WholeSize, ab.Size)
}

func TestNoBarrierWithoutSharedResource(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	var write, read *BufferUsage
	a := addTestNode(t, g, "a", q, &phaseRecorder{onPre: func(int) { write.Sync(&fakeBuffer{size: 16}, 16, 0) }})
	b := addTestNode(t, g, "b", q, &phaseRecorder{onPre: func(int) { read.Sync(&fakeBuffer{size: 16}, 16, 0) }})
	write = a.NewBufferUsage(access(vk.AccessShaderWriteBit), stages(vk.PipelineStageComputeShaderBit))
	read = b.NewBufferUsage(access(vk.AccessShaderReadBit), stages(vk.PipelineStageComputeShaderBit))
	_, err := g.AddEdge(write, read)
	require.NoError(t, err)
	require.NoError(t, g.Bake())
	require.NoError(t, g.Execute())

	assert.Empty(t, fakeCmd(b, 0).barriers)
}

func TestBarriersBatchedAroundRender(t *testing.T) {
	g, _ := newTestGraph(t, 1)
	q := &fakeQueue{}
	buf := &fakeBuffer{size: 64}
	img := &fakeImage{}

	var wb, rb *BufferUsage
	var wi, ri *ImageUsage
	a := addTestNode(t, g, "a", q, &phaseRecorder{onPre: func(int) {
		wb.Sync(buf, 64, 0)
		wi.Sync(img, ColorRange())
	}})
	b := addTestNode(t, g, "b", q, &phaseRecorder{
		onPre: func(int) {
			rb.Sync(buf, 64, 0)
			ri.Sync(img, ColorRange())
		},
		onRender: func(_ int, cmd CommandBuffer) {
			cmd.CopyBuffer(buf, buf, nil)
		},
	})
	wb = a.NewBufferUsage(access(vk.AccessShaderWriteBit), stages(vk.PipelineStageComputeShaderBit))
	wi = a.NewImageUsage(access(vk.AccessShaderWriteBit), stages(vk.PipelineStageComputeShaderBit), vk.ImageLayoutGeneral)
	rb = b.NewBufferUsage(access(vk.AccessShaderReadBit), stages(vk.PipelineStageFragmentShaderBit))
	ri = b.NewImageUsage(access(vk.AccessShaderReadBit), stages(vk.PipelineStageFragmentShaderBit), vk.ImageLayoutShaderReadOnlyOptimal)
	_, err := g.AddEdge(wb, rb)
	require.NoError(t, err)
	_, err = g.AddEdge(wi, ri)
	require.NoError(t, err)
	require.NoError(t, g.Bake())
	require.NoError(t, g.Execute())

	cmd := fakeCmd(b, 0)
	assert.Equal(t, []string{"barrier", "copy-buffer"}, cmd.ops)
	assert.Len(t, cmd.bufferBarriers(), 1)
	assert.Len(t, cmd.imageBarriers(), 1)
}

func TestUsageTablesClearedAfterFrame(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	buf := &fakeBuffer{size: 64}
	var u *BufferUsage
	synced := false
	a := addTestNode(t, g, "a", q, &phaseRecorder{onPre: func(int) {
		if !synced {
			u.Sync(buf, 64, 0)
			synced = true
		}
	}})
	u = a.NewBufferUsage(access(vk.AccessShaderWriteBit), stages(vk.PipelineStageComputeShaderBit))
	require.NoError(t, g.Bake())

	require.NoError(t, g.Execute())
	_, ok := u.Region(0, buf)
	assert.False(t, ok)
	assert.Empty(t, u.Buffers(0))
}

func TestPreRenderFailureIsRetryable(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	first := &phaseRecorder{}
	second := &phaseRecorder{preErr: errBoom}
	a := addTestNode(t, g, "a", q, first)
	b := addTestNode(t, g, "b", q, second)
	link(t, g, a, b)
	require.NoError(t, g.Bake())

	err := g.Execute()
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, g.Frame())
	assert.Equal(t, NodeStateIdle, a.State(0))
	assert.Equal(t, NodeStateIdle, b.State(0))
	assert.Empty(t, q.submits)

	require.NoError(t, g.Execute())
	assert.Equal(t, 1, g.Frame())
	assert.Equal(t, []int{0, 0}, first.frames)
}

func TestExecuteErrorsAreSticky(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{submitErr: errBoom}
	addTestNode(t, g, "a", q, nil)
	require.NoError(t, g.Bake())

	err := g.Execute()
	require.ErrorIs(t, err, errBoom)
	q.submitErr = nil
	assert.ErrorIs(t, g.Execute(), errBoom)
	assert.Equal(t, 0, g.Frame())
}

func TestRenderErrorIsSticky(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	addTestNode(t, g, "a", q, &phaseRecorder{renderErr: errBoom})
	require.NoError(t, g.Bake())

	require.ErrorIs(t, g.Execute(), errBoom)
	assert.ErrorIs(t, g.Execute(), errBoom)
}

func TestSwapchainBootingFromPostRenderCompletesFrame(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	rec := &phaseRecorder{postErr: core.ErrSwapchainBooting}
	addTestNode(t, g, "present", q, rec)
	require.NoError(t, g.Bake())

	err := g.Execute()
	assert.True(t, errors.Is(err, core.ErrSwapchainBooting))
	assert.Equal(t, 1, g.Frame())
	require.NoError(t, g.Execute())
	assert.Equal(t, 0, g.Frame())
}

func TestPostRenderFailureIsSticky(t *testing.T) {
	g, _ := newTestGraph(t, 2)
	q := &fakeQueue{}
	addTestNode(t, g, "a", q, &phaseRecorder{postErr: errBoom})
	require.NoError(t, g.Bake())

	require.ErrorIs(t, g.Execute(), errBoom)
	assert.ErrorIs(t, g.Execute(), errBoom)
}

func TestExternalSemaphores(t *testing.T) {
	g, dev := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)

	static, _ := dev.CreateSemaphore()
	a.AddExternalWait(static, stages(vk.PipelineStageTransferBit))
	perFrame := []Semaphore{&fakeSemaphore{id: 10}, &fakeSemaphore{id: 11}}
	require.NoError(t, b.AddExternalSignals(perFrame))
	assert.Error(t, b.AddExternalWaits(perFrame[:1], 0))

	link(t, g, a, b)
	require.NoError(t, g.Bake())
	baked := g.Semaphores()[0]

	for f := 0; f < 2; f++ {
		assert.Equal(t, []Semaphore{static}, a.WaitSemaphores(f))
		assert.Equal(t, []Semaphore{baked}, a.SignalSemaphores(f))
		assert.Equal(t, []Semaphore{perFrame[f]}, b.SignalSemaphores(f))
		assert.Equal(t, []Semaphore{baked}, b.WaitSemaphores(f))
	}

	require.NoError(t, g.Execute())
	require.Len(t, q.submits, 2)
	assert.Equal(t, []Semaphore{static}, q.submits[0].WaitSemaphores)
	assert.Equal(t, []Semaphore{perFrame[0]}, q.submits[1].SignalSemaphores)
}

func TestDestroyReleasesEverything(t *testing.T) {
	g, dev := newTestGraph(t, 2)
	q := &fakeQueue{}
	a := addTestNode(t, g, "a", q, nil)
	b := addTestNode(t, g, "b", q, nil)
	link(t, g, a, b)
	require.NoError(t, g.Bake())
	require.NoError(t, g.Execute())

	g.Destroy()
	assert.Zero(t, dev.liveSemaphores())
	for _, f := range dev.fences {
		assert.True(t, f.destroyed)
	}
	for _, p := range dev.pools {
		assert.True(t, p.destroyed)
	}
	g.Destroy()
}
