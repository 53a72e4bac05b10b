package framegraph

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
)

// NodeID is the stable slot index of a node inside its graph.
type NodeID int

// PreRenderer runs before any node of the frame records. Nodes declare or refresh their
// usages here.
type PreRenderer interface {
	PreRender(frame int) error
}

// Renderer records the node's work between its input and output barriers.
type Renderer interface {
	Render(frame int, cmd CommandBuffer) error
}

// PostRenderer runs after every node of the frame has been submitted.
type PostRenderer interface {
	PostRender(frame int) error
}

// Destroyer releases resources owned by a node kind when the graph is destroyed.
type Destroyer interface {
	Destroy()
}

type submitDescriptor struct {
	waitSemaphores   []Semaphore
	waitStages       []vk.PipelineStageFlags
	signalSemaphores []Semaphore
}

// Node is one unit of GPU work bound to a single queue. It owns a command pool, and one
// command buffer and one fence per frame in flight.
type Node struct {
	id     NodeID
	name   string
	graph  *RenderGraph
	queue  Queue
	stages vk.PipelineStageFlags
	impl   any

	pool    CommandPool
	buffers []CommandBuffer
	fences  []Fence
	states  []NodeState
	submits []submitDescriptor

	outputs  []*Node
	incoming []*Edge
	outgoing []*Edge
	usages   []Usage
}

func (n *Node) ID() NodeID                            { return n.id }
func (n *Node) Name() string                          { return n.name }
func (n *Node) Queue() Queue                          { return n.queue }
func (n *Node) Stages() vk.PipelineStageFlags         { return n.stages }
func (n *Node) Impl() any                             { return n.impl }
func (n *Node) Outputs() []*Node                      { return n.outputs }
func (n *Node) Incoming() []*Edge                     { return n.incoming }
func (n *Node) Outgoing() []*Edge                     { return n.outgoing }
func (n *Node) Usages() []Usage                       { return n.usages }
func (n *Node) CommandBuffer(frame int) CommandBuffer { return n.buffers[frame] }
func (n *Node) Fence(frame int) Fence                 { return n.fences[frame] }
func (n *Node) State(frame int) NodeState             { return n.states[frame] }

func (n *Node) WaitSemaphores(frame int) []Semaphore {
	return n.submits[frame].waitSemaphores
}

func (n *Node) WaitStages(frame int) []vk.PipelineStageFlags {
	return n.submits[frame].waitStages
}

func (n *Node) SignalSemaphores(frame int) []Semaphore {
	return n.submits[frame].signalSemaphores
}

func (n *Node) NewBufferUsage(access vk.AccessFlags, stages vk.PipelineStageFlags) *BufferUsage {
	u := newBufferUsage(n, access, stages)
	n.usages = append(n.usages, u)
	return u
}

func (n *Node) NewImageUsage(access vk.AccessFlags, stages vk.PipelineStageFlags, layout vk.ImageLayout) *ImageUsage {
	u := newImageUsage(n, access, stages, layout)
	n.usages = append(n.usages, u)
	return u
}

// AddExternalWait makes every submission of the node wait on a semaphore created outside
// the graph.
func (n *Node) AddExternalWait(sem Semaphore, stages vk.PipelineStageFlags) {
	for f := range n.submits {
		n.addWait(f, sem, stages)
	}
}

// AddExternalSignal makes every submission of the node signal a semaphore created outside
// the graph.
func (n *Node) AddExternalSignal(sem Semaphore) {
	for f := range n.submits {
		n.submits[f].signalSemaphores = append(n.submits[f].signalSemaphores, sem)
	}
}

// AddExternalWaits registers one wait semaphore per frame slot.
func (n *Node) AddExternalWaits(perFrame []Semaphore, stages vk.PipelineStageFlags) error {
	if len(perFrame) != len(n.submits) {
		return fmt.Errorf("node %q: %d wait semaphores for %d frames in flight", n.name, len(perFrame), len(n.submits))
	}
	for f, sem := range perFrame {
		n.addWait(f, sem, stages)
	}
	return nil
}

// AddExternalSignals registers one signal semaphore per frame slot.
func (n *Node) AddExternalSignals(perFrame []Semaphore) error {
	if len(perFrame) != len(n.submits) {
		return fmt.Errorf("node %q: %d signal semaphores for %d frames in flight", n.name, len(perFrame), len(n.submits))
	}
	for f, sem := range perFrame {
		n.submits[f].signalSemaphores = append(n.submits[f].signalSemaphores, sem)
	}
	return nil
}

func (n *Node) addWait(frame int, sem Semaphore, stages vk.PipelineStageFlags) {
	n.submits[frame].waitSemaphores = append(n.submits[frame].waitSemaphores, sem)
	n.submits[frame].waitStages = append(n.submits[frame].waitStages, stages)
}

func (n *Node) addOutput(dst *Node) {
	for _, o := range n.outputs {
		if o == dst {
			return
		}
	}
	n.outputs = append(n.outputs, dst)
}

// waitFence blocks until the slot's previous submission retired. It does not reset the fence.
func (n *Node) waitFence(frame int) error {
	start := time.Now()
	if err := n.fences[frame].Wait(InfiniteTimeout); err != nil {
		return fmt.Errorf("node %q: wait fence %d: %w", n.name, frame, err)
	}
	if n.graph.metrics != nil {
		n.graph.metrics.ObserveFenceWait(n.name, time.Since(start))
	}
	return nil
}

func (n *Node) preRender(frame int) error {
	if err := n.transition(frame, NodeStatePendingSync); err != nil {
		return err
	}
	if p, ok := n.impl.(PreRenderer); ok {
		if err := p.PreRender(frame); err != nil {
			return fmt.Errorf("node %q: pre-render: %w", n.name, err)
		}
	}
	return nil
}

func (n *Node) internalRender(frame int) error {
	if err := n.transition(frame, NodeStateRecording); err != nil {
		return err
	}
	if err := n.waitFence(frame); err != nil {
		return err
	}
	if err := n.fences[frame].Reset(); err != nil {
		return fmt.Errorf("node %q: reset fence %d: %w", n.name, frame, err)
	}

	cmd := n.buffers[frame]
	if err := cmd.Begin(); err != nil {
		return fmt.Errorf("node %q: begin command buffer: %w", n.name, err)
	}
	n.makeInputTransfers(frame).record(cmd)
	if r, ok := n.impl.(Renderer); ok {
		if err := r.Render(frame, cmd); err != nil {
			return fmt.Errorf("node %q: render: %w", n.name, err)
		}
	}
	n.makeOutputTransfers(frame).record(cmd)
	if err := cmd.End(); err != nil {
		return fmt.Errorf("node %q: end command buffer: %w", n.name, err)
	}
	return n.transition(frame, NodeStateRecorded)
}

func (n *Node) submit(frame int) error {
	if err := n.transition(frame, NodeStateSubmitted); err != nil {
		return err
	}
	desc := n.submits[frame]
	info := SubmitInfo{
		WaitSemaphores:   desc.waitSemaphores,
		WaitStages:       desc.waitStages,
		CommandBuffer:    n.buffers[frame],
		SignalSemaphores: desc.signalSemaphores,
	}
	if err := n.queue.Submit(info, n.fences[frame]); err != nil {
		return fmt.Errorf("node %q: submit: %w", n.name, err)
	}
	return nil
}

func (n *Node) postRender(frame int) error {
	if p, ok := n.impl.(PostRenderer); ok {
		if err := p.PostRender(frame); err != nil {
			return fmt.Errorf("node %q: post-render: %w", n.name, err)
		}
	}
	return nil
}

// wait blocks on every frame slot's fence and marks submitted slots idle.
func (n *Node) wait() error {
	for f, fence := range n.fences {
		if err := fence.Wait(InfiniteTimeout); err != nil {
			return fmt.Errorf("node %q: wait fence %d: %w", n.name, f, err)
		}
		if n.states[f] == NodeStateSubmitted {
			if err := n.transition(f, NodeStateIdle); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *Node) resetUsages(frame int) {
	for _, u := range n.usages {
		u.reset(frame)
	}
}

func (n *Node) destroy() {
	if d, ok := n.impl.(Destroyer); ok {
		d.Destroy()
	}
	for _, f := range n.fences {
		f.Destroy()
	}
	n.fences = nil
	if n.pool != nil {
		n.pool.Destroy()
		n.pool = nil
	}
	n.buffers = nil
}
