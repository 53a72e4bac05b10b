package framegraph

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/voxel/engine/core"
)

const DefaultFramesInFlight = 2

type Option func(*RenderGraph)

// WithFramesInFlight sets how many frames may be pending on the GPU at once.
func WithFramesInFlight(frames int) Option {
	return func(g *RenderGraph) {
		g.framesInFlight = frames
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(g *RenderGraph) {
		g.log = logger
	}
}

// WithMetrics records frame and fence wait durations on m.
func WithMetrics(m *core.FrameMetrics) Option {
	return func(g *RenderGraph) {
		g.metrics = m
	}
}

// RenderGraph owns the nodes and edges of a frame and drives their execution.
//
// Nodes and edges are registered during setup, then Bake runs exactly once and Execute
// once per frame, always from the same goroutine.
type RenderGraph struct {
	device         Device
	framesInFlight int
	frame          int
	log            *log.Logger
	metrics        *core.FrameMetrics

	nodes      []*Node
	edges      []*Edge
	order      []*Node
	semaphores []Semaphore

	baked     bool
	destroyed bool
	// err is the first unrecoverable execution error. Every later Execute returns it.
	err error
}

func New(device Device, opts ...Option) (*RenderGraph, error) {
	g := &RenderGraph{
		device:         device,
		framesInFlight: DefaultFramesInFlight,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.framesInFlight < 1 {
		return nil, fmt.Errorf("frames in flight %d: %w", g.framesInFlight, core.ErrInvalidFrameCount)
	}
	if g.log == nil {
		g.log = core.Logger().WithPrefix("framegraph")
	}
	return g, nil
}

func (g *RenderGraph) Device() Device          { return g.device }
func (g *RenderGraph) FramesInFlight() int     { return g.framesInFlight }
func (g *RenderGraph) Frame() int              { return g.frame }
func (g *RenderGraph) Nodes() []*Node          { return g.nodes }
func (g *RenderGraph) Edges() []*Edge          { return g.edges }
func (g *RenderGraph) Order() []*Node          { return g.order }
func (g *RenderGraph) Semaphores() []Semaphore { return g.semaphores }
func (g *RenderGraph) Baked() bool             { return g.baked }

// Node returns the node stored in slot id.
func (g *RenderGraph) Node(id NodeID) *Node {
	if int(id) < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// AddNode registers a node running on queue. impl supplies the node's phases through any
// subset of PreRenderer, Renderer and PostRenderer and may be nil. An empty name is
// replaced with a generated one.
func (g *RenderGraph) AddNode(name string, queue Queue, stages vk.PipelineStageFlags, impl any) (*Node, error) {
	if g.baked {
		return nil, fmt.Errorf("add node %q: %w", name, core.ErrGraphBaked)
	}
	if name == "" {
		name = "node-" + uuid.NewString()
	}
	n := &Node{
		id:      NodeID(len(g.nodes)),
		name:    name,
		graph:   g,
		queue:   queue,
		stages:  stages,
		impl:    impl,
		states:  make([]NodeState, g.framesInFlight),
		submits: make([]submitDescriptor, g.framesInFlight),
	}

	pool, err := g.device.CreateCommandPool(queue.FamilyIndex())
	if err != nil {
		err = fmt.Errorf("node %q: create command pool: %w", name, err)
		g.log.Error(err.Error())
		return nil, err
	}
	n.pool = pool

	buffers, err := pool.AllocateCommandBuffers(g.framesInFlight)
	if err != nil {
		n.destroy()
		err = fmt.Errorf("node %q: allocate command buffers: %w", name, err)
		g.log.Error(err.Error())
		return nil, err
	}
	n.buffers = buffers

	for f := 0; f < g.framesInFlight; f++ {
		// Fences start signaled so the first wait of every slot returns at once.
		fence, err := g.device.CreateFence(true)
		if err != nil {
			n.destroy()
			err = fmt.Errorf("node %q: create fence %d: %w", name, f, err)
			g.log.Error(err.Error())
			return nil, err
		}
		n.fences = append(n.fences, fence)
	}

	g.nodes = append(g.nodes, n)
	g.log.Debug("node added", "name", name, "id", n.id, "queue_family", queue.FamilyIndex())
	return n, nil
}

// AddEdge declares that dst consumes what src produces. Both usages must belong to nodes of
// this graph and describe the same kind of resource.
func (g *RenderGraph) AddEdge(src, dst Usage) (*Edge, error) {
	if g.baked {
		return nil, fmt.Errorf("add edge: %w", core.ErrGraphBaked)
	}
	if src == nil || dst == nil || !g.owns(src.Node()) || !g.owns(dst.Node()) {
		return nil, fmt.Errorf("add edge: %w", core.ErrForeignUsage)
	}
	if src.Kind() != dst.Kind() {
		return nil, fmt.Errorf("add edge %q -> %q: %s to %s: %w",
			src.Node().name, dst.Node().name, src.Kind(), dst.Kind(), core.ErrUsageKindMismatch)
	}
	if src.Node() == dst.Node() {
		return nil, fmt.Errorf("add edge %q: %w", src.Node().name, core.ErrSelfEdge)
	}

	e := &Edge{Src: src, Dst: dst}
	g.edges = append(g.edges, e)
	src.Node().outgoing = append(src.Node().outgoing, e)
	dst.Node().incoming = append(dst.Node().incoming, e)
	src.Node().addOutput(dst.Node())
	return e, nil
}

func (g *RenderGraph) owns(n *Node) bool {
	return n != nil && n.graph == g && int(n.id) < len(g.nodes) && g.nodes[n.id] == n
}

type visitMark uint8

const (
	unvisited visitMark = iota
	inProgress
	done
)

// Bake orders the nodes so every edge points forward and creates one semaphore per
// producer/consumer pair. On failure the graph keeps no order and no semaphore.
func (g *RenderGraph) Bake() error {
	if g.baked {
		return core.ErrGraphBaked
	}

	order, err := g.topologicalOrder()
	if err != nil {
		g.log.Error(err.Error())
		return err
	}

	type adjacency struct{ producer, consumer *Node }
	var pairs []adjacency
	for _, n := range order {
		for _, out := range n.outputs {
			pairs = append(pairs, adjacency{n, out})
		}
	}

	semaphores := make([]Semaphore, 0, len(pairs))
	for _, p := range pairs {
		sem, err := g.device.CreateSemaphore()
		if err != nil {
			for _, s := range semaphores {
				s.Destroy()
			}
			err = fmt.Errorf("bake: semaphore %q -> %q: %w", p.producer.name, p.consumer.name, err)
			g.log.Error(err.Error())
			return err
		}
		semaphores = append(semaphores, sem)
	}

	for i, p := range pairs {
		for f := 0; f < g.framesInFlight; f++ {
			p.producer.submits[f].signalSemaphores = append(p.producer.submits[f].signalSemaphores, semaphores[i])
			p.consumer.addWait(f, semaphores[i], p.consumer.stages)
		}
	}

	g.order = order
	g.semaphores = semaphores
	g.baked = true
	g.log.Info("render graph baked", "nodes", len(order), "edges", len(g.edges), "semaphores", len(semaphores))
	return nil
}

// topologicalOrder runs a depth first search over the output adjacency. Reaching a node
// that is still in progress means the edge closes a cycle.
func (g *RenderGraph) topologicalOrder() ([]*Node, error) {
	marks := make([]visitMark, len(g.nodes))
	post := make([]*Node, 0, len(g.nodes))

	var visit func(n *Node) error
	visit = func(n *Node) error {
		marks[n.id] = inProgress
		for _, out := range n.outputs {
			switch marks[out.id] {
			case inProgress:
				return fmt.Errorf("%w: edge %q -> %q closes a cycle", core.ErrGraphCycle, n.name, out.name)
			case unvisited:
				if err := visit(out); err != nil {
					return err
				}
			}
		}
		marks[n.id] = done
		post = append(post, n)
		return nil
	}

	for _, n := range g.nodes {
		if marks[n.id] != unvisited {
			continue
		}
		if err := visit(n); err != nil {
			return nil, err
		}
	}

	order := make([]*Node, len(post))
	for i, n := range post {
		order[len(post)-1-i] = n
	}
	return order, nil
}

// Execute records and submits one frame: pre-render, record, submit and post-render each
// run over every node before the next phase starts. The frame index then advances.
//
// A pre-render failure leaves the frame unexecuted and can be retried. A surface booting
// error from post-render still completes the frame. Any other failure is sticky.
func (g *RenderGraph) Execute() error {
	if g.err != nil {
		return g.err
	}
	if !g.baked {
		return core.ErrGraphNotBaked
	}
	frame := g.frame
	start := time.Now()

	prev := make([]NodeState, len(g.order))
	for i, n := range g.order {
		prev[i] = n.states[frame]
	}
	for _, n := range g.order {
		if err := n.preRender(frame); err != nil {
			for i, n := range g.order {
				n.states[frame] = prev[i]
			}
			return err
		}
	}

	for _, n := range g.order {
		if err := n.internalRender(frame); err != nil {
			return g.fail(err)
		}
	}
	for _, n := range g.order {
		if err := n.submit(frame); err != nil {
			return g.fail(err)
		}
	}

	var booting error
	for _, n := range g.order {
		if err := n.postRender(frame); err != nil {
			if !errors.Is(err, core.ErrSwapchainBooting) {
				return g.fail(err)
			}
			booting = err
		}
	}

	for _, n := range g.order {
		n.resetUsages(frame)
	}
	g.frame = (g.frame + 1) % g.framesInFlight
	if g.metrics != nil {
		g.metrics.ObserveFrame(time.Since(start))
	}
	return booting
}

func (g *RenderGraph) fail(err error) error {
	g.err = err
	g.log.Error(err.Error())
	return err
}

// Wait blocks until every frame slot of every node has retired on the GPU.
func (g *RenderGraph) Wait() error {
	for _, n := range g.nodes {
		if err := n.wait(); err != nil {
			g.log.Error(err.Error())
			return err
		}
	}
	return nil
}

// Destroy drains the GPU and releases every object the graph created.
func (g *RenderGraph) Destroy() {
	if g.destroyed {
		return
	}
	if err := g.Wait(); err != nil {
		g.log.Warn("destroying render graph with outstanding work", "err", err)
	}
	for _, s := range g.semaphores {
		s.Destroy()
	}
	g.semaphores = nil
	for _, n := range g.nodes {
		n.destroy()
	}
	g.destroyed = true
	g.log.Debug("render graph destroyed")
}
