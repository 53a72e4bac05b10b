package framegraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// AcquireNode acquires the next presentable image of the surface at the start of every frame.
// Its ImageUsage covers the acquired image so consumers get the transition out of the
// undefined layout.
type AcquireNode struct {
	node        *Node
	surface     Surface
	unsubscribe func()
	available   []Semaphore
	indices     []uint32
	// held marks slots whose image was acquired but not yet submitted.
	held   []bool
	images *ImageUsage
}

// NewAcquireNode adds an acquire node on queue reading its surface from cell.
func NewAcquireNode(g *RenderGraph, name string, queue Queue, cell *SurfaceCell) (*AcquireNode, error) {
	stage := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	a := &AcquireNode{
		indices: make([]uint32, g.framesInFlight),
		held:    make([]bool, g.framesInFlight),
	}
	n, err := g.AddNode(name, queue, stage, a)
	if err != nil {
		return nil, err
	}
	a.node = n

	for f := 0; f < g.framesInFlight; f++ {
		sem, err := g.device.CreateSemaphore()
		if err != nil {
			a.Destroy()
			return nil, fmt.Errorf("acquire node %q: image available semaphore %d: %w", n.name, f, err)
		}
		a.available = append(a.available, sem)
	}
	if err := n.AddExternalWaits(a.available, stage); err != nil {
		a.Destroy()
		return nil, err
	}
	a.images = n.NewImageUsage(0, stage, vk.ImageLayoutUndefined)
	a.unsubscribe = cell.Subscribe(func(s Surface) {
		a.surface = s
		clear(a.held)
	})
	return a, nil
}

func (a *AcquireNode) Node() *Node             { return a.node }
func (a *AcquireNode) ImageUsage() *ImageUsage { return a.images }
func (a *AcquireNode) Surface() Surface        { return a.surface }

// ImageIndex is the swapchain image index acquired for frame.
func (a *AcquireNode) ImageIndex(frame int) uint32 { return a.indices[frame] }

// Image is the swapchain image acquired for frame.
func (a *AcquireNode) Image(frame int) Image {
	return a.surface.Images()[a.indices[frame]]
}

// PreRender acquires the slot's image. A frame retried after a later pre-render failure
// keeps the image it already holds, since its semaphore signal is still pending.
func (a *AcquireNode) PreRender(frame int) error {
	if !a.held[frame] {
		// The slot's previous submission must have consumed the semaphore before it is reused.
		if err := a.node.waitFence(frame); err != nil {
			return err
		}
		idx, err := a.surface.AcquireNextImage(InfiniteTimeout, a.available[frame])
		if err != nil {
			return fmt.Errorf("acquire node %q: %w", a.node.name, err)
		}
		a.indices[frame] = idx
		a.held[frame] = true
	}
	a.images.Sync(a.surface.Images()[a.indices[frame]], ColorRange())
	return nil
}

// PostRender runs once the slot's submission, which waits on the semaphore, is queued.
func (a *AcquireNode) PostRender(frame int) error {
	a.held[frame] = false
	return nil
}

func (a *AcquireNode) Destroy() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	for _, s := range a.available {
		s.Destroy()
	}
	a.available = nil
}

// PresentNode transitions the image acquired this frame to the present layout and presents
// it once the node's submission signaled.
type PresentNode struct {
	node        *Node
	acquire     *AcquireNode
	surface     Surface
	unsubscribe func()
	ready       []Semaphore
	images      *ImageUsage
}

func NewPresentNode(g *RenderGraph, name string, queue Queue, acquire *AcquireNode, cell *SurfaceCell) (*PresentNode, error) {
	stage := vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	p := &PresentNode{acquire: acquire}
	n, err := g.AddNode(name, queue, stage, p)
	if err != nil {
		return nil, err
	}
	p.node = n

	for f := 0; f < g.framesInFlight; f++ {
		sem, err := g.device.CreateSemaphore()
		if err != nil {
			p.Destroy()
			return nil, fmt.Errorf("present node %q: render finished semaphore %d: %w", n.name, f, err)
		}
		p.ready = append(p.ready, sem)
	}
	if err := n.AddExternalSignals(p.ready); err != nil {
		p.Destroy()
		return nil, err
	}
	p.images = n.NewImageUsage(0, stage, vk.ImageLayoutPresentSrc)
	p.unsubscribe = cell.Subscribe(func(s Surface) {
		p.surface = s
	})
	return p, nil
}

func (p *PresentNode) Node() *Node             { return p.node }
func (p *PresentNode) ImageUsage() *ImageUsage { return p.images }

func (p *PresentNode) PreRender(frame int) error {
	p.images.Sync(p.acquire.Image(frame), ColorRange())
	return nil
}

func (p *PresentNode) PostRender(frame int) error {
	err := p.surface.Present(p.node.queue, []Semaphore{p.ready[frame]}, p.acquire.ImageIndex(frame))
	if err != nil {
		return fmt.Errorf("present node %q: %w", p.node.name, err)
	}
	return nil
}

func (p *PresentNode) Destroy() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	for _, s := range p.ready {
		s.Destroy()
	}
	p.ready = nil
}
