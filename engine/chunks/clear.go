package chunks

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/voxel/engine/framegraph"
)

// ClearNode clears the acquired swapchain image. It consumes the vertex buffer the pager
// fills so the chunk uploads of a frame are ordered before it, and tints the clear colour
// by how full that buffer is.
type ClearNode struct {
	node     *framegraph.Node
	acquire  *framegraph.AcquireNode
	transfer *framegraph.TransferNode
	pager    *Pager

	vertices *framegraph.BufferUsage
	images   *framegraph.ImageUsage

	mu    sync.Mutex
	color [4]float32
}

func NewClearNode(g *framegraph.RenderGraph, name string, queue framegraph.Queue, acquire *framegraph.AcquireNode, transfer *framegraph.TransferNode, pager *Pager, color [4]float32) (*ClearNode, error) {
	c := &ClearNode{
		acquire:  acquire,
		transfer: transfer,
		pager:    pager,
		color:    color,
	}
	transferStage := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	n, err := g.AddNode(name, queue, transferStage, c)
	if err != nil {
		return nil, err
	}
	c.node = n
	c.vertices = n.NewBufferUsage(
		vk.AccessFlags(vk.AccessVertexAttributeReadBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
	)
	c.images = n.NewImageUsage(
		vk.AccessFlags(vk.AccessTransferWriteBit),
		transferStage,
		vk.ImageLayoutTransferDstOptimal,
	)
	return c, nil
}

func (c *ClearNode) Node() *framegraph.Node               { return c.node }
func (c *ClearNode) VertexUsage() *framegraph.BufferUsage { return c.vertices }
func (c *ClearNode) ImageUsage() *framegraph.ImageUsage   { return c.images }

func (c *ClearNode) Color() [4]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

// SetColor changes the clear colour from the next recorded frame on.
func (c *ClearNode) SetColor(color [4]float32) {
	c.mu.Lock()
	c.color = color
	c.mu.Unlock()
}

func (c *ClearNode) PreRender(frame int) error {
	c.images.Sync(c.acquire.Image(frame), framegraph.ColorRange())
	// Only the bytes written this frame change hands.
	buffer := c.pager.Buffer()
	if region, ok := c.transfer.BufferUsage().Region(frame, buffer); ok {
		c.vertices.Sync(buffer, region.Size, region.Offset)
	}
	return nil
}

func (c *ClearNode) Render(frame int, cmd framegraph.CommandBuffer) error {
	color := tint(c.Color(), c.pager.Fill())
	cmd.ClearColorImage(c.acquire.Image(frame), vk.ImageLayoutTransferDstOptimal, color, []vk.ImageSubresourceRange{framegraph.ColorRange()})
	return nil
}

// tint brightens color from half intensity at an empty buffer to full at a full one.
func tint(color [4]float32, fill float32) [4]float32 {
	scale := 0.5 + 0.5*fill
	return [4]float32{color[0] * scale, color[1] * scale, color[2] * scale, color[3]}
}
