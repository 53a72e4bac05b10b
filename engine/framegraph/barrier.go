package framegraph

import (
	vk "github.com/goki/vulkan"
)

// barrierBatch collects the barriers of one side of a node's work so they go out in a
// single PipelineBarrier call.
type barrierBatch struct {
	srcStages vk.PipelineStageFlags
	dstStages vk.PipelineStageFlags
	buffers   []BufferBarrier
	images    []ImageBarrier
}

func (b *barrierBatch) empty() bool {
	return len(b.buffers) == 0 && len(b.images) == 0
}

func (b *barrierBatch) record(cmd CommandBuffer) {
	if b.empty() {
		return
	}
	cmd.PipelineBarrier(b.srcStages, b.dstStages, b.buffers, b.images)
}

// queueFamilies returns the family pair of a barrier between two nodes. Nodes on the same
// family never transfer ownership.
func queueFamilies(producer, consumer *Node) (uint32, uint32) {
	src, dst := producer.queue.FamilyIndex(), consumer.queue.FamilyIndex()
	if src == dst {
		return QueueFamilyIgnored, QueueFamilyIgnored
	}
	return src, dst
}

// makeInputTransfers builds the acquire side barriers of frame: one per resource declared by
// both this node and the producer of an incoming edge. Regions come from this node.
func (n *Node) makeInputTransfers(frame int) *barrierBatch {
	batch := &barrierBatch{}
	for _, e := range n.incoming {
		producer := e.SrcNode()
		srcFamily, dstFamily := queueFamilies(producer, n)
		srcStages := e.Src.StageMask()
		if srcFamily != dstFamily {
			srcStages = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		}
		if appendBarriers(batch, e, frame, srcFamily, dstFamily, false) {
			batch.srcStages |= srcStages
			batch.dstStages |= e.Dst.StageMask()
		}
	}
	return batch
}

// makeOutputTransfers builds the release side barriers of frame. Only edges to a consumer on
// another queue family need one; regions come from this node.
func (n *Node) makeOutputTransfers(frame int) *barrierBatch {
	batch := &barrierBatch{}
	for _, e := range n.outgoing {
		srcFamily, dstFamily := queueFamilies(n, e.DstNode())
		if srcFamily == dstFamily {
			continue
		}
		if appendBarriers(batch, e, frame, srcFamily, dstFamily, true) {
			batch.srcStages |= e.Src.StageMask()
			batch.dstStages |= vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
		}
	}
	return batch
}

// appendBarriers adds the barriers of one edge to batch and reports whether any was added.
// release selects whose region the barrier covers: the producer's when releasing, the
// consumer's when acquiring.
func appendBarriers(batch *barrierBatch, e *Edge, frame int, srcFamily, dstFamily uint32, release bool) bool {
	added := false
	switch src := e.Src.(type) {
	case *BufferUsage:
		dst := e.Dst.(*BufferUsage)
		for _, buf := range dst.Buffers(frame) {
			srcRegion, ok := src.Region(frame, buf)
			if !ok {
				continue
			}
			region, _ := dst.Region(frame, buf)
			if release {
				region = srcRegion
			}
			batch.buffers = append(batch.buffers, BufferBarrier{
				Buffer:         buf,
				SrcAccess:      src.AccessMask(),
				DstAccess:      dst.AccessMask(),
				SrcQueueFamily: srcFamily,
				DstQueueFamily: dstFamily,
				Offset:         region.Offset,
				Size:           region.Size,
			})
			added = true
		}
	case *ImageUsage:
		dst := e.Dst.(*ImageUsage)
		for _, img := range dst.Images(frame) {
			srcRange, ok := src.Region(frame, img)
			if !ok {
				continue
			}
			rng, _ := dst.Region(frame, img)
			if release {
				rng = srcRange
			}
			batch.images = append(batch.images, ImageBarrier{
				Image:          img,
				SrcAccess:      src.AccessMask(),
				DstAccess:      dst.AccessMask(),
				OldLayout:      src.Layout(),
				NewLayout:      dst.Layout(),
				SrcQueueFamily: srcFamily,
				DstQueueFamily: dstFamily,
				Range:          rng,
			})
			added = true
		}
	}
	return added
}
