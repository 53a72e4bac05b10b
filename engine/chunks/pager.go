package chunks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/voxel/engine/containers"
	"github.com/spaghettifunk/voxel/engine/core"
	"github.com/spaghettifunk/voxel/engine/framegraph"
	"github.com/spaghettifunk/voxel/engine/systems"
)

var (
	ErrChunkTooLarge = errors.New("chunk mesh does not fit")
	ErrQueueFull     = errors.New("chunk request queue is full")
)

// Pager keeps chunk meshes resident in one vertex buffer. Space is suballocated with a free
// list; when the buffer is full the oldest resident chunk is evicted. Meshes reach the GPU
// through the transfer node.
type Pager struct {
	transfer *framegraph.TransferNode
	buffer   framegraph.Buffer
	space    *containers.FreeList
	log      *log.Logger

	resident map[Coord]containers.Allocation
	// Resident chunks, oldest first.
	order []Coord

	pending         *containers.RingQueue[Coord]
	queued          map[Coord]struct{}
	uploadsPerFrame int

	// With jobs set, meshes are built on workers and land in built.
	jobs  *systems.JobSystem
	mu    sync.Mutex
	built map[Coord][]byte
}

func NewPager(transfer *framegraph.TransferNode, buffer framegraph.Buffer, uploadsPerFrame, queueCapacity int) *Pager {
	return &Pager{
		transfer:        transfer,
		buffer:          buffer,
		space:           containers.NewFreeList(buffer.Size()),
		log:             core.Logger().WithPrefix("chunks"),
		resident:        make(map[Coord]containers.Allocation),
		pending:         containers.NewRingQueue[Coord](queueCapacity),
		queued:          make(map[Coord]struct{}),
		uploadsPerFrame: uploadsPerFrame,
		built:           make(map[Coord][]byte),
	}
}

// UseJobs moves mesh generation of requested chunks onto js. Update then uploads a chunk
// only once its mesh is ready.
func (p *Pager) UseJobs(js *systems.JobSystem) {
	p.jobs = js
}

// Built is the number of meshes generated by jobs and not uploaded yet.
func (p *Pager) Built() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.built)
}

func (p *Pager) Buffer() framegraph.Buffer { return p.buffer }
func (p *Pager) Resident() int             { return len(p.resident) }
func (p *Pager) Pending() int              { return p.pending.Len() }

// Allocation returns where chunk c lives in the vertex buffer.
func (p *Pager) Allocation(c Coord) (containers.Allocation, bool) {
	a, ok := p.resident[c]
	return a, ok
}

// Fill is the fraction of the vertex buffer in use.
func (p *Pager) Fill() float32 {
	total := p.space.TotalSize()
	if total == 0 {
		return 0
	}
	return float32(total-p.space.FreeSpace()) / float32(total)
}

// Request queues chunk c for upload. Resident and already queued chunks are ignored.
func (p *Pager) Request(c Coord) error {
	if _, ok := p.resident[c]; ok {
		return nil
	}
	if _, ok := p.queued[c]; ok {
		return nil
	}
	if err := p.pending.Enqueue(c); err != nil {
		return fmt.Errorf("chunk %s: %w", c, ErrQueueFull)
	}
	p.queued[c] = struct{}{}
	if p.jobs != nil {
		return p.jobs.Submit(systems.JobTask{
			Name: "mesh " + c.String(),
			Run: func() error {
				data := EncodeMesh(GenerateMesh(c))
				p.mu.Lock()
				p.built[c] = data
				p.mu.Unlock()
				return nil
			},
		})
	}
	return nil
}

func (p *Pager) mesh(c Coord) ([]byte, bool) {
	if p.jobs == nil {
		return EncodeMesh(GenerateMesh(c)), true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.built[c]
	return data, ok
}

// Evict releases the space of chunk c. It reports whether c was resident.
func (p *Pager) Evict(c Coord) bool {
	a, ok := p.resident[c]
	if !ok {
		return false
	}
	if err := p.space.Free(a); err != nil {
		p.log.Error("evict chunk", "chunk", c, "err", err)
	}
	delete(p.resident, c)
	for i, r := range p.order {
		if r == c {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Update uploads up to uploadsPerFrame queued chunks in the current frame and returns how
// many were uploaded. A full staging buffer or a mesh still being built ends the frame's
// uploads early; the remaining chunks stay queued.
func (p *Pager) Update() (int, error) {
	uploaded := 0
	for uploaded < p.uploadsPerFrame && !p.pending.IsEmpty() {
		c, _ := p.pending.Peek()
		data, ok := p.mesh(c)
		if !ok {
			// Uploads keep request order; wait for the head's mesh.
			break
		}
		size := uint64(len(data))
		if size > p.transfer.StagingCapacity() || size > p.space.TotalSize() {
			return uploaded, fmt.Errorf("chunk %s: %d bytes: %w", c, size, ErrChunkTooLarge)
		}

		// allocate may evict; check the transfer takes the chunk first.
		if !p.transfer.Fits(size) {
			p.log.Debug("staging buffer full, deferring uploads", "pending", p.pending.Len())
			return uploaded, nil
		}
		alloc, err := p.allocate(size)
		if err != nil {
			return uploaded, fmt.Errorf("chunk %s: %w", c, err)
		}
		if err := p.transfer.TransferBuffer(p.buffer, size, alloc.Offset, data); err != nil {
			_ = p.space.Free(alloc)
			if errors.Is(err, core.ErrStagingOverflow) || errors.Is(err, core.ErrDeferredQueueFull) {
				p.log.Debug("transfer rejected, deferring uploads", "pending", p.pending.Len(), "err", err)
				return uploaded, nil
			}
			return uploaded, err
		}

		_, _ = p.pending.Dequeue()
		delete(p.queued, c)
		p.mu.Lock()
		delete(p.built, c)
		p.mu.Unlock()
		p.resident[c] = alloc
		p.order = append(p.order, c)
		uploaded++
	}
	if uploaded > 0 {
		p.log.Debug("chunks uploaded", "count", uploaded, "resident", len(p.resident), "pending", p.pending.Len())
	}
	return uploaded, nil
}

// allocate finds room for size bytes, evicting the oldest chunks as needed.
func (p *Pager) allocate(size uint64) (containers.Allocation, error) {
	for {
		alloc, err := p.space.Allocate(size, VertexSize)
		if err == nil {
			return alloc, nil
		}
		if !errors.Is(err, containers.ErrFreeListExhausted) || len(p.order) == 0 {
			return containers.Allocation{}, err
		}
		oldest := p.order[0]
		p.log.Debug("evicting chunk", "chunk", oldest)
		p.Evict(oldest)
	}
}
