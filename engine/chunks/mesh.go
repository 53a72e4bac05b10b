package chunks

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

const (
	// ChunkSize is the number of columns along each horizontal axis of a chunk.
	ChunkSize = 16
	// MaxHeight bounds the terrain height of a column.
	MaxHeight = 32
	// VertexSize is the encoded size of one Vertex.
	VertexSize = 16
	// VerticesPerChunk is the vertex count of a chunk mesh: two triangles per column top.
	VerticesPerChunk = ChunkSize * ChunkSize * 6
)

// Coord addresses a chunk on the horizontal grid.
type Coord struct {
	X, Z int32
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Z)
}

// Around lists the chunks of the square of the given radius centred on c, nearest first.
func Around(c Coord, radius int32) []Coord {
	if radius < 0 {
		return nil
	}
	side := 2*radius + 1
	out := make([]Coord, 0, side*side)
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			out = append(out, Coord{X: c.X + dx, Z: c.Z + dz})
		}
	}
	dist := func(o Coord) int32 {
		dx, dz := o.X-c.X, o.Z-c.Z
		return dx*dx + dz*dz
	}
	sort.SliceStable(out, func(i, j int) bool {
		return dist(out[i]) < dist(out[j])
	})
	return out
}

type Vertex struct {
	Position [3]float32
	Color    uint32
}

// Height returns the terrain height of the world column (x, z). It is a pure function of its
// inputs so chunks regenerate identically after eviction.
func Height(x, z int32) uint32 {
	var key [8]byte
	binary.LittleEndian.PutUint32(key[0:], uint32(x))
	binary.LittleEndian.PutUint32(key[4:], uint32(z))
	return uint32(xxhash.Sum64(key[:]) % MaxHeight)
}

// GenerateMesh builds the top faces of every column of chunk c.
func GenerateMesh(c Coord) []Vertex {
	vertices := make([]Vertex, 0, VerticesPerChunk)
	for lz := int32(0); lz < ChunkSize; lz++ {
		for lx := int32(0); lx < ChunkSize; lx++ {
			wx, wz := c.X*ChunkSize+lx, c.Z*ChunkSize+lz
			h := Height(wx, wz)
			y := float32(h)
			color := shade(h)
			x0, z0 := float32(wx), float32(wz)
			x1, z1 := x0+1, z0+1
			vertices = append(vertices,
				Vertex{Position: [3]float32{x0, y, z0}, Color: color},
				Vertex{Position: [3]float32{x1, y, z0}, Color: color},
				Vertex{Position: [3]float32{x1, y, z1}, Color: color},
				Vertex{Position: [3]float32{x0, y, z0}, Color: color},
				Vertex{Position: [3]float32{x1, y, z1}, Color: color},
				Vertex{Position: [3]float32{x0, y, z1}, Color: color},
			)
		}
	}
	return vertices
}

// EncodeMesh lays vertices out as the vertex buffer expects them: little endian, tightly packed.
func EncodeMesh(vertices []Vertex) []byte {
	var buf bytes.Buffer
	buf.Grow(len(vertices) * VertexSize)
	// Writes into a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, vertices)
	return buf.Bytes()
}

// shade maps a height to an RGBA8 colour, low columns green, high columns grey.
func shade(h uint32) uint32 {
	t := h * 255 / (MaxHeight - 1)
	r := 40 + t*150/255
	g := 140 - t*40/255
	b := 40 + t*150/255
	return r | g<<8 | b<<16 | 0xff<<24
}
