package framegraph

import "fmt"

// Edge is a dependency between a producer's usage and a consumer's usage of the same
// resources. Src and Dst always have the same ResourceKind.
type Edge struct {
	Src Usage
	Dst Usage
}

func (e *Edge) SrcNode() *Node { return e.Src.Node() }
func (e *Edge) DstNode() *Node { return e.Dst.Node() }

func (e *Edge) String() string {
	return fmt.Sprintf("%q -> %q (%s)", e.Src.Node().name, e.Dst.Node().name, e.Src.Kind())
}
