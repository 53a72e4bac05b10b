package engine

import (
	"github.com/spaghettifunk/voxel/engine/chunks"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Pager streams chunk meshes to the GPU. The engine sets it before FnInitialize runs.
	Pager        *chunks.Pager
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func() error

// Update runs once per frame before the render graph executes.
type Update func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
