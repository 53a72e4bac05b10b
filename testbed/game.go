package testbed

import (
	"errors"
	gomath "math"

	"github.com/spaghettifunk/voxel/engine"
	"github.com/spaghettifunk/voxel/engine/chunks"
	"github.com/spaghettifunk/voxel/engine/core"
)

// Chunks per second the camera travels along the x axis.
const cameraSpeed = 1.5

type TestGame struct {
	*engine.Game
}

type gameState struct {
	// Camera position in chunk units.
	cameraX float64
	cameraZ float64
	// Radius of the square of chunks kept resident around the camera.
	radius int32
	center chunks.Coord
	primed bool

	width  uint32
	height uint32
}

// NewTestGame streams terrain chunks around a camera flying over the world.
func NewTestGame(ac *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: ac,
			State:             &gameState{},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	count := 1
	if g.ApplicationConfig.Config != nil {
		count = max(g.ApplicationConfig.Config.Chunks.Count, 1)
	}
	side := int32(gomath.Ceil(gomath.Sqrt(float64(count))))
	g.state().radius = (side - 1) / 2
	core.LogInfo("testbed streaming %d chunks around the camera", (2*g.state().radius+1)*(2*g.state().radius+1))
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.cameraX += cameraSpeed * deltaTime

	center := chunks.Coord{X: int32(gomath.Floor(s.cameraX)), Z: int32(gomath.Floor(s.cameraZ))}
	if s.primed && center == s.center && g.Pager.Pending() == 0 {
		return nil
	}
	s.center = center
	s.primed = true

	for _, c := range chunks.Around(center, s.radius) {
		if err := g.Pager.Request(c); err != nil {
			if errors.Is(err, chunks.ErrQueueFull) {
				// The rest is requested once the queue drains.
				break
			}
			return err
		}
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed done, %d chunks resident", g.Pager.Resident())
	return nil
}
