package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spaghettifunk/voxel/engine/chunks"
	"github.com/spaghettifunk/voxel/engine/config"
	"github.com/spaghettifunk/voxel/engine/core"
	"github.com/spaghettifunk/voxel/engine/framegraph"
	"github.com/spaghettifunk/voxel/engine/platform"
	"github.com/spaghettifunk/voxel/engine/renderer/vulkan"
	"github.com/spaghettifunk/voxel/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// How long a minimized window waits for events before checking for shutdown again.
const suspendedPollInterval = 100 * time.Millisecond

type Engine struct {
	currentStage Stage
	gameInstance *Game
	cfg          *config.Config
	isRunning    bool
	isSuspended  bool
	platform     *platform.Platform
	renderer     *vulkan.VulkanRenderer
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     time.Duration

	graph    *framegraph.RenderGraph
	surface  *framegraph.SurfaceCell
	transfer *framegraph.TransferNode
	acquire  *framegraph.AcquireNode
	clear    *chunks.ClearNode
	present  *framegraph.PresentNode
	vertices *vulkan.VulkanBuffer
	pager    *chunks.Pager
	jobs     *systems.JobSystem

	registry      *prometheus.Registry
	metrics       *core.FrameMetrics
	metricsServer *http.Server

	watcher     *config.Watcher
	stopWatcher context.CancelFunc
}

func New(g *Game) (*Engine, error) {
	cfg, err := g.ApplicationConfig.load()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	g.ApplicationConfig.Config = cfg
	core.SetLogLevel(core.ParseLogLevel(cfg.Log.Level))

	registry := prometheus.NewRegistry()
	metrics, err := core.NewFrameMetrics(registry)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		cfg:          cfg,
		clock:        core.NewClock(),
		platform:     platform.New(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
		registry:     registry,
		metrics:      metrics,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting

	// initialize events
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}

	// register some events
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)
	core.EventRegister(core.EVENT_CODE_CONFIG_RELOADED, e.onConfigReloaded)

	window := e.cfg.Window
	if err := e.platform.Startup(window.Title, window.X, window.Y, window.Width, window.Height); err != nil {
		return err
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	e.renderer = vulkan.New(e.platform, e.cfg.Renderer.Validation)
	if err := e.renderer.Initialize(window.Title, window.Width, window.Height); err != nil {
		return err
	}
	if err := e.buildGraph(); err != nil {
		return err
	}

	e.gameInstance.Pager = e.pager
	if err := e.gameInstance.FnInitialize(); err != nil {
		return err
	}
	if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
		return err
	}

	e.startWatcher()
	e.startMetricsServer()

	e.currentStage = EngineStageInitialized
	return nil
}

// buildGraph wires the frame: chunk uploads on the transfer queue, then image acquisition,
// the clear pass and presentation.
func (e *Engine) buildGraph() error {
	cfg := e.cfg
	g, err := framegraph.New(e.renderer.Device(),
		framegraph.WithFramesInFlight(cfg.Graph.FramesInFlight),
		framegraph.WithLogger(core.Logger().WithPrefix("graph")),
		framegraph.WithMetrics(e.metrics),
	)
	if err != nil {
		return err
	}
	e.graph = g
	e.surface = framegraph.NewSurfaceCell(e.renderer.Swapchain())

	if e.transfer, err = framegraph.NewTransferNode(g, "chunk-upload", e.renderer.TransferQueue(), cfg.Graph.StagingBufferSize, cfg.Graph.DeferredQueueCapacity); err != nil {
		return err
	}
	if e.acquire, err = framegraph.NewAcquireNode(g, "acquire", e.renderer.GraphicsQueue(), e.surface); err != nil {
		return err
	}
	if e.vertices, err = e.renderer.CreateVertexBuffer(cfg.Chunks.VertexBufferSize); err != nil {
		return err
	}
	queue := max(cfg.Chunks.Count, 1)
	e.pager = chunks.NewPager(e.transfer, e.vertices, cfg.Chunks.UploadsPerFrame, queue)
	if e.jobs, err = systems.NewJobSystem(runtime.NumCPU(), queue); err != nil {
		return err
	}
	e.pager.UseJobs(e.jobs)
	if e.clear, err = chunks.NewClearNode(g, "clear", e.renderer.GraphicsQueue(), e.acquire, e.transfer, e.pager, cfg.Renderer.ClearColor); err != nil {
		return err
	}
	if e.present, err = framegraph.NewPresentNode(g, "present", e.renderer.PresentQueue(), e.acquire, e.surface); err != nil {
		return err
	}

	edges := []struct{ src, dst framegraph.Usage }{
		{e.transfer.BufferUsage(), e.clear.VertexUsage()},
		{e.acquire.ImageUsage(), e.clear.ImageUsage()},
		{e.clear.ImageUsage(), e.present.ImageUsage()},
	}
	for _, edge := range edges {
		if _, err := g.AddEdge(edge.src, edge.dst); err != nil {
			return err
		}
	}
	return g.Bake()
}

// Run drives frames until the window closes, a quit event fires or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if ctx.Err() != nil {
			core.LogInfo("shutdown requested")
			break
		}
		if !e.platform.PumpMessages() {
			e.isRunning = false
			break
		}
		if e.isSuspended {
			e.platform.WaitMessages(suspendedPollInterval)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()
		e.lastTime = currentTime

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("game update failed, shutting down: %s", err)
			return err
		}
		if _, err := e.pager.Update(); err != nil {
			core.LogError("chunk upload failed, shutting down: %s", err)
			return err
		}
		if err := e.drawFrame(); err != nil {
			core.LogError("frame failed, shutting down: %s", err)
			return err
		}
	}
	return nil
}

func (e *Engine) drawFrame() error {
	if e.renderer.SwapchainStale() {
		return e.recreateSwapchain()
	}
	err := e.graph.Execute()
	if errors.Is(err, core.ErrSwapchainBooting) {
		return e.recreateSwapchain()
	}
	return err
}

// recreateSwapchain drains the graph, rebuilds the swapchain and hands it to the acquire and
// present nodes. A zero sized window keeps the old swapchain until the next resize.
func (e *Engine) recreateSwapchain() error {
	if err := e.graph.Wait(); err != nil {
		return err
	}
	sc, err := e.renderer.RecreateSwapchain()
	if errors.Is(err, core.ErrSwapchainBooting) {
		return nil
	}
	if err != nil {
		return err
	}
	e.surface.Set(sc)
	return nil
}

func (e *Engine) startWatcher() {
	path := e.gameInstance.ApplicationConfig.ConfigPath
	if path == "" {
		return
	}
	w, err := config.NewWatcher(path, e.cfg)
	if err != nil {
		core.LogWarn("config hot reload disabled: %s", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.watcher = w
	e.stopWatcher = cancel
	go w.Start(ctx)
}

func (e *Engine) startMetricsServer() {
	addr := e.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		core.LogInfo("serving metrics on %s", addr)
		if err := e.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.LogError("metrics server: %s", err)
		}
	}()
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown

	if e.stopWatcher != nil {
		e.stopWatcher()
		_ = e.watcher.Close()
	}
	if e.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := e.metricsServer.Shutdown(ctx); err != nil {
			core.LogWarn("metrics server shutdown: %s", err)
		}
	}
	if e.gameInstance.FnShutdown != nil && e.pager != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogWarn("game shutdown: %s", err)
		}
	}

	if e.jobs != nil {
		_ = e.jobs.Shutdown()
	}

	// The graph drains the GPU before anything it used is released.
	if e.graph != nil {
		e.graph.Destroy()
	}
	if e.vertices != nil {
		e.vertices.Destroy()
	}
	if e.renderer != nil {
		if err := e.renderer.Shutdown(); err != nil {
			return err
		}
	}
	if err := e.platform.Shutdown(); err != nil {
		return err
	}
	if err := core.EventSystemShutdown(); err != nil {
		return err
	}
	return nil
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(context core.EventContext) {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
	}
}

func (e *Engine) onResized(context core.EventContext) {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}

	width := se.WindowWidth
	height := se.WindowHeight
	if width == e.width && height == e.height {
		return
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.renderer.Resized(width, height)
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError(err.Error())
	}
}

// onConfigReloaded applies the settings that can change while running. It runs on the
// config watcher's goroutine.
func (e *Engine) onConfigReloaded(context core.EventContext) {
	cfg, ok := context.Data.(*config.Config)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	core.SetLogLevel(core.ParseLogLevel(cfg.Log.Level))
	if e.clear != nil {
		e.clear.SetColor(cfg.Renderer.ClearColor)
	}
}
