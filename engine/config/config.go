package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/voxel/engine/framegraph"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type WindowConfig struct {
	Title  string `toml:"title"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type GraphConfig struct {
	FramesInFlight        int    `toml:"frames_in_flight"`
	StagingBufferSize     uint64 `toml:"staging_buffer_size"`
	DeferredQueueCapacity int    `toml:"deferred_queue_capacity"`
}

type RendererConfig struct {
	// Enables the validation layers and the debug report callback.
	Validation bool       `toml:"validation"`
	ClearColor [4]float32 `toml:"clear_color"`
}

type ChunksConfig struct {
	// Number of demo chunks streamed through the transfer node.
	Count int `toml:"count"`
	// Size in bytes of the device local vertex buffer the chunks are paged into.
	VertexBufferSize uint64 `toml:"vertex_buffer_size"`
	// Chunks uploaded per frame.
	UploadsPerFrame int `toml:"uploads_per_frame"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	// Address the prometheus handler listens on. Empty disables it.
	Addr string `toml:"addr"`
}

type Config struct {
	Window   WindowConfig   `toml:"window"`
	Graph    GraphConfig    `toml:"graph"`
	Renderer RendererConfig `toml:"renderer"`
	Chunks   ChunksConfig   `toml:"chunks"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "Voxel",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Graph: GraphConfig{
			FramesInFlight:        framegraph.DefaultFramesInFlight,
			StagingBufferSize:     framegraph.DefaultStagingSize,
			DeferredQueueCapacity: framegraph.DefaultDeferredCapacity,
		},
		Renderer: RendererConfig{
			ClearColor: [4]float32{0.05, 0.05, 0.2, 1.0},
		},
		Chunks: ChunksConfig{
			Count:            64,
			VertexBufferSize: 64 << 20,
			UploadsPerFrame:  4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Parse decodes a TOML document on top of the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Window.Width == 0 || c.Window.Height == 0:
		return fmt.Errorf("%w: window size %dx%d", ErrInvalidConfig, c.Window.Width, c.Window.Height)
	case c.Graph.FramesInFlight < 1:
		return fmt.Errorf("%w: graph.frames_in_flight must be at least 1, got %d", ErrInvalidConfig, c.Graph.FramesInFlight)
	case c.Graph.StagingBufferSize == 0:
		return fmt.Errorf("%w: graph.staging_buffer_size must not be zero", ErrInvalidConfig)
	case c.Graph.DeferredQueueCapacity < 1:
		return fmt.Errorf("%w: graph.deferred_queue_capacity must be at least 1, got %d", ErrInvalidConfig, c.Graph.DeferredQueueCapacity)
	case c.Chunks.Count < 0 || c.Chunks.UploadsPerFrame < 1:
		return fmt.Errorf("%w: chunks.count %d, chunks.uploads_per_frame %d", ErrInvalidConfig, c.Chunks.Count, c.Chunks.UploadsPerFrame)
	case c.Chunks.VertexBufferSize == 0:
		return fmt.Errorf("%w: chunks.vertex_buffer_size must not be zero", ErrInvalidConfig)
	}
	return nil
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// RestartRequired lists the keys that differ between old and next and only take effect on
// the next start.
func RestartRequired(old, next *Config) []string {
	var keys []string
	if old.Window != next.Window {
		keys = append(keys, "window")
	}
	if old.Graph != next.Graph {
		keys = append(keys, "graph")
	}
	if old.Renderer.Validation != next.Renderer.Validation {
		keys = append(keys, "renderer.validation")
	}
	if old.Chunks != next.Chunks {
		keys = append(keys, "chunks")
	}
	if old.Metrics != next.Metrics {
		keys = append(keys, "metrics")
	}
	return keys
}
