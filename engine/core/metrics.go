package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const AVG_COUNT uint8 = 30

// FrameMetrics keeps the rolling frame-time average and FPS of the render loop and mirrors
// them into prometheus collectors.
type FrameMetrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	frameDuration prometheus.Histogram
	fenceWait     *prometheus.HistogramVec
	framesTotal   prometheus.Counter
	fpsGauge      prometheus.Gauge
}

// NewFrameMetrics creates the collectors and registers them on reg. A nil registerer
// leaves the collectors unregistered, which is what tests want.
func NewFrameMetrics(reg prometheus.Registerer) (*FrameMetrics, error) {
	m := &FrameMetrics{
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxel_frame_duration_seconds",
			Help:    "Host time spent in one render graph execution",
			Buckets: []float64{0.001, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1},
		}),
		fenceWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxel_fence_wait_seconds",
			Help:    "Host time blocked on a node's in-flight fence",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.004, 0.016, 0.1},
		}, []string{"node"}),
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxel_frames_executed_total",
			Help: "Number of frames executed by the render graph",
		}),
		fpsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxel_frames_per_second",
			Help: "Frames per second over the last second",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.frameDuration, m.fenceWait, m.framesTotal, m.fpsGauge} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveFrame records the duration of one executed frame.
func (m *FrameMetrics) ObserveFrame(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := float64(elapsed) / float64(time.Millisecond)
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.fpsGauge.Set(m.fps)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
	m.framesTotal.Inc()
	m.frameDuration.Observe(elapsed.Seconds())
}

// ObserveFenceWait records how long the host blocked on a node's fence.
func (m *FrameMetrics) ObserveFenceWait(node string, elapsed time.Duration) {
	m.fenceWait.WithLabelValues(node).Observe(elapsed.Seconds())
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

func (m *FrameMetrics) Frame() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps, m.msAvg
}
