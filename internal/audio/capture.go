package audio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FrameSource is the device half of audio capture. Open acquires the
// underlying source and must be matched by exactly one Close. After Open
// succeeds the implementation delivers raw little-endian PCM16 chunks of any
// size through the push function. Close must not return while a push call is
// in flight; chunks delivered after Close returns are dropped by the capture
// source.
//
// Implementations return the package sentinel errors from Open so failures
// can be classified (permission, missing device, busy, constraints).
type FrameSource interface {
	Open(ctx context.Context, push func(pcm []byte)) error
	Close() error
}

// CaptureSource reslices a FrameSource's chunk stream into fixed-size frames
// and drives a volume meter. Frames and Volume are closed on Stop.
type CaptureSource struct {
	source         FrameSource
	sampleRate     int
	frameSamples   int
	volumeInterval time.Duration
	logger         zerolog.Logger

	frames chan []byte
	volume chan float64

	mu      sync.Mutex
	started bool
	stopped bool
	ring    *RingBuffer
	level   float64

	stopVolume chan struct{}
	volumeDone chan struct{}
}

// CaptureConfig carries the capture tunables
type CaptureConfig struct {
	SampleRate     int
	FrameSamples   int
	VolumeInterval time.Duration
}

// NewCaptureSource creates a capture source over the given FrameSource
func NewCaptureSource(source FrameSource, cfg CaptureConfig, logger zerolog.Logger) *CaptureSource {
	frameBytes := cfg.FrameSamples * 2
	return &CaptureSource{
		source:         source,
		sampleRate:     cfg.SampleRate,
		frameSamples:   cfg.FrameSamples,
		volumeInterval: cfg.VolumeInterval,
		logger:         logger.With().Str("component", "capture").Logger(),
		frames:         make(chan []byte, 32),
		volume:         make(chan float64, 8),
		// Hold up to 8 frames of backlog before dropping source bytes.
		ring:       NewRingBuffer(frameBytes*8 + 1),
		stopVolume: make(chan struct{}),
		volumeDone: make(chan struct{}),
	}
}

// Frames returns the fixed-size PCM frame stream
func (c *CaptureSource) Frames() <-chan []byte {
	return c.frames
}

// Volume returns the RMS volume meter stream
func (c *CaptureSource) Volume() <-chan float64 {
	return c.volume
}

// Start acquires the source and begins delivering frames. Calling Start on
// a running capture source is a no-op returning nil.
func (c *CaptureSource) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.mu.Unlock()
		return &CaptureError{Kind: CaptureUnknown, Err: errStoppedSource}
	}
	c.mu.Unlock()

	if err := c.source.Open(ctx, c.push); err != nil {
		capErr := newCaptureError(err)
		c.logger.Error().Err(err).Str("kind", string(capErr.Kind)).Msg("Failed to open audio source")
		return capErr
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go c.volumeLoop()

	c.logger.Info().
		Int("sample_rate", c.sampleRate).
		Int("frame_samples", c.frameSamples).
		Msg("Audio capture started")
	return nil
}

// Stop releases the source and closes the output channels. It is
// idempotent and synchronous: no frame or volume emission happens after it
// returns.
func (c *CaptureSource) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	wasStarted := c.started
	c.stopped = true
	c.started = false
	c.mu.Unlock()

	if wasStarted {
		if err := c.source.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing audio source")
		}
		close(c.stopVolume)
		<-c.volumeDone
	}

	close(c.frames)
	close(c.volume)
	c.logger.Info().Msg("Audio capture stopped")
}

// push receives raw chunks from the FrameSource, buffers them, and emits
// complete frames. Chunks arriving after Stop are dropped.
func (c *CaptureSource) push(pcm []byte) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}

	c.ring.Write(pcm)

	frameBytes := c.frameSamples * 2
	var ready [][]byte
	for c.ring.Available() >= frameBytes {
		frame := make([]byte, frameBytes)
		c.ring.Read(frame)
		ready = append(ready, frame)
	}

	if len(ready) > 0 {
		last := ready[len(ready)-1]
		if samples, err := DecodePCM16(last); err == nil {
			c.level = RMSLevel(samples)
		}
	}
	c.mu.Unlock()

	for _, frame := range ready {
		select {
		case c.frames <- frame:
		default:
			// Consumer stalled; drop rather than block the source.
			c.logger.Warn().Msg("Dropping capture frame, consumer too slow")
		}
	}
}

// volumeLoop emits the most recent RMS level at the configured cadence
func (c *CaptureSource) volumeLoop() {
	defer close(c.volumeDone)

	interval := c.volumeInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopVolume:
			return
		case <-ticker.C:
			c.mu.Lock()
			level := c.level
			c.mu.Unlock()
			select {
			case c.volume <- level:
			default:
			}
		}
	}
}
