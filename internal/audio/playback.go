package audio

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Output renders one PCM buffer. Play blocks until the buffer has finished
// rendering or ctx is cancelled; the sink schedules the next queued buffer
// only after Play returns. The gateway's output streams buffers to the
// browser; tests use synthetic outputs.
type Output interface {
	Play(ctx context.Context, pcm []byte) error
}

// PlaybackSink is a FIFO playback queue with at most one buffer playing at
// a time. Enqueue never blocks. Stop halts the current buffer mid-play and
// clears the queue atomically, emitting exactly one PlayingChange(false)
// when something was playing.
type PlaybackSink struct {
	sampleRate int
	output     Output
	logger     zerolog.Logger

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	gain    float64
	cancel  context.CancelFunc
	closed  bool

	wake        chan struct{}
	done        chan struct{}
	playingCh   chan bool
	startedLoop bool
}

// NewPlaybackSink creates a sink rendering through output at sampleRate.
// The render loop starts lazily on the first Enqueue.
func NewPlaybackSink(output Output, sampleRate int, logger zerolog.Logger) *PlaybackSink {
	return &PlaybackSink{
		sampleRate: sampleRate,
		output:     output,
		logger:     logger.With().Str("component", "playback").Logger(),
		gain:       1.0,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		playingCh:  make(chan bool, 16),
	}
}

// SampleRate returns the sink's fixed output rate
func (s *PlaybackSink) SampleRate() int {
	return s.sampleRate
}

// PlayingChanges reports transitions between playing and idle. Values
// strictly alternate, starting with true.
func (s *PlaybackSink) PlayingChanges() <-chan bool {
	return s.playingCh
}

// SetVolume sets the playback gain in [0, 1], applied to buffers enqueued
// afterwards
func (s *PlaybackSink) SetVolume(gain float64) {
	if gain < 0 {
		gain = 0
	} else if gain > 1 {
		gain = 1
	}
	s.mu.Lock()
	s.gain = gain
	s.mu.Unlock()
}

// Enqueue appends a little-endian PCM16 buffer to the queue and starts
// playback when idle. Invalid (odd-length) buffers are logged and dropped.
// Never blocks.
func (s *PlaybackSink) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.gain < 1.0 {
		samples, err := DecodePCM16(pcm)
		if err != nil {
			s.mu.Unlock()
			s.logger.Warn().Int("len", len(pcm)).Msg("Dropping malformed playback buffer")
			return
		}
		pcm = EncodePCM16(ApplyGain(samples, s.gain))
	} else if len(pcm)%2 != 0 {
		s.mu.Unlock()
		s.logger.Warn().Int("len", len(pcm)).Msg("Dropping malformed playback buffer")
		return
	}

	s.queue = append(s.queue, pcm)
	if !s.startedLoop {
		s.startedLoop = true
		go s.renderLoop()
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop halts playback mid-buffer and clears the queue. Queue clear and the
// playing transition happen under one lock, so no stale buffer can start
// afterwards. Idempotent.
func (s *PlaybackSink) Stop() {
	s.mu.Lock()
	s.queue = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	wasPlaying := s.playing
	s.playing = false
	if wasPlaying {
		s.emitLocked(false)
	}
	s.mu.Unlock()
}

// Close stops playback and terminates the render loop. Idempotent.
func (s *PlaybackSink) Close() {
	s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.startedLoop
	s.mu.Unlock()

	close(s.done)
	if !started {
		return
	}
}

// renderLoop pops buffers in FIFO order, playing one at a time
func (s *PlaybackSink) renderLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				if s.playing {
					s.playing = false
					s.emitLocked(false)
				}
				s.mu.Unlock()
				break
			}

			buf := s.queue[0]
			s.queue = s.queue[1:]
			if !s.playing {
				s.playing = true
				s.emitLocked(true)
			}
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.mu.Unlock()

			err := s.output.Play(ctx, buf)
			interrupted := ctx.Err() != nil
			cancel()

			s.mu.Lock()
			if s.cancel != nil {
				s.cancel = nil
			}
			s.mu.Unlock()

			if err != nil && !interrupted {
				s.logger.Warn().Err(err).Msg("Playback output error")
			}
		}
	}
}

// emitLocked pushes a playing transition; must be called with s.mu held
func (s *PlaybackSink) emitLocked(playing bool) {
	select {
	case s.playingCh <- playing:
	default:
		s.logger.Warn().Bool("playing", playing).Msg("Playing-change observer stalled, dropping event")
	}
}
