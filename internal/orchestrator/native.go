package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/live"
)

// nativeStrategy runs the single-channel audio-to-audio pipeline. The model
// does recognition, translation, and speech in one stream; this strategy
// only routes its events: audio into the sink, transcripts and text onto
// the event stream, and barge-in interruptions into an immediate playback
// clear.
type nativeStrategy struct {
	o       *Orchestrator
	session config.Session
	sink    Sink
	live    Converser

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newNativeStrategy(o *Orchestrator, session config.Session, sink Sink, converser Converser) *nativeStrategy {
	ctx, cancel := context.WithCancel(context.Background())
	return &nativeStrategy{
		o:       o,
		session: session,
		sink:    sink,
		live:    converser,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *nativeStrategy) connect(ctx context.Context) error {
	if err := s.live.Connect(ctx); err != nil {
		return err
	}
	go s.run()
	return nil
}

func (s *nativeStrategy) sendAudio(frame []byte) {
	s.live.SendAudio(frame)
}

func (s *nativeStrategy) sendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty text")
	}
	s.o.setStatus(StatusProcessing)
	return s.live.SendText(text)
}

func (s *nativeStrategy) sendImage(data []byte, mimeType string) error {
	if len(data) == 0 {
		return errors.New("empty image")
	}
	return s.live.SendImage(data, mimeType)
}

func (s *nativeStrategy) submitToolResult(callID string, result map[string]interface{}) error {
	return s.live.SubmitToolResult(callID, result)
}

func (s *nativeStrategy) stopSpeaking() {
	s.sink.Stop()
}

func (s *nativeStrategy) disconnect() {
	s.cancel()
	s.sink.Stop()
	s.live.Disconnect()
	<-s.done
}

func (s *nativeStrategy) run() {
	defer close(s.done)

	events := s.live.Events()
	errs := s.live.Errors()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.o.reportError("live", err)
		}
	}
}

func (s *nativeStrategy) handleEvent(ev live.Event) {
	switch ev.Kind {
	case live.EventInterrupted:
		// Barge-in: the queue clears before any content that arrived in the
		// same server message gets enqueued.
		s.sink.Stop()

	case live.EventAudio:
		s.sink.Enqueue(ev.Audio)
		s.o.metrics.RecordAudioBytes("playback", int64(len(ev.Audio)))

	case live.EventText:
		s.o.emit(Event{Kind: EventStreamingText, Text: ev.Text})

	case live.EventInputTranscript:
		s.o.emit(Event{Kind: EventTranscript, Transcript: &TranscriptEntry{
			Text:    ev.Text,
			IsFinal: true,
		}})

	case live.EventOutputTranscript:
		s.o.emit(Event{Kind: EventStreamingText, Text: ev.Text})

	case live.EventTurnComplete:
		// Playback may still be draining; the sink's playing transition
		// moves the status back to listening.

	case live.EventToolCall:
		s.o.emit(Event{Kind: EventToolCall, ToolCall: ev.ToolCall})
	}
}
