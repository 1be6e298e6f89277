package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/pipeline"
	"github.com/lingopath/voice-translator/internal/stt"
	"github.com/lingopath/voice-translator/internal/translate"
)

// turnRequest is a complete user turn submitted outside the speech path:
// typed text or a captured image.
type turnRequest struct {
	text  string
	image *translate.Image
}

// splitStrategy runs the three-channel pipeline: speech-to-text events
// accumulate into an utterance, a silence window finalizes the turn, the
// finalized text is translated, and the translation is synthesized into the
// sink.
//
// Turn sequencing lives on a single goroutine; the debounce timer, the
// utterance buffer, and the translate/speak sequence never race each other.
type splitStrategy struct {
	o       *Orchestrator
	session config.Session
	sink    Sink

	stt        Transcriber
	translator Translator
	tts        Synthesizer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	turns chan turnRequest

	// synthActive tracks an in-flight synthesis context. Touched only on
	// the run goroutine.
	synthActive bool

	mu       sync.Mutex
	segments []string
}

func newSplitStrategy(o *Orchestrator, session config.Session, sink Sink, transcriber Transcriber, translator Translator, synthesizer Synthesizer) *splitStrategy {
	ctx, cancel := context.WithCancel(context.Background())
	return &splitStrategy{
		o:          o,
		session:    session,
		sink:       sink,
		stt:        transcriber,
		translator: translator,
		tts:        synthesizer,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		turns:      make(chan turnRequest, 4),
	}
}

func (s *splitStrategy) connect(ctx context.Context) error {
	if err := s.stt.Connect(ctx, s.session.FromLanguage); err != nil {
		return fmt.Errorf("stt connect: %w", err)
	}
	if err := s.tts.Connect(ctx); err != nil {
		s.stt.Disconnect()
		return fmt.Errorf("tts connect: %w", err)
	}
	go s.run()
	return nil
}

func (s *splitStrategy) sendAudio(frame []byte) {
	s.stt.SendAudio(frame)
}

func (s *splitStrategy) sendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty text")
	}
	select {
	case s.turns <- turnRequest{text: text}:
		return nil
	case <-s.ctx.Done():
		return errors.New("pipeline not running")
	}
}

func (s *splitStrategy) sendImage(data []byte, mimeType string) error {
	if len(data) == 0 {
		return errors.New("empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	select {
	case s.turns <- turnRequest{image: &translate.Image{MimeType: mimeType, Data: data}}:
		return nil
	case <-s.ctx.Done():
		return errors.New("pipeline not running")
	}
}

func (s *splitStrategy) submitToolResult(string, map[string]interface{}) error {
	return errors.New("tool calls are only available on the native pipeline")
}

func (s *splitStrategy) stopSpeaking() {
	s.tts.Stop()
	s.sink.Stop()
}

// disconnect follows the session teardown order: the run loop (and with it
// the silence timer) dies first, then in-flight synthesis is cancelled, then
// queued playback is dropped, then the provider sockets close.
func (s *splitStrategy) disconnect() {
	s.cancel()
	s.tts.Stop()
	s.sink.Stop()
	s.stt.Disconnect()
	s.tts.Disconnect()
	<-s.done
}

func (s *splitStrategy) run() {
	defer close(s.done)

	sttEvents := s.stt.Events()
	sttErrors := s.stt.Errors()
	ttsAudio := s.tts.Audio()
	ttsDone := s.tts.Done()
	ttsErrors := s.tts.Errors()

	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	restartTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(s.session.SilenceTimeout)
		timerC = timer.C
	}

	for {
		select {
		case <-s.ctx.Done():
			stopTimer()
			return

		case ev, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				continue
			}
			if s.handleTranscript(ev, restartTimer) {
				stopTimer()
				s.runTurn(turnRequest{text: s.takeUtterance()})
			}

		case <-timerC:
			stopTimer()
			s.runTurn(turnRequest{text: s.takeUtterance()})

		case req := <-s.turns:
			stopTimer()
			s.runTurn(req)

		case pcm, ok := <-ttsAudio:
			if !ok {
				ttsAudio = nil
				continue
			}
			s.sink.Enqueue(pcm)
			s.o.metrics.RecordAudioBytes("playback", int64(len(pcm)))

		case _, ok := <-ttsDone:
			if !ok {
				ttsDone = nil
				continue
			}
			s.synthActive = false
			// Synthesis finished; the status flips back to listening once
			// the sink drains.

		case err, ok := <-sttErrors:
			if !ok {
				sttErrors = nil
				continue
			}
			s.o.reportError("stt", err)

		case err, ok := <-ttsErrors:
			if !ok {
				ttsErrors = nil
				continue
			}
			s.o.reportError("tts", err)
		}
	}
}

// handleTranscript folds one recognition event into the utterance buffer.
// Every event restarts the silence window; the return value reports whether
// the recognizer itself declared the utterance finished.
func (s *splitStrategy) handleTranscript(ev stt.TranscriptEvent, restartTimer func()) bool {
	restartTimer()

	if ev.Text != "" {
		s.o.emit(Event{Kind: EventTranscript, Transcript: &TranscriptEntry{
			Text:    ev.Text,
			IsFinal: ev.IsFinal,
		}})
		if ev.IsFinal {
			s.mu.Lock()
			s.segments = append(s.segments, ev.Text)
			s.mu.Unlock()
		}
	}

	return ev.IsEndOfUtterance
}

// takeUtterance drains the accumulated final segments as one utterance
func (s *splitStrategy) takeUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := strings.TrimSpace(strings.Join(s.segments, " "))
	s.segments = nil
	return text
}

// interruptPlayback handles barge-in: a turn finalized while the previous
// one is still sounding cancels that synthesis and clears the queue, so
// stale audio never resumes behind the new turn.
func (s *splitStrategy) interruptPlayback() {
	if !s.synthActive && s.o.Status() != StatusSpeaking {
		return
	}
	s.o.logger.Debug().Msg("New turn while speaking, clearing playback")
	s.tts.Stop()
	s.sink.Stop()
	s.synthActive = false
}

// runTurn takes one finalized turn through translate and speak. A failed or
// malformed translation is substituted with the apology result so the user
// always hears an answer; the turn still completes.
func (s *splitStrategy) runTurn(req turnRequest) {
	if req.text == "" && req.image == nil {
		return
	}

	s.interruptPlayback()

	s.o.setStatus(StatusProcessing)
	s.o.metrics.RecordTurnStart()
	s.o.metrics.RecordStageStart("translate")

	result, translateErr := s.translator.Translate(s.ctx, req.text,
		s.session.FromLanguage, s.session.ToLanguage, req.image)
	if translateErr != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.o.metrics.RecordStageEnd("translate", false)

		var chErr *pipeline.ChannelError
		if errors.As(translateErr, &chErr) {
			s.o.reportTurnError("translate", translateErr)
		} else {
			s.o.logger.Warn().Err(translateErr).Msg("Malformed translation, substituting apology")
		}
		result = translate.Apology()
	} else {
		s.o.metrics.RecordStageEnd("translate", true)
	}

	s.o.emit(Event{Kind: EventTranslation, Translation: &TranslationEntry{
		Source: req.text,
		Result: result,
	}})

	// An apology-substituted turn still completes, but counts as a failed
	// turn in the metrics.
	turnOK := translateErr == nil

	s.o.metrics.RecordStageStart("tts")
	if err := s.tts.Speak(result.Translation, s.session.ToLanguage); err != nil {
		s.o.metrics.RecordStageEnd("tts", false)
		s.o.metrics.RecordTurnEnd(false)
		s.o.reportTurnError("tts", err)
		s.o.setStatus(StatusListening)
		return
	}
	s.synthActive = true
	s.o.metrics.RecordStageEnd("tts", true)
	s.o.metrics.RecordTurnEnd(turnOK)
}
