package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/voicegate/pkg/audio"
	"github.com/lokutor-ai/voicegate/pkg/session"
	"github.com/lokutor-ai/voicegate/pkg/vad"
)

// utteranceSilenceBytes is the silence run (in resampled 16kHz/16-bit
// bytes) that ends a recording utterance, ≈2.5s (spec §4.6).
const utteranceSilenceBytes = 80000

// inboundPreambleBytes is the provider-specific header length dropped
// from every resampled inbound frame (spec §4.6, item 1).
const inboundPreambleBytes = 300

// FrameSource supplies the next inbound binary frame, or
// context.DeadlineExceeded if none arrives within timeout.
type FrameSource func(ctx context.Context, timeout time.Duration) ([]byte, error)

// TextSource supplies the next inbound text message the same way.
type TextSource func(ctx context.Context, timeout time.Duration) (string, error)

// Streaming is the C6 Dialogue Pipeline variant that auto-segments
// utterances from a continuous inbound stream via the VAD state
// machine, grounded on
// original_source/vad_realtime/transcribation_utils.py's
// process_audio_chunk.
type Streaming struct {
	deps   Deps
	vad    *vad.Pool
	stt    Transcriber
	origSR int
}

// NewStreaming constructs a Streaming pipeline. origSR is the sample
// rate of inbound frames before resampling to 16kHz (44100 in the
// reference deployment).
func NewStreaming(deps Deps, vadPool *vad.Pool, sttClient Transcriber, origSR int) *Streaming {
	if origSR <= 0 {
		origSR = 44100
	}
	return &Streaming{deps: deps, vad: vadPool, stt: sttClient, origSR: origSR}
}

// state is the per-run VAD state-machine cursor; one exists per call to
// Run, matching the per-session lifetime of the state it tracks.
type state struct {
	sessionID string
}

// Run drives the four cooperating loops for one streaming session until
// any of them returns, then tears the whole group down together (spec
// §4.6). agent must already be connected.
func (p *Streaming) Run(ctx context.Context, sessionID string, agent Agent, frames FrameSource, texts TextSource) error {
	s := &state{sessionID: sessionID}

	return runSupervised(ctx, agent,
		func(ctx context.Context) error { return s.ingestLoop(ctx, p, agent, frames) },
		synthesizeLoop(sessionID, agent, p.deps),
		playbackLoop(sessionID, p.deps),
		heartbeatLoop(sessionID, texts, p.deps),
	)
}

// ingestLoop reads inbound frames, resamples and strips the provider
// preamble, then advances the VAD state machine (spec §4.6, item 1).
func (s *state) ingestLoop(ctx context.Context, p *Streaming, agent Agent, frames FrameSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := frames(ctx, ingestReadTimeout)
		if err != nil {
			return err
		}

		p.deps.Store.Heartbeat(s.sessionID)

		resampled := audio.Resample(raw, p.origSR, 16000)
		if len(resampled) > inboundPreambleBytes {
			resampled = resampled[inboundPreambleBytes:]
		} else {
			resampled = nil
		}
		if len(resampled)%2 != 0 {
			resampled = resampled[:len(resampled)-1]
		}
		if len(resampled) < 2 {
			continue
		}

		speech, err := p.vad.Detect(ctx, resampled)
		if err != nil {
			return err
		}

		if err := s.advance(ctx, p, agent, resampled, speech); err != nil {
			p.deps.logger().Error("utterance processing failed", "session_id", s.sessionID, "error", err)
		}
	}
}

// advance is the VAD state machine transition table of spec §4.6,
// applied to one session's Store-resident state rather than an
// in-memory struct, since C5 is the sole owner of Session fields.
func (s *state) advance(ctx context.Context, p *Streaming, agent Agent, frame []byte, speech bool) error {
	sess := p.deps.Store.Get(s.sessionID)
	if sess == nil {
		return fmt.Errorf("pipeline: session %s not found", s.sessionID)
	}

	switch {
	case !sess.IsRecording && speech:
		requestID := uuid.New().String()
		p.deps.Store.PushRequestTiming(s.sessionID, &session.RequestTiming{
			RequestID:      requestID,
			RecordingStart: time.Now(),
		})
		p.deps.Store.SendText(s.sessionID, "Voice detected. Clearing playback queue.")
		p.deps.Store.ClearQueues(s.sessionID)
		p.deps.Store.FlushPreroll(s.sessionID)
		p.deps.Store.AppendAudio(s.sessionID, frame)
		p.deps.Store.With(s.sessionID, func(sess *session.Session) {
			sess.IsRecording = true
			sess.LastVoiceOffset = sess.AudioLen()
		})
		return nil

	case !sess.IsRecording && !speech:
		p.deps.Store.RecordPreroll(s.sessionID, frame)
		return nil

	case sess.IsRecording && speech:
		p.deps.Store.AppendAudio(s.sessionID, frame)
		p.deps.Store.With(s.sessionID, func(sess *session.Session) {
			sess.LastVoiceOffset = sess.AudioLen()
		})
		return nil

	default: // sess.IsRecording && !speech
		p.deps.Store.AppendAudio(s.sessionID, frame)
		bufLen := p.deps.Store.AudioBufferLen(s.sessionID)
		sess = p.deps.Store.Get(s.sessionID)
		if sess == nil {
			return nil
		}
		if bufLen-sess.LastVoiceOffset <= utteranceSilenceBytes {
			return nil
		}
		return s.finishUtterance(ctx, p, agent)
	}
}

// finishUtterance fires the utterance-end transition: stamps timings,
// transcribes, forwards to the realtime agent, and resets recording
// state (spec §4.6's RECORDING/silence > threshold transition).
func (s *state) finishUtterance(ctx context.Context, p *Streaming, agent Agent) error {
	sess := p.deps.Store.Get(s.sessionID)
	if sess == nil {
		return nil
	}
	requestID := sess.CurrentRequestID
	rt := p.deps.Store.GetRequestTiming(s.sessionID, requestID)

	now := time.Now()
	if rt != nil {
		rt.VoiceDuration = now.Sub(rt.RecordingStart)
		rt.ProcessingStart = now
	}

	p.deps.Store.SendText(s.sessionID, "Request being processed...")

	pcm := p.deps.Store.TakeAudioBuffer(s.sessionID)
	p.deps.Store.With(s.sessionID, func(sess *session.Session) {
		sess.IsRecording = false
		sess.LastVoiceOffset = 0
	})

	transcript, err := p.stt.Transcribe(ctx, pcm, "")
	if err != nil {
		p.deps.Store.SendText(s.sessionID, "Transcription failed, please try again.")
		return fmt.Errorf("pipeline: transcription failed: %w", err)
	}

	p.deps.Store.SendText(s.sessionID, "<b>User query:</b> "+transcript)
	if rt != nil {
		rt.ProcessingDuration = time.Since(rt.ProcessingStart)
		p.deps.Store.SendText(s.sessionID, fmt.Sprintf("Transcription latency %.2f sec", rt.ProcessingDuration.Seconds()))
	}

	if err := agent.SendText(ctx, transcript); err != nil {
		return fmt.Errorf("pipeline: failed to forward transcript to agent: %w", err)
	}

	return nil
}
