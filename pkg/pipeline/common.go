// Package pipeline implements the Dialogue Pipeline (C6) in its two
// variants, Streaming and PushToTalk, grounded on the teacher's
// ManagedStream (pkg/orchestrator/managed_stream.go) for the
// multi-loop-under-one-lifetime shape, and on
// original_source/vad_realtime/main.py for the loop responsibilities
// (receive/resample, synthesize, playback, heartbeat) and their timeouts.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/voicegate/pkg/billing"
	"github.com/lokutor-ai/voicegate/pkg/realtime"
	"github.com/lokutor-ai/voicegate/pkg/session"
)

// Logger is the teacher's minimal structured-logging seam
// (pkg/orchestrator.Logger), implemented by pkg/logging.Zap in
// production and a no-op in tests.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

// Agent is the subset of *realtime.Agent the pipeline depends on,
// narrowed to an interface so loop logic can be exercised against a
// fake in tests without a live upstream connection.
type Agent interface {
	SendText(ctx context.Context, text string) error
	ReadEvent(ctx context.Context) (realtime.Event, error)
	Disconnect()
}

// Transcriber is the subset of *stt.Client the pipeline depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, lang string) (string, error)
}

const (
	heartbeatTimeout  = 5 * time.Second
	playbackGapLimit  = 3 * time.Second
	playbackPreroll   = 1400 * time.Millisecond
	ingestReadTimeout = 60 * time.Second
)

// Deps bundles the collaborators every pipeline variant needs: the
// session store it operates against, the billing ledger, and a logger.
// Both variants are constructed with the same Deps so main.go wires them
// once.
type Deps struct {
	Store      *session.Store
	Accountant *billing.Accountant
	Logger     Logger
}

func (d Deps) logger() Logger {
	if d.Logger == nil {
		return noOpLogger{}
	}
	return d.Logger
}

// runSupervised launches the given loops under one errgroup, cancelling
// the shared context (and therefore every other loop) as soon as any one
// of them returns — the four-loops-die-together rule of spec §4.6/§5.
// The agent is disconnected before the group unwinds so its pending
// events never queue onto a channel whose consumer has already exited.
func runSupervised(ctx context.Context, agent Agent, loops ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			err := loop(gctx)
			if agent != nil {
				agent.Disconnect()
			}
			cancel()
			return err
		})
	}
	return g.Wait()
}

// synthesizeLoop pumps one upstream realtime event per iteration,
// translating it into session-store mutations and billing settlement.
// Grounded on llm_utils.py's read_message/_handle_message dispatch,
// re-expressed as C6's "synthesize loop" (spec §4.6, item 2).
func synthesizeLoop(sessionID string, agent Agent, deps Deps) func(context.Context) error {
	return func(ctx context.Context) error {
		log := deps.logger()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			ev, err := agent.ReadEvent(ctx)
			if err != nil {
				return err
			}

			switch ev.Type {
			case realtime.EventAudioDelta:
				deps.Store.EnqueuePlayback(sessionID, session.PlaybackChunk{
					Audio:    ev.Audio,
					Duration: ev.Duration,
				})

			case realtime.EventTranscriptDone:
				deps.Store.SendText(sessionID, "<b>Assistant response:</b> "+ev.Transcript)

			case realtime.EventResponseStarted:
				sess := deps.Store.Get(sessionID)
				if sess == nil {
					continue
				}
				if sess.CurrentRequestID == "" {
					deps.Store.With(sessionID, func(s *session.Session) { s.FlatResponseStart = time.Now() })
					continue
				}
				rt := deps.Store.GetRequestTiming(sessionID, sess.CurrentRequestID)
				if rt != nil {
					rt.ResponseStart = time.Now()
				}

			case realtime.EventResponseDone:
				sess := deps.Store.Get(sessionID)
				if sess != nil && ev.Usage.TotalTokens > 0 {
					log.Info("token usage",
						"user_id", sess.UserID,
						"input_tokens", ev.Usage.InputTokens,
						"output_tokens", ev.Usage.OutputTokens,
						"total_tokens", ev.Usage.TotalTokens,
					)
				}

				var settleErr error
				if sess != nil && sess.CurrentRequestID == "" {
					settleErr = settleFlat(ctx, sessionID, deps)
				} else {
					settleErr = settleResponse(ctx, sessionID, deps)
				}
				if settleErr != nil {
					log.Error("billing settlement failed", "session_id", sessionID, "error", settleErr)
				}

			case realtime.EventError:
				log.Warn("realtime agent reported an error", "session_id", sessionID, "error", ev.Err)
			}
		}
	}
}

// settleFlat is settleResponse's counterpart for the push-to-talk
// variant, which has no per-request queue: it reads the three Flat*
// timers stamped on the session (voice/processing by SubmitUpload,
// response by the EventResponseStarted/Done pair above), settles them as
// one request, and resets them so the next upload starts from zero.
// Grounded on original_source/button_realtime/connection_handlers.py's
// calculate_and_deduct_time.
func settleFlat(ctx context.Context, sessionID string, deps Deps) error {
	sess := deps.Store.Get(sessionID)
	if sess == nil {
		return nil
	}

	response := sess.FlatResponseDuration
	if !sess.FlatResponseStart.IsZero() {
		response = time.Since(sess.FlatResponseStart)
	}

	out, err := deps.Accountant.Settle(ctx, sess.UserID, sess.FlatVoiceDuration, sess.FlatProcessingDuration, response)
	if err != nil {
		return err
	}

	deps.Store.With(sessionID, func(s *session.Session) {
		s.FlatVoiceDuration = 0
		s.FlatProcessingDuration = 0
		s.FlatResponseDuration = 0
		s.FlatResponseStart = time.Time{}
	})

	deps.Store.SendText(sessionID, out.Message)
	if out.Disconnect {
		deps.Store.Disconnect(sessionID)
	}
	return nil
}

// settleResponse stamps response_duration on the current request, pops
// it from the queue, and hands the three measured durations to the
// Usage Accountant (spec §4.7).
func settleResponse(ctx context.Context, sessionID string, deps Deps) error {
	sess := deps.Store.Get(sessionID)
	if sess == nil {
		return nil
	}
	requestID := sess.CurrentRequestID
	if requestID == "" {
		return nil
	}

	rt := deps.Store.PopRequestTiming(sessionID, requestID)
	if rt == nil {
		return nil
	}
	if !rt.ResponseStart.IsZero() {
		rt.ResponseDuration = time.Since(rt.ResponseStart)
	}

	out, err := deps.Accountant.Settle(ctx, sess.UserID, rt.VoiceDuration, rt.ProcessingDuration, rt.ResponseDuration)
	if err != nil {
		return err
	}

	deps.Store.SendText(sessionID, out.Message)
	if out.Disconnect {
		deps.Store.Disconnect(sessionID)
	}
	return nil
}

// playbackLoop dequeues synthesized chunks and writes them to the
// client, inserting a pre-roll silence gap after any idle period longer
// than playbackGapLimit (spec §4.6, item 3).
func playbackLoop(sessionID string, deps Deps) func(context.Context) error {
	return func(ctx context.Context) error {
		var lastSent time.Time
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			chunk, ok := deps.Store.DequeuePlayback(sessionID)
			if !ok {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(20 * time.Millisecond):
				}
				continue
			}

			if !lastSent.IsZero() && time.Since(lastSent) > playbackGapLimit {
				deps.Store.SendBytes(sessionID, make([]byte, silenceFrameBytes(playbackPreroll)))
			}

			deps.Store.SendBytes(sessionID, chunk.Audio)
			lastSent = time.Now()

			if deps.Store.Get(sessionID) == nil {
				return nil
			}
		}
	}
}

// silenceFrameBytes computes the byte length of d worth of silence at
// the realtime agent's 24kHz/16-bit PCM output rate.
func silenceFrameBytes(d time.Duration) int {
	samples := int(d.Seconds() * 24000)
	return samples * 2
}

// heartbeatLoop alternates receiving text messages with a 5s timeout and,
// on timeout, sends "ping"; on receiving "ping" it replies "pong". Either
// path refreshes the session's last-heartbeat timestamp (spec §4.6, item
// 4). channel.ReadText is supplied by the transport-specific caller since
// pkg/session.Channel does not expose receive (only send), to keep the
// Store decoupled from the read side of the wire protocol.
func heartbeatLoop(sessionID string, readText func(context.Context, time.Duration) (string, error), deps Deps) func(context.Context) error {
	return func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			msg, err := readText(ctx, heartbeatTimeout)
			if err == context.DeadlineExceeded {
				deps.Store.SendText(sessionID, "ping")
				deps.Store.Heartbeat(sessionID)
				continue
			}
			if err != nil {
				return err
			}

			if msg == "ping" {
				deps.Store.SendText(sessionID, "pong")
			}
			deps.Store.Heartbeat(sessionID)
		}
	}
}
