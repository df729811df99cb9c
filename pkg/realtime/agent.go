// Package realtime implements the Realtime LLM Agent (C4): a persistent
// bidirectional connection to a realtime speech-to-speech model, grounded
// on original_source/button_realtime/llm_utils.py's AsyncOpenAIAgent and
// transported over github.com/coder/websocket the way the teacher's
// pkg/providers/tts.LokutorTTS dials and streams over the same library.
package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voicegate/pkg/audio"
)

// audioResponsePreambleBytes is the number of leading bytes the realtime
// API's audio deltas carry before usable PCM begins; observed and
// preserved verbatim from the original implementation.
const audioResponsePreambleBytes = 200

const responseAudioSampleRate = 24000

// EventType enumerates the realtime-agent events returned by ReadEvent.
type EventType string

const (
	EventAudioDelta      EventType = "audio_delta"
	EventTranscriptDone  EventType = "transcript_done"
	EventResponseStarted EventType = "response_started"
	EventResponseDone    EventType = "response_done"
	EventError           EventType = "error"
)

// Usage reports the token accounting the provider attached to a
// response.done event.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Event is a decoded, dispatch-ready realtime message.
type Event struct {
	Type       EventType
	Audio      []byte        // EventAudioDelta: WAV-wrapped PCM
	Duration   time.Duration // EventAudioDelta
	Transcript string        // EventTranscriptDone
	Usage      Usage         // EventResponseDone
	Err        error         // EventError
}

// Config configures a session's connection to the realtime model.
type Config struct {
	APIKey       string
	Model        string
	Voice        string
	Instructions string
	Temperature  float64
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "gpt-4o-realtime-preview"
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.6
	}
	return c
}

// Agent is a single persistent connection to the realtime model, bound to
// exactly one gateway session. It satisfies pkg/session.RealtimeAgent.
type Agent struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	running   bool
	generating bool
}

// New constructs an unconnected Agent; call Connect before use.
func New(cfg Config) *Agent {
	return &Agent{cfg: cfg.withDefaults()}
}

// Connect dials the realtime endpoint and applies the session
// configuration (modalities, voice, instructions). turn_detection and
// input_audio_transcription are left off: the gateway's own VAD (C2)
// drives turn-taking, not the provider's.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	u := url.URL{
		Scheme:   "wss",
		Host:     "api.openai.com",
		Path:     "/v1/realtime",
		RawQuery: "model=" + url.QueryEscape(a.cfg.Model),
	}

	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Bearer " + a.cfg.APIKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	}

	conn, _, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		return fmt.Errorf("realtime: dial failed: %w", err)
	}

	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":               []string{"text", "audio"},
			"instructions":             a.cfg.Instructions,
			"voice":                    a.cfg.Voice,
			"input_audio_transcription": nil,
			"turn_detection":           nil,
			"temperature":              a.cfg.Temperature,
		},
	}
	if err := wsjson.Write(ctx, conn, update); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "session.update failed")
		return fmt.Errorf("realtime: session.update failed: %w", err)
	}

	a.conn = conn
	a.running = true
	return nil
}

// Disconnect closes the connection. Safe to call more than once and
// satisfies pkg/session.RealtimeAgent.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	if a.conn != nil {
		a.conn.Close(websocket.StatusNormalClosure, "")
		a.conn = nil
	}
}

// Cancel stops an in-flight response generation, used on barge-in.
func (a *Agent) Cancel(ctx context.Context) error {
	a.mu.Lock()
	conn, running, generating := a.conn, a.running, a.generating
	a.mu.Unlock()

	if !running || conn == nil || !generating {
		return nil
	}
	err := wsjson.Write(ctx, conn, map[string]any{"type": "response.cancel"})

	a.mu.Lock()
	a.generating = false
	a.mu.Unlock()

	return err
}

// SendText submits a user turn as text (the transcript produced by C3)
// and requests a response. Per the original agent, an in-flight response
// is cancelled first so a new utterance always wins a barge-in.
func (a *Agent) SendText(ctx context.Context, text string) error {
	a.mu.Lock()
	conn, running, generating := a.conn, a.running, a.generating
	a.mu.Unlock()

	if !running || conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	if generating {
		if err := a.Cancel(ctx); err != nil {
			return err
		}
	}

	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := wsjson.Write(ctx, conn, item); err != nil {
		return fmt.Errorf("realtime: conversation.item.create failed: %w", err)
	}
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "response.create"}); err != nil {
		return fmt.Errorf("realtime: response.create failed: %w", err)
	}

	a.mu.Lock()
	a.generating = true
	a.mu.Unlock()
	return nil
}

// rawEvent mirrors the subset of the realtime wire protocol this agent
// dispatches on; unrecognised fields are ignored by json.Unmarshal.
type rawEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Response   *struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ReadEvent blocks for the next message and decodes it into a dispatchable
// Event. Callers loop on ReadEvent until it returns an error (connection
// closed or ctx cancelled).
func (a *Agent) ReadEvent(ctx context.Context) (Event, error) {
	a.mu.Lock()
	conn, running := a.conn, a.running
	a.mu.Unlock()
	if !running || conn == nil {
		return Event{}, fmt.Errorf("realtime: not connected")
	}

	var raw rawEvent
	if err := wsjson.Read(ctx, conn, &raw); err != nil {
		return Event{}, fmt.Errorf("realtime: read failed: %w", err)
	}

	return a.dispatch(raw), nil
}

// dispatch maps one decoded wire message onto a caller-facing Event,
// updating the generating flag where the provider's state machine
// requires it. Split out from ReadEvent so the event table can be tested
// without a live connection.
func (a *Agent) dispatch(raw rawEvent) Event {
	switch raw.Type {
	case "response.audio.delta":
		a.mu.Lock()
		a.generating = true
		a.mu.Unlock()

		decoded, err := base64.StdEncoding.DecodeString(raw.Delta)
		if err != nil {
			return Event{Type: EventError, Err: fmt.Errorf("realtime: bad audio delta: %w", err)}
		}
		if len(decoded) <= audioResponsePreambleBytes {
			decoded = nil
		} else {
			decoded = decoded[audioResponsePreambleBytes:]
		}
		wav := audio.NewWavBuffer(decoded, responseAudioSampleRate)
		duration := time.Duration(float64(len(decoded)/2) / float64(responseAudioSampleRate) * float64(time.Second))
		return Event{Type: EventAudioDelta, Audio: wav, Duration: duration}

	case "response.audio_transcript.done":
		return Event{Type: EventTranscriptDone, Transcript: raw.Transcript}

	case "response.created":
		a.mu.Lock()
		a.generating = true
		a.mu.Unlock()
		return Event{Type: EventResponseStarted}

	case "response.done":
		a.mu.Lock()
		a.generating = false
		a.mu.Unlock()
		var usage Usage
		if raw.Response != nil && raw.Response.Usage != nil {
			usage = Usage{
				InputTokens:  raw.Response.Usage.InputTokens,
				OutputTokens: raw.Response.Usage.OutputTokens,
				TotalTokens:  raw.Response.Usage.TotalTokens,
			}
		}
		return Event{Type: EventResponseDone, Usage: usage}

	case "error":
		msg := "unknown realtime error"
		if raw.Error != nil {
			msg = raw.Error.Message
		}
		return Event{Type: EventError, Err: fmt.Errorf("realtime: %s", msg)}

	default:
		// Messages outside the dispatch table (session.created, etc.) are
		// surfaced as a no-op error-free event so ReadEvent never blocks
		// the caller's loop without returning.
		return Event{Type: EventType(raw.Type)}
	}
}

// IsGenerating reports whether a response is currently in flight.
func (a *Agent) IsGenerating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generating
}
