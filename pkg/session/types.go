// Package session implements the process-wide Session Store (C5): a
// concrete, mutex-guarded Session type with typed accessors, replacing
// the dynamic per-connection dictionary of the original implementation
// (see Design Note on dynamic per-session dictionaries).
package session

import (
	"bytes"
	"time"
)

// Voice enumerates the synthesis voices the realtime agent accepts.
// Unknown values fall back to VoiceAlloy.
type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceAsh     Voice = "ash"
	VoiceBallad  Voice = "ballad"
	VoiceCoral   Voice = "coral"
	VoiceEcho    Voice = "echo"
	VoiceSage    Voice = "sage"
	VoiceShimmer Voice = "shimmer"
	VoiceVerse   Voice = "verse"
	VoiceMarin   Voice = "marin"
	VoiceCedar   Voice = "cedar"
)

var validVoices = map[Voice]bool{
	VoiceAlloy: true, VoiceAsh: true, VoiceBallad: true, VoiceCoral: true,
	VoiceEcho: true, VoiceSage: true, VoiceShimmer: true, VoiceVerse: true,
	VoiceMarin: true, VoiceCedar: true,
}

// NormalizeVoice maps an arbitrary client-supplied string onto a known
// Voice, defaulting to VoiceAlloy.
func NormalizeVoice(s string) Voice {
	v := Voice(s)
	if validVoices[v] {
		return v
	}
	return VoiceAlloy
}

// ResponseLength enumerates the requested verbosity of assistant replies.
type ResponseLength string

const (
	ResponseShort  ResponseLength = "short"
	ResponseNormal ResponseLength = "normal"
	ResponseLong   ResponseLength = "long"
)

// NormalizeResponseLength maps an arbitrary client-supplied string onto a
// known ResponseLength, defaulting to ResponseNormal.
func NormalizeResponseLength(s string) ResponseLength {
	switch ResponseLength(s) {
	case ResponseShort:
		return ResponseShort
	case ResponseLong:
		return ResponseLong
	default:
		return ResponseNormal
	}
}

// PlaybackChunk is one synthesized-audio item produced by the realtime
// agent and queued for delivery to the client.
type PlaybackChunk struct {
	Audio    []byte
	Duration time.Duration
}

// RequestTiming tracks the three latency contributions of one in-flight
// utterance (spec §3). Overlapping utterances each get their own
// RequestTiming, completed and billed independently and in the order
// their response ends.
type RequestTiming struct {
	RequestID string

	RecordingStart time.Time
	VoiceDuration  time.Duration

	ProcessingStart    time.Time
	ProcessingDuration time.Duration

	ResponseStart    time.Time
	ResponseDuration time.Duration
}

// preroll is a bounded ring buffer (capacity 2) of the most recent
// pre-trigger frames, prepended to the audio buffer on voice onset to
// avoid clipping the first phoneme.
type preroll struct {
	frames [][]byte
}

func (p *preroll) push(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	p.frames = append(p.frames, cp)
	if len(p.frames) > 2 {
		p.frames = p.frames[1:]
	}
}

func (p *preroll) flush(into *bytes.Buffer) {
	for _, f := range p.frames {
		into.Write(f)
	}
}

// Session is the full per-connection state owned exclusively by the
// Store. All other components hold only a session id and ask the Store
// for individual fields.
type Session struct {
	SessionID       string
	UserID          string
	IsAuthenticated bool

	Channel Channel

	audioBuffer      bytes.Buffer
	preroll          preroll
	IsRecording      bool
	LastVoiceOffset  int
	CurrentRequestID string
	RequestQueue     []*RequestTiming

	PlaybackQueue []PlaybackChunk
	Agent         RealtimeAgent

	Voice          Voice
	Topic          string
	ResponseLength ResponseLength

	LastHeartbeat time.Time

	// Flat per-request timers used by the push-to-talk variant, which
	// processes one utterance at a time by construction and therefore
	// does not need the streaming variant's per-request queue (Open
	// Question resolution, SPEC_FULL.md §9).
	FlatVoiceDuration      time.Duration
	FlatProcessingDuration time.Duration
	FlatResponseDuration   time.Duration
	FlatResponseStart      time.Time
}

// AudioLen reports the current length of the audio buffer. Safe to call
// only while the Store's mutex is held for this session (i.e. from
// within a Store.With callback) or when the Session is otherwise known
// not to be shared.
func (s *Session) AudioLen() int {
	return s.audioBuffer.Len()
}

// Channel is the minimal bidirectional-transport surface the Session
// Store needs; pkg/transport.WebSocketChannel implements it against
// coder/websocket, and tests substitute a fake.
type Channel interface {
	SendText(msg string) error
	SendBytes(data []byte) error
	Close() error
}

// RealtimeAgent is the minimal surface the Session Store needs on the C4
// agent bound to a session, so that pkg/session does not import
// pkg/realtime.
type RealtimeAgent interface {
	Disconnect()
}
