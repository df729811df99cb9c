package session

import (
	"sync"
	"time"
)

// DefaultStaleTimeout is how long a session may go without a heartbeat
// before CleanupStale evicts it (spec §4.5/§5).
const DefaultStaleTimeout = 10 * time.Second

// Store is the process-wide session_id -> *Session map guarded by a
// single mutex. All mutators/accessors acquire the mutex for the
// minimum span needed to touch one field; there are no per-session
// locks (Design Note: module-level singletons).
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	StaleTimeout time.Duration
}

// NewStore constructs an empty Store with the default stale timeout.
func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]*Session),
		StaleTimeout: DefaultStaleTimeout,
	}
}

// Connect registers a new Session for sessionID, accepting channel as its
// transport handle.
func (s *Store) Connect(sessionID string, channel Channel) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		SessionID:      sessionID,
		Channel:        channel,
		Voice:          VoiceAlloy,
		ResponseLength: ResponseNormal,
		LastHeartbeat:  time.Now(),
	}
	s.sessions[sessionID] = sess
	return sess
}

// Disconnect closes the session's channel (ignoring close errors) and
// removes it from the store.
func (s *Store) Disconnect(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if sess.Agent != nil {
		sess.Agent.Disconnect()
	}
	if sess.Channel != nil {
		_ = sess.Channel.Close()
	}
}

// Get returns the Session for sessionID, or nil if it is absent (the
// session may have been evicted concurrently).
func (s *Store) Get(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// Len reports the number of currently registered sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// With runs fn with the mutex held while sessionID is still present in
// the store, giving callers fine-grained field access without exposing
// the mutex. It is a no-op if the session has been evicted.
func (s *Store) With(sessionID string, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	fn(sess)
}

// SendText delivers a text status line to the client; on transport error
// the session is evicted (spec §4.5).
func (s *Store) SendText(sessionID, msg string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok || sess.Channel == nil {
		return
	}
	if err := sess.Channel.SendText(msg); err != nil {
		s.Disconnect(sessionID)
	}
}

// SendBytes delivers a binary audio chunk to the client; on transport
// error the session is evicted.
func (s *Store) SendBytes(sessionID string, data []byte) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok || sess.Channel == nil {
		return
	}
	if err := sess.Channel.SendBytes(data); err != nil {
		s.Disconnect(sessionID)
	}
}

// RecordPreroll appends frame to the session's bounded preroll ring.
func (s *Store) RecordPreroll(sessionID string, frame []byte) {
	s.With(sessionID, func(sess *Session) {
		sess.preroll.push(frame)
	})
}

// FlushPreroll writes the preroll ring's contents into the audio buffer.
// It is a no-op if the session is absent.
func (s *Store) FlushPreroll(sessionID string) {
	s.With(sessionID, func(sess *Session) {
		sess.preroll.flush(&sess.audioBuffer)
	})
}

// ClearQueues replaces the playback queue with an empty one and (per
// spec §4.5) nothing else needs draining on the Go side since
// PlaybackQueue is an owned slice, not an external channel.
func (s *Store) ClearQueues(sessionID string) {
	s.With(sessionID, func(sess *Session) {
		sess.PlaybackQueue = nil
	})
}

// Heartbeat stamps LastHeartbeat with the current time.
func (s *Store) Heartbeat(sessionID string) {
	s.With(sessionID, func(sess *Session) {
		sess.LastHeartbeat = time.Now()
	})
}

// CleanupStale evicts every session whose LastHeartbeat predates now by
// more than StaleTimeout (or DefaultStaleTimeout if unset). It returns
// the evicted session ids.
func (s *Store) CleanupStale() []string {
	timeout := s.StaleTimeout
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}

	now := time.Now()
	s.mu.Lock()
	var stale []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastHeartbeat) > timeout {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.Disconnect(id)
	}
	return stale
}

// AppendAudio writes chunk to the session's audio buffer.
func (s *Store) AppendAudio(sessionID string, chunk []byte) {
	s.With(sessionID, func(sess *Session) {
		sess.audioBuffer.Write(chunk)
	})
}

// AudioBufferLen reports the current length of the audio buffer.
func (s *Store) AudioBufferLen(sessionID string) int {
	var n int
	s.With(sessionID, func(sess *Session) {
		n = sess.audioBuffer.Len()
	})
	return n
}

// TakeAudioBuffer returns a copy of the audio buffer's bytes and resets
// it to empty.
func (s *Store) TakeAudioBuffer(sessionID string) []byte {
	var out []byte
	s.With(sessionID, func(sess *Session) {
		out = append(out, sess.audioBuffer.Bytes()...)
		sess.audioBuffer.Reset()
	})
	return out
}

// PushRequestTiming starts tracking a new in-flight utterance.
func (s *Store) PushRequestTiming(sessionID string, rt *RequestTiming) {
	s.With(sessionID, func(sess *Session) {
		sess.RequestQueue = append(sess.RequestQueue, rt)
		sess.CurrentRequestID = rt.RequestID
	})
}

// GetRequestTiming returns the RequestTiming for requestID, or nil.
func (s *Store) GetRequestTiming(sessionID, requestID string) *RequestTiming {
	var found *RequestTiming
	s.With(sessionID, func(sess *Session) {
		for _, rt := range sess.RequestQueue {
			if rt.RequestID == requestID {
				found = rt
				return
			}
		}
	})
	return found
}

// PopRequestTiming removes and returns the RequestTiming for requestID
// (called by the Usage Accountant at response end; spec §4.7 requires
// overlapping requests to be removed and billed independently, in
// completion order rather than submission order).
func (s *Store) PopRequestTiming(sessionID, requestID string) *RequestTiming {
	var found *RequestTiming
	s.With(sessionID, func(sess *Session) {
		for i, rt := range sess.RequestQueue {
			if rt.RequestID == requestID {
				found = rt
				sess.RequestQueue = append(sess.RequestQueue[:i], sess.RequestQueue[i+1:]...)
				if sess.CurrentRequestID == requestID {
					sess.CurrentRequestID = ""
				}
				return
			}
		}
	})
	return found
}

// EnqueuePlayback appends a synthesized chunk to the playback queue.
func (s *Store) EnqueuePlayback(sessionID string, chunk PlaybackChunk) {
	s.With(sessionID, func(sess *Session) {
		sess.PlaybackQueue = append(sess.PlaybackQueue, chunk)
	})
}

// DequeuePlayback removes and returns the oldest playback chunk, or
// (PlaybackChunk{}, false) if the queue is empty.
func (s *Store) DequeuePlayback(sessionID string) (PlaybackChunk, bool) {
	var (
		chunk PlaybackChunk
		ok    bool
	)
	s.With(sessionID, func(sess *Session) {
		if len(sess.PlaybackQueue) == 0 {
			return
		}
		chunk = sess.PlaybackQueue[0]
		sess.PlaybackQueue = sess.PlaybackQueue[1:]
		ok = true
	})
	return chunk, ok
}
