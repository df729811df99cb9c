package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/lokutor-ai/voicegate/pkg/audio"
	"github.com/lokutor-ai/voicegate/pkg/session"
)

// ErrEmptyUpload is returned when an uploaded utterance has no audio
// bytes (spec E6: HTTP 400 on empty file).
var ErrEmptyUpload = errors.New("pipeline: empty upload")

// PushToTalk is the C6 Dialogue Pipeline variant that accepts complete
// utterance uploads instead of running a VAD state machine, grounded on
// spec §4.6's "Push-to-talk variant" note.
type PushToTalk struct {
	deps Deps
	stt  Transcriber
}

// NewPushToTalk constructs a PushToTalk pipeline.
func NewPushToTalk(deps Deps, sttClient Transcriber) *PushToTalk {
	return &PushToTalk{deps: deps, stt: sttClient}
}

// SubmitUpload transcribes one complete WAV utterance and forwards it to
// the realtime agent, accounting flat (non-queued) timers on the session
// per the Open Question resolution (streaming uses a per-request queue;
// push-to-talk processes one utterance at a time and uses flat timers).
func (p *PushToTalk) SubmitUpload(ctx context.Context, sessionID string, agent Agent, wavBytes []byte) error {
	if len(wavBytes) == 0 {
		return ErrEmptyUpload
	}

	sampleRate, pcm, err := parseWav(wavBytes)
	if err != nil {
		return fmt.Errorf("pipeline: malformed upload: %w", err)
	}
	if len(pcm) == 0 {
		return ErrEmptyUpload
	}

	voiceDuration := time.Duration(float64(len(pcm)/2)/float64(sampleRate)*1000) * time.Millisecond

	processingStart := time.Now()
	if sampleRate != 16000 {
		pcm = audio.Resample(pcm, sampleRate, 16000)
	}

	transcript, err := p.stt.Transcribe(ctx, pcm, "")
	if err != nil {
		p.deps.Store.SendText(sessionID, "Transcription failed, please try again.")
		return fmt.Errorf("pipeline: transcription failed: %w", err)
	}
	processingDuration := time.Since(processingStart)

	p.deps.Store.SendText(sessionID, "<b>User query:</b> "+transcript)

	if p.deps.Store.Get(sessionID) == nil {
		return fmt.Errorf("pipeline: session %s not found", sessionID)
	}
	p.deps.Store.With(sessionID, func(s *session.Session) {
		s.FlatVoiceDuration = voiceDuration
		s.FlatProcessingDuration = processingDuration
	})

	if err := agent.SendText(ctx, transcript); err != nil {
		return fmt.Errorf("pipeline: failed to forward transcript to agent: %w", err)
	}
	return nil
}

// Run drives the synthesize/playback/heartbeat loops for a push-to-talk
// session; there is no ingest loop, since uploads arrive out-of-band via
// SubmitUpload over the HTTP upload endpoint rather than the bidirectional
// channel.
func (p *PushToTalk) Run(ctx context.Context, sessionID string, agent Agent, texts TextSource) error {
	return runSupervised(ctx, agent,
		synthesizeLoop(sessionID, agent, p.deps),
		playbackLoop(sessionID, p.deps),
		heartbeatLoop(sessionID, texts, p.deps),
	)
}

// parseWav reads a minimal RIFF/WAVE header (as produced by
// pkg/audio.NewWavBuffer or any standard mono 16-bit encoder) and
// returns its sample rate and raw PCM payload.
func parseWav(data []byte) (sampleRate int, pcm []byte, err error) {
	if len(data) < 44 {
		return 0, nil, errors.New("too short to be a WAV file")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, nil, errors.New("missing RIFF/WAVE header")
	}

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, nil, errors.New("truncated fmt chunk")
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			if body+chunkSize > len(data) {
				chunkSize = len(data) - body
			}
			pcm = data[body : body+chunkSize]
		}

		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if sampleRate == 0 {
		return 0, nil, errors.New("missing fmt chunk")
	}
	return sampleRate, pcm, nil
}
