package realtime

import (
	"encoding/base64"
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{APIKey: "k"}.withDefaults()
	if cfg.Model == "" || cfg.Voice == "" || cfg.Temperature == 0 {
		t.Fatalf("expected defaults to be filled in, got %+v", cfg)
	}
}

func TestDispatchAudioDeltaStripsPreamble(t *testing.T) {
	a := &Agent{}
	pcm := make([]byte, audioResponsePreambleBytes+20)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	raw := rawEvent{Type: "response.audio.delta", Delta: base64.StdEncoding.EncodeToString(pcm)}

	ev := a.dispatch(raw)
	if ev.Type != EventAudioDelta {
		t.Fatalf("expected EventAudioDelta, got %v", ev.Type)
	}
	if !a.IsGenerating() {
		t.Error("expected generating flag to be set")
	}
	// WAV header is 44 bytes; payload should be the 20 trailing bytes.
	if len(ev.Audio) != 44+20 {
		t.Fatalf("expected wav-wrapped payload of 64 bytes, got %d", len(ev.Audio))
	}
}

func TestDispatchShortAudioDeltaYieldsEmptyPayload(t *testing.T) {
	a := &Agent{}
	short := base64.StdEncoding.EncodeToString(make([]byte, 50))
	raw := rawEvent{Type: "response.audio.delta", Delta: short}

	ev := a.dispatch(raw)
	if len(ev.Audio) != 44 {
		t.Fatalf("expected bare wav header (44 bytes) for undersized delta, got %d", len(ev.Audio))
	}
}

func TestDispatchResponseDoneClearsGenerating(t *testing.T) {
	a := &Agent{generating: true}
	ev := a.dispatch(rawEvent{Type: "response.done"})
	if ev.Type != EventResponseDone {
		t.Fatalf("expected EventResponseDone, got %v", ev.Type)
	}
	if a.IsGenerating() {
		t.Error("expected generating flag to clear on response.done")
	}
}

func TestDispatchResponseDoneCarriesUsage(t *testing.T) {
	a := &Agent{}
	raw := rawEvent{Type: "response.done"}
	raw.Response = &struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}{}
	raw.Response.Usage = &struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	}{InputTokens: 5, OutputTokens: 7, TotalTokens: 12}

	ev := a.dispatch(raw)
	if ev.Usage.TotalTokens != 12 {
		t.Fatalf("expected total tokens 12, got %d", ev.Usage.TotalTokens)
	}
}

func TestDispatchError(t *testing.T) {
	a := &Agent{}
	raw := rawEvent{Type: "error"}
	raw.Error = &struct {
		Message string `json:"message"`
	}{Message: "rate limited"}

	ev := a.dispatch(raw)
	if ev.Type != EventError || ev.Err == nil {
		t.Fatalf("expected EventError with non-nil Err, got %+v", ev)
	}
}

func TestDispatchUnrecognisedTypePassesThrough(t *testing.T) {
	a := &Agent{}
	ev := a.dispatch(rawEvent{Type: "session.created"})
	if ev.Type != EventType("session.created") {
		t.Fatalf("expected pass-through event type, got %v", ev.Type)
	}
	if ev.Err != nil {
		t.Error("expected no error for pass-through events")
	}
}
