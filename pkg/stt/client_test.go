package stt

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeTransport struct {
	status int
	body   string
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(bytes.NewBufferString(f.body)),
		Header:     make(http.Header),
	}, nil
}

func newTestClient(status int, body string) *Client {
	cfg := openai.DefaultConfig("test-key")
	cfg.HTTPClient = &http.Client{Transport: &fakeTransport{status: status, body: body}}
	return &Client{
		oai:        openai.NewClientWithConfig(cfg),
		model:      openai.Whisper1,
		sampleRate: 16000,
	}
}

func TestTranscribeReturnsText(t *testing.T) {
	c := newTestClient(200, `{"text":"hello world"}`)

	got, err := c.Transcribe(context.Background(), make([]byte, 320), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestTranscribeEmptyTextIsError(t *testing.T) {
	c := newTestClient(200, `{"text":""}`)

	_, err := c.Transcribe(context.Background(), make([]byte, 320), "")
	if err != ErrEmptyTranscription {
		t.Fatalf("got err %v, want ErrEmptyTranscription", err)
	}
}

func TestTranscribeProviderErrorIsWrapped(t *testing.T) {
	c := newTestClient(500, `{"error":{"message":"boom"}}`)

	_, err := c.Transcribe(context.Background(), make([]byte, 320), "")
	if err == nil {
		t.Fatal("expected an error")
	}
}
