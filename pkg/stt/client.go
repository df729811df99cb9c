// Package stt implements the Transcriber Client (C3): a thin wrapper
// around a Whisper-compatible transcription endpoint. It replaces the
// teacher's hand-rolled multipart HTTP client (pkg/providers/stt) with
// github.com/sashabaranov/go-openai, grounded on the same library's use
// in lookatitude-beluga-ai's llms/openai package.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/voicegate/pkg/audio"
)

// ErrEmptyTranscription is returned when the provider responds with an
// empty transcript for non-empty audio.
var ErrEmptyTranscription = errors.New("stt: empty transcription")

// Client transcribes 16-bit mono PCM audio via a Whisper-compatible REST
// endpoint.
type Client struct {
	oai        *openai.Client
	model      string
	sampleRate int
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default whisper-1 model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithSampleRate overrides the PCM sample rate assumed when WAV-wrapping
// audio before upload (default 16000, matching the pipeline's post-VAD
// buffer rate).
func WithSampleRate(rate int) Option {
	return func(c *Client) { c.sampleRate = rate }
}

// New constructs a Client against the standard OpenAI endpoint.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		oai:        openai.NewClient(apiKey),
		model:      openai.Whisper1,
		sampleRate: 16000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewWithBaseURL constructs a Client against an OpenAI-compatible
// endpoint (e.g. Groq's Whisper-compatible transcription API).
func NewWithBaseURL(apiKey, baseURL string, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	c := &Client{
		oai:        openai.NewClientWithConfig(cfg),
		model:      openai.Whisper1,
		sampleRate: 16000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe WAV-wraps pcm and sends it to the configured endpoint,
// returning the provider's transcript text. lang is an optional ISO
// 639-1 hint ("" lets the provider auto-detect).
func (c *Client) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	wav := audio.NewWavBuffer(pcm, c.sampleRate)

	req := openai.AudioRequest{
		Model:    c.model,
		Reader:   bytes.NewReader(wav),
		FilePath: "audio.wav",
		Language: lang,
		Format:   openai.AudioResponseFormatJSON,
	}

	resp, err := c.oai.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("stt: transcription request failed: %w", err)
	}
	if resp.Text == "" {
		return "", ErrEmptyTranscription
	}
	return resp.Text, nil
}
