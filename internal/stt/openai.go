package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIEngine posts each chunk to an OpenAI-compatible
// /v1/audio/transcriptions endpoint. Self-hosted servers such as
// faster-whisper-server work through stt.endpoint.
type OpenAIEngine struct {
	client     openai.Client
	model      string
	sampleRate int
}

func NewOpenAIEngine(cfg config.STTConfig, sampleRate int) *OpenAIEngine {
	opts := []option.RequestOption{option.WithMaxRetries(1)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	return &OpenAIEngine{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		sampleRate: sampleRate,
	}
}

func (e *OpenAIEngine) Describe() (string, string) { return "openai", e.model }

func (e *OpenAIEngine) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	wav, err := audio.EncodeWAV(samples, e.sampleRate)
	if err != nil {
		return "", err
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "chunk.wav", "audio/wav"),
		Model: openai.AudioModel(e.model),
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}
