package stt

import (
	"context"
	"fmt"
)

type MockEngine struct{}

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) Transcribe(_ context.Context, samples []float32, language string) (string, error) {
	if language == "" {
		language = "auto"
	}
	return fmt.Sprintf("[transcript samples=%d lang=%s]", len(samples), language), nil
}

func (m *MockEngine) Describe() (string, string) { return "mock", "" }
