package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/mattn/go-shellwords"
)

// ExecEngine runs a local recognizer binary (for example a whisper.cpp CLI)
// once per chunk against a temporary WAV file.
type ExecEngine struct {
	cmd        []string
	cfg        config.STTConfig
	sampleRate int
	log        *slog.Logger
	mu         sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

func NewExecEngine(cfg config.STTConfig, sampleRate int, log *slog.Logger) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &ExecEngine{
		cmd:        args,
		cfg:        cfg,
		sampleRate: sampleRate,
		log:        log.With(slog.String("component", "stt_exec")),
	}, nil
}

func (e *ExecEngine) Prepare(context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	if e.cfg.ModelPath != "" {
		if _, err := os.Stat(e.cfg.ModelPath); err != nil {
			return fmt.Errorf("%w: model: %v", ErrEngineNotReady, err)
		}
	}
	return nil
}

func (e *ExecEngine) Describe() (string, string) {
	return "exec:" + e.cmd[0], e.cfg.ModelPath
}

func (e *ExecEngine) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "loqa_dictate_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, audio.FromFloat32(samples), e.sampleRate, 1); err != nil {
		return "", err
	}

	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if e.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", e.cfg.ModelPath)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	started := time.Now()
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	e.log.Debug("stt command finished", slog.Duration("elapsed", time.Since(started)), slog.Int("samples", len(samples)))
	return parseExecOutput(stdout.Bytes())
}

// parseExecOutput accepts either a JSON object with a text field or plain text.
func parseExecOutput(out []byte) (string, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return "", nil
	}
	if trimmed[0] != '{' {
		return string(trimmed), nil
	}
	var resp execResult
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return resp.Text, nil
}
