package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Hotkey      string           `yaml:"hotkey"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	Chunk       ChunkConfig      `yaml:"chunk"`
	STT         STTConfig        `yaml:"stt"`
	Output      OutputConfig     `yaml:"output"`
	Notify      NotifyConfig     `yaml:"notify"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig describes the capture stream. Only mono 16 kHz input is supported.
type AudioConfig struct {
	Source     string `yaml:"source"` // portaudio, wav
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BlockMS    int    `yaml:"block_ms"`
	WAVPath    string `yaml:"wav_path"`
	Realtime   bool   `yaml:"realtime"`
}

type VADConfig struct {
	Enable         bool `yaml:"enable"`
	Aggressiveness int  `yaml:"aggressiveness"`
	MinSpeechMS    int  `yaml:"min_speech_ms"`
	MaxSilenceMS   int  `yaml:"max_silence_ms"`
	TrailingPadMS  int  `yaml:"trailing_pad_ms"`
	MaxUtteranceMS int  `yaml:"max_utterance_ms"`
}

type ChunkConfig struct {
	Seconds    float64 `yaml:"seconds"`
	Overlap    float64 `yaml:"overlap"`
	Strategy   string  `yaml:"strategy"` // vad, both, continuous
	QueueDepth int     `yaml:"queue_depth"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, openai
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
	PollMS    int    `yaml:"poll_ms"`
}

type OutputConfig struct {
	InsertMode     string `yaml:"insert_mode"` // type, clipboard, none
	Punctuate      bool   `yaml:"punctuate"`
	Delimiter      string `yaml:"delimiter"`
	LogTranscripts bool   `yaml:"log_transcripts"`
	QueueDepth     int    `yaml:"queue_depth"`
	PasteDelayMS   int    `yaml:"paste_delay_ms"`
}

type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	AppName string `yaml:"app_name"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		Hotkey:      "ctrl+shift+space",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: "127.0.0.1:9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-dictate.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Audio: AudioConfig{
			Source:     "portaudio",
			SampleRate: 16000,
			Channels:   1,
			BlockMS:    20,
			Realtime:   true,
		},
		VAD: VADConfig{
			Enable:         true,
			Aggressiveness: 2,
			MinSpeechMS:    300,
			MaxSilenceMS:   800,
			MaxUtteranceMS: 30000,
		},
		Chunk: ChunkConfig{
			Seconds:    0.8,
			Overlap:    0.2,
			Strategy:   "vad",
			QueueDepth: 64,
		},
		STT: STTConfig{
			Mode:      "mock",
			Model:     "whisper-1",
			Language:  "auto",
			TimeoutMS: 30000,
			PollMS:    100,
		},
		Output: OutputConfig{
			InsertMode:   "type",
			Punctuate:    true,
			Delimiter:    " ",
			QueueDepth:   256,
			PasteDelayMS: 80,
		},
		Notify: NotifyConfig{
			Enabled: false,
			AppName: "loqa-dictate",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LanguageHint returns the configured language, or "" when detection is automatic.
func (c STTConfig) LanguageHint() string {
	lang := strings.TrimSpace(c.Language)
	if strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// FrameSamples is the number of samples in one capture block.
func (c AudioConfig) FrameSamples() int {
	return c.SampleRate * c.BlockMS / 1000
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_DICTATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_DICTATE_ENVIRONMENT")
	overrideString(&cfg.Hotkey, "LOQA_DICTATE_HOTKEY")
	overrideString(&cfg.HTTP.Bind, "LOQA_DICTATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_DICTATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_DICTATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_DICTATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_DICTATE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_DICTATE_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_DICTATE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_DICTATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_DICTATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_DICTATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_DICTATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_DICTATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_DICTATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_DICTATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_DICTATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_DICTATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_DICTATE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_DICTATE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_DICTATE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_DICTATE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_DICTATE_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.Source, "LOQA_DICTATE_AUDIO_SOURCE")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_DICTATE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_DICTATE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BlockMS, "LOQA_DICTATE_AUDIO_BLOCK_MS")
	overrideString(&cfg.Audio.WAVPath, "LOQA_DICTATE_AUDIO_WAV_PATH")
	overrideBool(&cfg.Audio.Realtime, "LOQA_DICTATE_AUDIO_REALTIME")
	overrideBool(&cfg.VAD.Enable, "LOQA_DICTATE_VAD_ENABLE")
	overrideInt(&cfg.VAD.Aggressiveness, "LOQA_DICTATE_VAD_AGGRESSIVENESS")
	overrideInt(&cfg.VAD.MinSpeechMS, "LOQA_DICTATE_VAD_MIN_SPEECH_MS")
	overrideInt(&cfg.VAD.MaxSilenceMS, "LOQA_DICTATE_VAD_MAX_SILENCE_MS")
	overrideInt(&cfg.VAD.TrailingPadMS, "LOQA_DICTATE_VAD_TRAILING_PAD_MS")
	overrideInt(&cfg.VAD.MaxUtteranceMS, "LOQA_DICTATE_VAD_MAX_UTTERANCE_MS")
	overrideFloat(&cfg.Chunk.Seconds, "LOQA_DICTATE_CHUNK_SECONDS")
	overrideFloat(&cfg.Chunk.Overlap, "LOQA_DICTATE_CHUNK_OVERLAP")
	overrideString(&cfg.Chunk.Strategy, "LOQA_DICTATE_CHUNK_STRATEGY")
	overrideInt(&cfg.Chunk.QueueDepth, "LOQA_DICTATE_CHUNK_QUEUE_DEPTH")
	overrideString(&cfg.STT.Mode, "LOQA_DICTATE_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_DICTATE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_DICTATE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Endpoint, "LOQA_DICTATE_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_DICTATE_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_DICTATE_STT_MODEL")
	overrideString(&cfg.STT.Language, "LOQA_DICTATE_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_DICTATE_STT_TIMEOUT_MS")
	overrideInt(&cfg.STT.PollMS, "LOQA_DICTATE_STT_POLL_MS")
	overrideString(&cfg.Output.InsertMode, "LOQA_DICTATE_OUTPUT_INSERT_MODE")
	overrideBool(&cfg.Output.Punctuate, "LOQA_DICTATE_OUTPUT_PUNCTUATE")
	overrideString(&cfg.Output.Delimiter, "LOQA_DICTATE_OUTPUT_DELIMITER")
	overrideBool(&cfg.Output.LogTranscripts, "LOQA_DICTATE_OUTPUT_LOG_TRANSCRIPTS")
	overrideInt(&cfg.Output.QueueDepth, "LOQA_DICTATE_OUTPUT_QUEUE_DEPTH")
	overrideInt(&cfg.Output.PasteDelayMS, "LOQA_DICTATE_OUTPUT_PASTE_DELAY_MS")
	overrideBool(&cfg.Notify.Enabled, "LOQA_DICTATE_NOTIFY_ENABLED")
	overrideString(&cfg.Notify.AppName, "LOQA_DICTATE_NOTIFY_APP_NAME")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Output.LogTranscripts {
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty when output.log_transcripts is enabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}

	switch cfg.Audio.Source {
	case "portaudio":
	case "wav":
		if cfg.Audio.WAVPath == "" {
			return errors.New("audio.wav_path must be set when source=wav")
		}
	default:
		return errors.New("audio.source must be one of portaudio|wav")
	}
	if cfg.Audio.SampleRate != 16000 {
		return errors.New("audio.sample_rate must be 16000")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	switch cfg.Audio.BlockMS {
	case 10, 20, 30:
	default:
		return errors.New("audio.block_ms must be one of 10|20|30")
	}

	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		return errors.New("vad.aggressiveness must be between 0 and 3")
	}
	if cfg.VAD.MinSpeechMS < 0 || cfg.VAD.MaxSilenceMS <= 0 {
		return errors.New("vad.min_speech_ms must be >= 0 and vad.max_silence_ms must be positive")
	}
	if cfg.VAD.TrailingPadMS < 0 {
		return errors.New("vad.trailing_pad_ms must be >= 0")
	}
	if cfg.VAD.MaxUtteranceMS <= 0 {
		return errors.New("vad.max_utterance_ms must be positive")
	}

	if cfg.Chunk.Seconds <= 0 {
		return errors.New("chunk.seconds must be positive")
	}
	if cfg.Chunk.Overlap < 0 || cfg.Chunk.Overlap >= cfg.Chunk.Seconds {
		return errors.New("chunk.overlap must be >= 0 and less than chunk.seconds")
	}
	switch cfg.Chunk.Strategy {
	case "vad", "both", "continuous":
	default:
		return errors.New("chunk.strategy must be one of vad|both|continuous")
	}
	if cfg.Chunk.QueueDepth <= 0 {
		return errors.New("chunk.queue_depth must be >= 1")
	}

	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "openai":
		if cfg.STT.Model == "" {
			return errors.New("stt.model must be set when mode=openai")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|openai")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if cfg.STT.PollMS <= 0 {
		return errors.New("stt.poll_ms must be positive")
	}

	switch cfg.Output.InsertMode {
	case "type", "clipboard", "none":
	default:
		return errors.New("output.insert_mode must be one of type|clipboard|none")
	}
	if cfg.Output.QueueDepth <= 0 {
		return errors.New("output.queue_depth must be >= 1")
	}
	if cfg.Output.PasteDelayMS < 0 {
		return errors.New("output.paste_delay_ms must be >= 0")
	}
	return nil
}
