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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FrameDurationMS int `yaml:"frame_duration_ms"`
}

type EngineConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, native
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	BeamSize  int    `yaml:"beam_size"`
	Threads   int    `yaml:"threads"`
}

type StreamingConfig struct {
	ChunkIntervalMS    int    `yaml:"chunk_interval_ms"`
	BufferDurationMS   int    `yaml:"buffer_duration_ms"`
	MinAudioMS         int    `yaml:"min_audio_ms"`
	AgreementThreshold int    `yaml:"agreement_threshold"`
	Corrections        bool   `yaml:"corrections"`
	DumpDir            string `yaml:"dump_dir"`
}

type OutputConfig struct {
	Mode          string `yaml:"mode"` // exec, null
	TypeCommand   string `yaml:"type_command"`
	DeleteCommand string `yaml:"delete_command"`
	TrailingSpace bool   `yaml:"trailing_space"`
}

type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	StartCue string `yaml:"start_cue"`
	StopCue  string `yaml:"stop_cue"`
}

type SessionStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Audio        AudioConfig        `yaml:"audio"`
	Engine       EngineConfig       `yaml:"engine"`
	Streaming    StreamingConfig    `yaml:"streaming"`
	Output       OutputConfig       `yaml:"output"`
	Notify       NotifyConfig       `yaml:"notify"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
}

func Default() Config {
	return Config{
		RuntimeName: "talkatype",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8732,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 100,
		},
		Engine: EngineConfig{
			Mode:     "mock",
			BeamSize: 5,
		},
		Streaming: StreamingConfig{
			ChunkIntervalMS:    1000,
			BufferDurationMS:   5000,
			MinAudioMS:         500,
			AgreementThreshold: 2,
			Corrections:        true,
		},
		Output: OutputConfig{
			Mode:          "null",
			TrailingSpace: true,
		},
		Notify: NotifyConfig{
			Enabled: false,
		},
		SessionStore: SessionStoreConfig{
			Path:          "./data/talkatype-sessions.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "TALKATYPE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "TALKATYPE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TALKATYPE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TALKATYPE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TALKATYPE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TALKATYPE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TALKATYPE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "TALKATYPE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "TALKATYPE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "TALKATYPE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "TALKATYPE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TALKATYPE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TALKATYPE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TALKATYPE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TALKATYPE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TALKATYPE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "TALKATYPE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "TALKATYPE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "TALKATYPE_AUDIO_FRAME_DURATION_MS")
	overrideString(&cfg.Engine.Mode, "TALKATYPE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "TALKATYPE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "TALKATYPE_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "TALKATYPE_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.BeamSize, "TALKATYPE_ENGINE_BEAM_SIZE")
	overrideInt(&cfg.Engine.Threads, "TALKATYPE_ENGINE_THREADS")
	overrideInt(&cfg.Streaming.ChunkIntervalMS, "TALKATYPE_STREAMING_CHUNK_INTERVAL_MS")
	overrideInt(&cfg.Streaming.BufferDurationMS, "TALKATYPE_STREAMING_BUFFER_DURATION_MS")
	overrideInt(&cfg.Streaming.MinAudioMS, "TALKATYPE_STREAMING_MIN_AUDIO_MS")
	overrideInt(&cfg.Streaming.AgreementThreshold, "TALKATYPE_STREAMING_AGREEMENT_THRESHOLD")
	overrideBool(&cfg.Streaming.Corrections, "TALKATYPE_STREAMING_CORRECTIONS")
	overrideString(&cfg.Streaming.DumpDir, "TALKATYPE_STREAMING_DUMP_DIR")
	overrideString(&cfg.Output.Mode, "TALKATYPE_OUTPUT_MODE")
	overrideString(&cfg.Output.TypeCommand, "TALKATYPE_OUTPUT_TYPE_COMMAND")
	overrideString(&cfg.Output.DeleteCommand, "TALKATYPE_OUTPUT_DELETE_COMMAND")
	overrideBool(&cfg.Output.TrailingSpace, "TALKATYPE_OUTPUT_TRAILING_SPACE")
	overrideBool(&cfg.Notify.Enabled, "TALKATYPE_NOTIFY_ENABLED")
	overrideString(&cfg.Notify.StartCue, "TALKATYPE_NOTIFY_START_CUE")
	overrideString(&cfg.Notify.StopCue, "TALKATYPE_NOTIFY_STOP_CUE")
	overrideString(&cfg.SessionStore.Path, "TALKATYPE_SESSION_STORE_PATH")
	overrideString(&cfg.SessionStore.RetentionMode, "TALKATYPE_SESSION_STORE_RETENTION_MODE")
	overrideInt(&cfg.SessionStore.RetentionDays, "TALKATYPE_SESSION_STORE_RETENTION_DAYS")
	overrideInt(&cfg.SessionStore.MaxSessions, "TALKATYPE_SESSION_STORE_MAX_SESSIONS")
	overrideBool(&cfg.SessionStore.VacuumOnStart, "TALKATYPE_SESSION_STORE_VACUUM_ON_START")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono)")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec", "native":
	default:
		return errors.New("engine.mode must be one of mock|exec|native")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.Mode == "native" && cfg.Engine.ModelPath == "" {
		return errors.New("engine.model_path must be set when mode=native")
	}
	if cfg.Streaming.ChunkIntervalMS <= 0 {
		return errors.New("streaming.chunk_interval_ms must be positive")
	}
	if cfg.Streaming.BufferDurationMS <= 0 {
		return errors.New("streaming.buffer_duration_ms must be positive")
	}
	if cfg.Streaming.MinAudioMS < 0 {
		return errors.New("streaming.min_audio_ms must be >= 0")
	}
	if cfg.Streaming.AgreementThreshold < 1 {
		return errors.New("streaming.agreement_threshold must be >= 1")
	}
	switch cfg.Output.Mode {
	case "exec", "null":
	default:
		return errors.New("output.mode must be one of exec|null")
	}
	if cfg.Output.Mode == "exec" && cfg.Output.TypeCommand == "" {
		return errors.New("output.type_command must be set when mode=exec")
	}
	if cfg.Notify.Enabled && cfg.Notify.StartCue == "" && cfg.Notify.StopCue == "" {
		return errors.New("notify requires at least one cue file when enabled")
	}
	if cfg.SessionStore.Path == "" {
		return errors.New("session_store.path must not be empty")
	}
	switch cfg.SessionStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("session_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.SessionStore.RetentionDays < 0 {
		return errors.New("session_store.retention_days must be >= 0")
	}
	return nil
}
