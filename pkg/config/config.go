// Package config loads vai-journal settings from an optional TOML file, a
// .env file and the environment. Environment variables use the VAI_JOURNAL_
// prefix; GEMINI_API_KEY is also honoured for the API key.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vango-go/vai-journal/pkg/auth"
	"github.com/vango-go/vai-journal/pkg/core/live"
	"github.com/vango-go/vai-journal/pkg/core/live/audio"
	"github.com/vango-go/vai-journal/pkg/core/live/transport"
	"github.com/vango-go/vai-journal/pkg/insight"
)

const (
	// EnvPrefix is prepended to every setting name when read from the
	// environment.
	EnvPrefix = "VAI_JOURNAL"

	// FileName is the config file looked up when no explicit path is given.
	FileName = "vai-journal.toml"

	DefaultLiveModel = "gemini-live-2.5-flash-preview"
)

// Setting keys. The environment name is EnvPrefix + "_" + upper(key).
const (
	KeyAPIKey            = "api_key"
	KeyLiveModel         = "live_model"
	KeyInsightModel      = "insight_model"
	KeyVoice             = "voice"
	KeySpreadsheetID     = "spreadsheet_id"
	KeyOAuthClientID     = "oauth_client_id"
	KeyOAuthClientSecret = "oauth_client_secret"
	KeyTokenPath         = "token_path"
	KeyTransport         = "transport"
	KeyWebSocketURL      = "websocket_url"
	KeyInputSampleRate   = "input_sample_rate"
	KeyOutputSampleRate  = "output_sample_rate"
	KeyFrameSize         = "frame_size"
	KeyMicBackend        = "mic_backend"
	KeyRecordDir         = "record_dir"
	KeyLogLevel          = "log_level"
	KeySystemInstruction = "system_instruction"
)

type Config struct {
	APIKey       string
	LiveModel    string
	InsightModel string
	Voice        string

	SpreadsheetID string

	// Google OAuth client used for the Sheets journal.
	OAuthClientID     string
	OAuthClientSecret string
	TokenPath         string

	// Transport selects the live channel implementation: genai or websocket.
	Transport    string
	WebSocketURL string

	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int
	MicBackend       string
	RecordDir        string

	LogLevel          string
	SystemInstruction string

	// File is the config file that was read, or "".
	File string
}

// DefaultDir is the directory searched for FileName.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "vai-journal"
	}
	return filepath.Join(dir, "vai-journal")
}

// Load reads settings. An explicit path must exist; otherwise FileName is
// looked up in DefaultDir and the working directory and may be absent. A
// .env file in the working directory is loaded first and never overrides
// variables that are already set.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyAPIKey, EnvPrefix+"_API_KEY", "GEMINI_API_KEY"); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		APIKey:            strings.TrimSpace(v.GetString(KeyAPIKey)),
		LiveModel:         strings.TrimSpace(v.GetString(KeyLiveModel)),
		InsightModel:      strings.TrimSpace(v.GetString(KeyInsightModel)),
		Voice:             strings.TrimSpace(v.GetString(KeyVoice)),
		SpreadsheetID:     strings.TrimSpace(v.GetString(KeySpreadsheetID)),
		OAuthClientID:     strings.TrimSpace(v.GetString(KeyOAuthClientID)),
		OAuthClientSecret: strings.TrimSpace(v.GetString(KeyOAuthClientSecret)),
		TokenPath:         strings.TrimSpace(v.GetString(KeyTokenPath)),
		Transport:         strings.ToLower(strings.TrimSpace(v.GetString(KeyTransport))),
		WebSocketURL:      strings.TrimSpace(v.GetString(KeyWebSocketURL)),
		InputSampleRate:   v.GetInt(KeyInputSampleRate),
		OutputSampleRate:  v.GetInt(KeyOutputSampleRate),
		FrameSize:         v.GetInt(KeyFrameSize),
		MicBackend:        strings.TrimSpace(v.GetString(KeyMicBackend)),
		RecordDir:         strings.TrimSpace(v.GetString(KeyRecordDir)),
		LogLevel:          strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		SystemInstruction: v.GetString(KeySystemInstruction),
		File:              v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyAPIKey, "")
	v.SetDefault(KeyLiveModel, DefaultLiveModel)
	v.SetDefault(KeyInsightModel, insight.DefaultModel)
	v.SetDefault(KeyVoice, "")
	v.SetDefault(KeySpreadsheetID, "")
	v.SetDefault(KeyOAuthClientID, "")
	v.SetDefault(KeyOAuthClientSecret, "")
	v.SetDefault(KeyTokenPath, auth.DefaultTokenFilePath())
	v.SetDefault(KeyTransport, transport.KindGenAI)
	v.SetDefault(KeyWebSocketURL, transport.DefaultEndpoint)
	v.SetDefault(KeyInputSampleRate, audio.InputSampleRate)
	v.SetDefault(KeyOutputSampleRate, audio.OutputSampleRate)
	v.SetDefault(KeyFrameSize, audio.DefaultFrameSize)
	v.SetDefault(KeyMicBackend, "malgo")
	v.SetDefault(KeyRecordDir, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeySystemInstruction, live.DefaultSystemInstruction)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.LiveModel == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", envName(KeyLiveModel)))
	}
	switch c.Transport {
	case transport.KindGenAI, transport.KindWebSocket:
	default:
		errs = append(errs, fmt.Errorf("%s must be one of genai|websocket", envName(KeyTransport)))
	}
	if c.Transport == transport.KindWebSocket && c.WebSocketURL == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty when %s=websocket", envName(KeyWebSocketURL), envName(KeyTransport)))
	}
	if c.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0", envName(KeyInputSampleRate)))
	}
	if c.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0", envName(KeyOutputSampleRate)))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0", envName(KeyFrameSize)))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%s must be one of debug|info|warn|error", envName(KeyLogLevel)))
	}
	return errors.Join(errs...)
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Live returns the session settings.
func (c Config) Live() live.Config {
	return live.Config{
		Model:             c.LiveModel,
		Voice:             c.Voice,
		SystemInstruction: c.SystemInstruction,
		InputSampleRate:   c.InputSampleRate,
		FrameSize:         c.FrameSize,
		RecordDir:         c.RecordDir,
	}
}

// OAuth returns the Google OAuth client settings.
func (c Config) OAuth() auth.Config {
	return auth.Config{ClientID: c.OAuthClientID, ClientSecret: c.OAuthClientSecret}
}
