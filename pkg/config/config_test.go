package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vango-go/vai-journal/pkg/core/live/audio"
	"github.com/vango-go/vai-journal/pkg/core/live/transport"
)

var journalEnvKeys = []string{
	KeyAPIKey,
	KeyLiveModel,
	KeyInsightModel,
	KeyVoice,
	KeySpreadsheetID,
	KeyOAuthClientID,
	KeyOAuthClientSecret,
	KeyTokenPath,
	KeyTransport,
	KeyWebSocketURL,
	KeyInputSampleRate,
	KeyOutputSampleRate,
	KeyFrameSize,
	KeyMicBackend,
	KeyRecordDir,
	KeyLogLevel,
	KeySystemInstruction,
}

func clearJournalEnv(t *testing.T) {
	t.Helper()
	for _, key := range journalEnvKeys {
		t.Setenv(envName(key), "")
	}
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearJournalEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LiveModel != DefaultLiveModel {
		t.Fatalf("LiveModel = %q, want %q", cfg.LiveModel, DefaultLiveModel)
	}
	if cfg.Transport != transport.KindGenAI {
		t.Fatalf("Transport = %q, want genai", cfg.Transport)
	}
	if cfg.InputSampleRate != audio.InputSampleRate || cfg.OutputSampleRate != audio.OutputSampleRate {
		t.Fatalf("sample rates = %d/%d", cfg.InputSampleRate, cfg.OutputSampleRate)
	}
	if cfg.FrameSize != audio.DefaultFrameSize {
		t.Fatalf("FrameSize = %d", cfg.FrameSize)
	}
	if !strings.Contains(cfg.SystemInstruction, "findEntries") {
		t.Fatalf("default system instruction missing tool guidance")
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("SlogLevel = %v", cfg.SlogLevel())
	}
	if cfg.File != "" {
		t.Fatalf("File = %q, want none", cfg.File)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearJournalEnv(t)
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("VAI_JOURNAL_LIVE_MODEL", "gemini-custom-live")
	t.Setenv("VAI_JOURNAL_TRANSPORT", "WebSocket")
	t.Setenv("VAI_JOURNAL_FRAME_SIZE", "2048")
	t.Setenv("VAI_JOURNAL_LOG_LEVEL", "debug")
	t.Setenv("VAI_JOURNAL_SPREADSHEET_ID", "sheet-123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "gem-key" {
		t.Fatalf("APIKey = %q", cfg.APIKey)
	}
	if cfg.LiveModel != "gemini-custom-live" {
		t.Fatalf("LiveModel = %q", cfg.LiveModel)
	}
	if cfg.Transport != transport.KindWebSocket {
		t.Fatalf("Transport = %q", cfg.Transport)
	}
	if cfg.FrameSize != 2048 {
		t.Fatalf("FrameSize = %d", cfg.FrameSize)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("SlogLevel = %v", cfg.SlogLevel())
	}
	if got := cfg.Live(); got.Model != "gemini-custom-live" || got.FrameSize != 2048 {
		t.Fatalf("Live() = %+v", got)
	}
}

func TestLoad_PrefixedKeyWinsOverGeminiKey(t *testing.T) {
	clearJournalEnv(t)
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("VAI_JOURNAL_API_KEY", "journal-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "journal-key" {
		t.Fatalf("APIKey = %q, want journal-key", cfg.APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	clearJournalEnv(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	body := `
voice = "Puck"
spreadsheet_id = "from-file"
record_dir = "/tmp/rec"
oauth_client_id = "cid"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VAI_JOURNAL_SPREADSHEET_ID", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Voice != "Puck" || cfg.RecordDir != "/tmp/rec" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SpreadsheetID != "from-env" {
		t.Fatalf("SpreadsheetID = %q, env must override the file", cfg.SpreadsheetID)
	}
	if cfg.OAuth().ClientID != "cid" {
		t.Fatalf("OAuth().ClientID = %q", cfg.OAuth().ClientID)
	}
	if cfg.File != path {
		t.Fatalf("File = %q, want %q", cfg.File, path)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearJournalEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "frame size", key: KeyFrameSize, val: "0", want: "VAI_JOURNAL_FRAME_SIZE must be > 0"},
		{name: "input rate", key: KeyInputSampleRate, val: "-1", want: "VAI_JOURNAL_INPUT_SAMPLE_RATE must be > 0"},
		{name: "output rate", key: KeyOutputSampleRate, val: "0", want: "VAI_JOURNAL_OUTPUT_SAMPLE_RATE must be > 0"},
		{name: "transport", key: KeyTransport, val: "grpc", want: "VAI_JOURNAL_TRANSPORT must be one of genai|websocket"},
		{name: "log level", key: KeyLogLevel, val: "loud", want: "VAI_JOURNAL_LOG_LEVEL must be one of"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearJournalEnv(t)
			t.Setenv(envName(tc.key), tc.val)
			_, err := Load("")
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}
