package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/chunkscribe/internal/llm"
)

// EnvPrefix is the namespace prefix for all chunkscribe environment variables.
const EnvPrefix = "CHUNKSCRIBE_"

const (
	CaptureBackendPortAudio = "portaudio"
	CaptureBackendDeepgram  = "deepgram"

	ResultsBackendSQLite = "sqlite"
	ResultsBackendRedis  = "redis"
)

// Config holds the settings of both binaries. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Recording client.
	ListenAddr      string `yaml:"listen_addr"`
	JobAPIURL       string `yaml:"job_api_url"`
	PollInterval    string `yaml:"poll_interval"`
	RequestTimeout  string `yaml:"request_timeout"`
	AutoUpload      bool   `yaml:"auto_upload"`
	SegmentDuration string `yaml:"segment_duration"`
	BlobDir         string `yaml:"blob_dir"`
	StaticDir       string `yaml:"static_dir"`
	CaptureBackend  string `yaml:"capture_backend"`
	MicSampleRate   int    `yaml:"mic_sample_rate"`
	MicSampleRates  []int  `yaml:"mic_sample_rates"`

	// Job server.
	JobsListenAddr        string   `yaml:"jobs_listen_addr"`
	Workers               int      `yaml:"workers"`
	ResultsBackend        string   `yaml:"results_backend"`
	ResultsDBPath         string   `yaml:"results_db_path"`
	ResultsTTL            string   `yaml:"results_ttl"`
	RedisAddr             string   `yaml:"redis_addr"`
	RedisDB               int      `yaml:"redis_db"`
	GCSBucket             string   `yaml:"gcs_bucket"`
	GoogleCredentialsFile string   `yaml:"google_credentials_file"`
	UploadDir             string   `yaml:"upload_dir"`
	STTModel              string   `yaml:"stt_model"`
	STTLanguage           string   `yaml:"stt_language"`
	SummaryModel          string   `yaml:"summary_model"`
	SummaryPrompt         string   `yaml:"summary_prompt"`
	AllowedOrigins        []string `yaml:"allowed_origins"`

	// Secrets: env vars only, never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		LogLevel:       "info",
		ListenAddr:     "127.0.0.1:8080",
		JobAPIURL:      "http://127.0.0.1:8000",
		PollInterval:   "5s",
		RequestTimeout: "30s",
		BlobDir:        filepath.Join(os.TempDir(), "chunkscribe"),
		CaptureBackend: CaptureBackendPortAudio,
		MicSampleRate:  16000,
		MicSampleRates: []int{48000, 44100, 32000, 24000},
		JobsListenAddr: ":8000",
		Workers:        4,
		ResultsBackend: ResultsBackendSQLite,
		ResultsDBPath:  "data/results.db",
		ResultsTTL:     "1h",
		RedisAddr:      "localhost:6379",
		UploadDir:      "data/uploads",
		STTModel:       "whisper-1",
		STTLanguage:    "ko",
		SummaryModel:   "openai/gpt-4o-mini",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedPollInterval falls back to 5s when PollInterval is invalid.
func (c *Config) ParsedPollInterval() time.Duration {
	return parseDuration(c.PollInterval, 5*time.Second)
}

func (c *Config) ParsedRequestTimeout() time.Duration {
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// ParsedSegmentDuration is zero, meaning one chunk per recording, when
// SegmentDuration is empty or invalid.
func (c *Config) ParsedSegmentDuration() time.Duration {
	return parseDuration(c.SegmentDuration, 0)
}

func (c *Config) ParsedResultsTTL() time.Duration {
	return parseDuration(c.ResultsTTL, time.Hour)
}

// APIKeys bundles the LLM provider secrets.
func (c *Config) APIKeys() llm.APIKeys {
	return llm.APIKeys{OpenAI: c.OpenAIAPIKey, Anthropic: c.AnthropicAPIKey, Gemini: c.GeminiAPIKey}
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"LOG_LEVEL":               &cfg.LogLevel,
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"JOB_API_URL":             &cfg.JobAPIURL,
		"POLL_INTERVAL":           &cfg.PollInterval,
		"REQUEST_TIMEOUT":         &cfg.RequestTimeout,
		"SEGMENT_DURATION":        &cfg.SegmentDuration,
		"BLOB_DIR":                &cfg.BlobDir,
		"STATIC_DIR":              &cfg.StaticDir,
		"CAPTURE_BACKEND":         &cfg.CaptureBackend,
		"JOBS_LISTEN_ADDR":        &cfg.JobsListenAddr,
		"RESULTS_BACKEND":         &cfg.ResultsBackend,
		"RESULTS_DB_PATH":         &cfg.ResultsDBPath,
		"RESULTS_TTL":             &cfg.ResultsTTL,
		"REDIS_ADDR":              &cfg.RedisAddr,
		"GCS_BUCKET":              &cfg.GCSBucket,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
		"UPLOAD_DIR":              &cfg.UploadDir,
		"STT_MODEL":               &cfg.STTModel,
		"STT_LANGUAGE":            &cfg.STTLanguage,
		"SUMMARY_MODEL":           &cfg.SummaryModel,
		"SUMMARY_PROMPT":          &cfg.SummaryPrompt,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MIC_SAMPLE_RATE": &cfg.MicSampleRate,
		"WORKERS":         &cfg.Workers,
		"REDIS_DB":        &cfg.RedisDB,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
				*dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "AUTO_UPLOAD"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.AutoUpload = b
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseList(v)
	}
}

// loadSecrets prefers the prefixed variable and falls back to the provider's
// conventional name.
func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = secret("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = secret("ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = secret("GEMINI_API_KEY")
}

func secret(name string) string {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		return v
	}
	return os.Getenv(name)
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured; the job server cannot transcribe. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if provider, _, err := llm.ParseModel(cfg.SummaryModel); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid summary_model %q; summaries are disabled.", cfg.SummaryModel))
	} else if provider != "openai" && cfg.APIKeys().ForProvider(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("%s API key not configured; summaries are disabled. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}

	for name, value := range map[string]string{
		"poll_interval":   cfg.PollInterval,
		"request_timeout": cfg.RequestTimeout,
		"results_ttl":     cfg.ResultsTTL,
	} {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q; using the default.", name, value))
		}
	}
	if cfg.SegmentDuration != "" {
		if d, err := time.ParseDuration(cfg.SegmentDuration); err != nil || d < 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid segment_duration %q; recording one chunk per session.", cfg.SegmentDuration))
		}
	}

	switch cfg.CaptureBackend {
	case CaptureBackendPortAudio, CaptureBackendDeepgram:
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown capture_backend %q; using %s.", cfg.CaptureBackend, CaptureBackendPortAudio))
		cfg.CaptureBackend = CaptureBackendPortAudio
	}
	switch cfg.ResultsBackend {
	case ResultsBackendSQLite, ResultsBackendRedis:
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown results_backend %q; using %s.", cfg.ResultsBackend, ResultsBackendSQLite))
		cfg.ResultsBackend = ResultsBackendSQLite
	}
	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err != nil || !info.IsDir() {
			warnings = append(warnings, fmt.Sprintf("static_dir %q is not a directory; the web UI is disabled.", cfg.StaticDir))
			cfg.StaticDir = ""
		}
	}
	if cfg.Workers <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid workers %d; using 1.", cfg.Workers))
		cfg.Workers = 1
	}

	return warnings
}

// StaticFS returns the web UI bundle, or nil when none is configured.
func (c Config) StaticFS() fs.FS {
	if c.StaticDir == "" {
		return nil
	}
	return os.DirFS(c.StaticDir)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
