package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the translation server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Storage   StorageConfig
	Job       JobConfig
	Translate TranslateConfig
	Pricing   PricingConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	// TrustedProxies are the networks whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectAttempts is how many pings startup tries before giving up.
	ConnectAttempts int
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
	Gemini           GeminiConfig
	Ollama           OllamaConfig
	VLLM             VLLMConfig
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	Backend     string
	MaxAttempts int
	Local       LocalStorageConfig
	GCS         GCSConfig
	Azure       AzureConfig
	Supabase    SupabaseConfig
}

type LocalStorageConfig struct {
	Dir           string
	PublicBaseURL string
}

type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

type AzureConfig struct {
	ConnectionString string
	Container        string
}

type SupabaseConfig struct {
	URL    string
	Key    string
	Bucket string
}

// JobConfig bounds a single translation job and the queue as a whole.
type JobConfig struct {
	Timeout        time.Duration
	MaxConcurrent  int
	StaleAfter     time.Duration
	MaxUploadBytes int64
	TargetLanguage string
}

type TranslateConfig struct {
	MaxChunkChars  int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// PricingConfig is USD per million tokens.
type PricingConfig struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"ollama":    true,
	"vllm":      true,
}

var validBackends = map[string]bool{
	"local":    true,
	"gcs":      true,
	"azure":    true,
	"supabase": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	port := envInt("SERVER_PORT", 8080)
	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			Env:                envString("APP_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectAttempts: envInt("DATABASE_CONNECT_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			},
			Gemini: GeminiConfig{
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "gemini-2.0-flash"),
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
		},
		Storage: StorageConfig{
			Backend:     envString("STORAGE_BACKEND", "local"),
			MaxAttempts: envInt("STORAGE_MAX_ATTEMPTS", 3),
			Local: LocalStorageConfig{
				Dir:           envString("STORAGE_LOCAL_DIR", "_output"),
				PublicBaseURL: envString("STORAGE_PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d/files", port)),
			},
			GCS: GCSConfig{
				Bucket:          os.Getenv("GCS_BUCKET"),
				CredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
			},
			Azure: AzureConfig{
				ConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
				Container:        envString("AZURE_STORAGE_CONTAINER", "books"),
			},
			Supabase: SupabaseConfig{
				URL:    os.Getenv("SUPABASE_URL"),
				Key:    os.Getenv("SUPABASE_KEY"),
				Bucket: envString("SUPABASE_STORAGE_BUCKET", "books"),
			},
		},
		Job: JobConfig{
			Timeout:        envDuration("JOB_TIMEOUT", time.Hour),
			MaxConcurrent:  envInt("JOB_MAX_CONCURRENT", 2),
			StaleAfter:     envDuration("JOB_STALE_AFTER", 2*time.Hour),
			MaxUploadBytes: int64(envInt("JOB_MAX_UPLOAD_BYTES", 200<<20)),
			TargetLanguage: envString("JOB_TARGET_LANGUAGE", "vi"),
		},
		Translate: TranslateConfig{
			MaxChunkChars:  envInt("TRANSLATE_MAX_CHUNK_CHARS", 4000),
			MaxAttempts:    envInt("TRANSLATE_MAX_ATTEMPTS", 4),
			InitialBackoff: envDuration("TRANSLATE_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:     envDuration("TRANSLATE_MAX_BACKOFF", 60*time.Second),
		},
		Pricing: PricingConfig{
			InputPerMTok:  envFloat("PRICING_INPUT_PER_MTOK", 0.075),
			OutputPerMTok: envFloat("PRICING_OUTPUT_PER_MTOK", 0.30),
		},
		Scheduler: SchedulerConfig{
			Enabled:  envBool("SCHEDULER_ENABLED", false),
			Interval: envDuration("SCHEDULER_INTERVAL", 30*time.Second),
		},
	}

	proxies, err := envPrefixes("SERVER_TRUSTED_PROXIES")
	if err != nil {
		return nil, err
	}
	cfg.Server.TrustedProxies = proxies

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, anthropic, gemini, ollama, vllm; got %q", c.AI.Provider)
	}
	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
		}
	case "anthropic":
		if c.AI.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
		}
	case "gemini":
		if c.AI.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
		}
	case "vllm":
		if c.AI.VLLM.Model == "" {
			return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
		}
	}

	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of local, gcs, azure, supabase; got %q", c.Storage.Backend)
	}
	switch c.Storage.Backend {
	case "local":
		if !strings.HasPrefix(c.Storage.Local.PublicBaseURL, "http://") && !strings.HasPrefix(c.Storage.Local.PublicBaseURL, "https://") {
			return fmt.Errorf("STORAGE_PUBLIC_BASE_URL must start with http:// or https://, got %q", c.Storage.Local.PublicBaseURL)
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND is gcs")
		}
	case "azure":
		if c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("AZURE_STORAGE_CONNECTION_STRING is required when STORAGE_BACKEND is azure")
		}
	case "supabase":
		if c.Storage.Supabase.URL == "" || c.Storage.Supabase.Key == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required when STORAGE_BACKEND is supabase")
		}
	}
	if c.Storage.MaxAttempts < 1 {
		return fmt.Errorf("STORAGE_MAX_ATTEMPTS must be at least 1, got %d", c.Storage.MaxAttempts)
	}

	if c.Job.Timeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive")
	}
	if c.Job.MaxConcurrent < 1 {
		return fmt.Errorf("JOB_MAX_CONCURRENT must be at least 1, got %d", c.Job.MaxConcurrent)
	}
	if c.Job.MaxUploadBytes <= 0 {
		return fmt.Errorf("JOB_MAX_UPLOAD_BYTES must be positive")
	}
	if c.Job.StaleAfter < c.Job.Timeout {
		return fmt.Errorf("JOB_STALE_AFTER (%s) must not be shorter than JOB_TIMEOUT (%s)", c.Job.StaleAfter, c.Job.Timeout)
	}

	if c.Translate.MaxChunkChars < 200 {
		return fmt.Errorf("TRANSLATE_MAX_CHUNK_CHARS must be at least 200, got %d", c.Translate.MaxChunkChars)
	}
	if c.Translate.MaxAttempts < 1 {
		return fmt.Errorf("TRANSLATE_MAX_ATTEMPTS must be at least 1, got %d", c.Translate.MaxAttempts)
	}

	if c.Pricing.InputPerMTok < 0 || c.Pricing.OutputPerMTok < 0 {
		return fmt.Errorf("PRICING_INPUT_PER_MTOK and PRICING_OUTPUT_PER_MTOK must not be negative")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envPrefixes parses a comma-separated list of CIDRs. A bare address stands
// for itself alone.
func envPrefixes(key string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, field := range strings.Split(os.Getenv(key), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.Contains(field, "/") {
			p, err := netip.ParsePrefix(field)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid CIDR %q", key, field)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid address %q", key, field)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
