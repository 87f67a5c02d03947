// Package config loads runtime settings from the environment.
//
// The process reads ENV (local, test or prod) and loads .env.<ENV> before
// anything else; explicit environment variables always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment names accepted in ENV.
const (
	EnvLocal = "local"
	EnvTest  = "test"
	EnvProd  = "prod"
)

// ModelRef is a parsed "provider:model" reference, e.g. "azure:gpt-4o-mini"
// or "dashscope:qwen-plus".
type ModelRef struct {
	Provider string
	Model    string
}

// ParseModelRef splits a provider:model string.
func ParseModelRef(s string) (ModelRef, error) {
	provider, model, ok := strings.Cut(s, ":")
	if !ok || provider == "" || model == "" {
		return ModelRef{}, fmt.Errorf("invalid model reference %q, expected provider:model", s)
	}
	return ModelRef{Provider: provider, Model: model}, nil
}

// Settings is the full runtime configuration.
type Settings struct {
	Env string

	ServerHost string
	ServerPort int

	FastLLM   ModelRef
	Embedding ModelRef

	AzureOpenAIEndpoint   string
	AzureOpenAIAPIKey     string
	AzureOpenAIAPIVersion string
	DashScopeAPIKey       string

	RedisAddrs     []string
	RedisCluster   bool
	RedisPassword  string
	RedisKeyPrefix string
	RedisPoolSize  int
	CheckpointTTL  time.Duration

	ChatLogPath string

	TemplateStore string // "file" or "db"
	TemplateFile  string
	HostFile      string
}

// LoadEnvFile loads .env.<env> from the working directory. A missing file is
// fine in prod where configuration comes from real environment variables.
func LoadEnvFile(env string) {
	file := ".env." + env
	if err := godotenv.Load(file); err != nil {
		if os.IsNotExist(err) {
			return
		}
		fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", file, err)
	}
}

// Load reads settings from the environment and validates them.
func Load() (*Settings, error) {
	env := getEnvOrDefault("ENV", EnvLocal)
	switch env {
	case EnvLocal, EnvTest, EnvProd:
	default:
		return nil, fmt.Errorf("invalid ENV %q, expected local, test or prod", env)
	}

	port, err := strconv.Atoi(getEnvOrDefault("SERVER_PORT", "8000"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	fastLLM, err := ParseModelRef(getEnvOrDefault("FAST_LLM", "azure:gpt-4o-mini"))
	if err != nil {
		return nil, fmt.Errorf("invalid FAST_LLM: %w", err)
	}
	embedding, err := ParseModelRef(getEnvOrDefault("EMBEDDING", "dashscope:text-embedding-v3"))
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDING: %w", err)
	}

	ttl, err := time.ParseDuration(getEnvOrDefault("CHECKPOINT_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHECKPOINT_TTL: %w", err)
	}

	poolSize, err := strconv.Atoi(getEnvOrDefault("REDIS_POOL_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
	}

	addrs, cluster := redisAddrs()

	templateStore := getEnvOrDefault("TEMPLATE_STORE", "file")
	if templateStore != "file" && templateStore != "db" {
		return nil, fmt.Errorf("invalid TEMPLATE_STORE %q, expected file or db", templateStore)
	}

	s := &Settings{
		Env:        env,
		ServerHost: getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
		ServerPort: port,

		FastLLM:   fastLLM,
		Embedding: embedding,

		AzureOpenAIEndpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureOpenAIAPIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
		AzureOpenAIAPIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		DashScopeAPIKey:       os.Getenv("DASHSCOPE_API_KEY"),

		RedisAddrs:     addrs,
		RedisCluster:   cluster,
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", "se:"),
		RedisPoolSize:  poolSize,
		CheckpointTTL:  ttl,

		ChatLogPath: getEnvOrDefault("CHAT_LOG_PATH", "chat_logs"),

		TemplateStore: templateStore,
		TemplateFile:  getEnvOrDefault("TEMPLATE_FILE", "template/survey_template.json"),
		HostFile:      getEnvOrDefault("HOST_FILE", "template/host_config.json"),
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// redisAddrs resolves the Redis endpoints. REDIS_CLUSTER_ADDRS takes
// precedence and switches the client into cluster mode.
func redisAddrs() ([]string, bool) {
	if raw := os.Getenv("REDIS_CLUSTER_ADDRS"); raw != "" {
		var addrs []string
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		return addrs, true
	}
	return []string{getEnvOrDefault("REDIS_ADDR", "localhost:6379")}, false
}

func (s *Settings) validate() error {
	for _, ref := range []ModelRef{s.FastLLM, s.Embedding} {
		switch ref.Provider {
		case "azure":
			if s.AzureOpenAIEndpoint == "" || s.AzureOpenAIAPIKey == "" {
				return fmt.Errorf("provider azure requires AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY")
			}
		case "dashscope":
			if s.DashScopeAPIKey == "" {
				return fmt.Errorf("provider dashscope requires DASHSCOPE_API_KEY")
			}
		default:
			return fmt.Errorf("unknown model provider %q", ref.Provider)
		}
	}
	if len(s.RedisAddrs) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}
	if s.CheckpointTTL <= 0 {
		return fmt.Errorf("CHECKPOINT_TTL must be positive")
	}
	return nil
}

// ServerAddr returns the host:port the HTTP server binds to.
func (s *Settings) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.ServerHost, s.ServerPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
