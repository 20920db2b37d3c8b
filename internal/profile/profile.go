package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	// DriverSQLite3 is the cgo SQLite driver.
	DriverSQLite3 = "sqlite3"
)

// Profile is the configuration of a memory store and the tools around it.
type Profile struct {
	// Storage
	Driver          string
	DSN             string
	Schema          string // PostgreSQL schema, or SQLite namespace
	VectorSize      int
	VectorIndex     string // none, hnsw or ivfflat (PostgreSQL only)
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Embedding configuration (OpenAI-compatible protocol)
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingTimeout  int // seconds

	// Other configurations
	Mode    string
	Addr    string
	Port    int
	Data    string
	Version string
}

// Provider default configurations for embeddings.
// Used when VECMEM_EMBEDDING_BASE_URL or VECMEM_EMBEDDING_MODEL is not set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "text-embedding-v3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled reports whether text can be turned into vectors.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.EmbeddingAPIKey != "" || p.EmbeddingProvider == "ollama"
}

// IsSQLite reports whether the profile selects one of the SQLite drivers.
func (p *Profile) IsSQLite() bool {
	return p.Driver == DriverSQLite || p.Driver == DriverSQLite3
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads the settings that have no command-line flag.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("VECMEM_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingAPIKey = getEnvOrDefault("VECMEM_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("VECMEM_EMBEDDING_BASE_URL", "")
	p.EmbeddingModel = getEnvOrDefault("VECMEM_EMBEDDING_MODEL", "")
	p.EmbeddingTimeout = getEnvOrDefaultInt("VECMEM_EMBEDDING_TIMEOUT_SECONDS", 30)

	defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]
	if !ok {
		slog.Warn("Unknown embedding provider, using default: openai", "provider", p.EmbeddingProvider)
		p.EmbeddingProvider = "openai"
		defaults = embeddingProviderDefaults["openai"]
	}
	if p.EmbeddingBaseURL == "" {
		p.EmbeddingBaseURL = defaults.BaseURL
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = defaults.Model
	}

	p.MaxOpenConns = getEnvOrDefaultInt("VECMEM_MAX_OPEN_CONNS", 0)
	p.MaxIdleConns = getEnvOrDefaultInt("VECMEM_MAX_IDLE_CONNS", 0)
	p.ConnMaxLifetime = time.Duration(getEnvOrDefaultInt("VECMEM_CONN_MAX_LIFETIME_SECONDS", 0)) * time.Second
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and rejects settings no driver can use.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = DriverSQLite
	}
	if strings.TrimSpace(p.Schema) == "" {
		p.Schema = "public"
	}
	if p.VectorIndex == "" {
		p.VectorIndex = "none"
	}

	switch p.Driver {
	case DriverPostgres, DriverSQLite, DriverSQLite3:
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	switch p.VectorIndex {
	case "none", "hnsw", "ivfflat":
	default:
		return errors.Errorf("unsupported vector index %q", p.VectorIndex)
	}
	if p.VectorSize < 0 {
		return errors.Errorf("vector size must not be negative: %d", p.VectorSize)
	}
	if p.Driver == DriverPostgres && p.DSN == "" {
		return errors.New("dsn required for postgres")
	}

	if !p.IsSQLite() || p.DSN != "" {
		return nil
	}

	if p.Data == "" {
		if p.Mode == "prod" {
			if runtime.GOOS == "windows" {
				p.Data = filepath.Join(os.Getenv("ProgramData"), "vecmem")
			} else {
				p.Data = "/var/opt/vecmem"
			}
			if err := os.MkdirAll(p.Data, 0770); err != nil {
				slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
		} else {
			p.Data = "."
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir
	p.DSN = filepath.Join(dataDir, fmt.Sprintf("vecmem_%s.db", p.Mode))
	return nil
}
