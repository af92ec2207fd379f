package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine  engineConfig  `yaml:"engine"`
	Table   tableConfig   `yaml:"table"`
	Storage storageConfig `yaml:"storage"`
	Logging loggingConfig `yaml:"logging"`
	Metrics metricsConfig `yaml:"metrics"`
}
type engineConfig struct {
	DataDir          string `yaml:"data_dir"`          // where persisted handles live, empty keeps everything in memory
	CheckedAllocator bool   `yaml:"checked_allocator"` // track arrow allocations, for leak hunting
	SampleSeed       uint64 `yaml:"sample_seed"`       // 0 draws a random seed
}
type tableConfig struct {
	// rows above this go through a temp file and one load command
	FastInsertThreshold int    `yaml:"fast_insert_threshold"`
	TempDir             string `yaml:"temp_dir"`
}
type storageConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
	// credentials never come from yaml, see LoadEnv
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}
type loggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr or a file path
}
type metricsConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	MetricsPort   int    `yaml:"metrics_port"`
	MetricsHost   string `yaml:"metrics_host"`
}

func defaults() *Config {
	return &Config{
		Engine: engineConfig{
			DataDir:          "",
			CheckedAllocator: false,
			SampleSeed:       0,
		},
		Table: tableConfig{
			FastInsertThreshold: 40,
			TempDir:             os.TempDir(),
		},
		Storage: storageConfig{
			Endpoint: "localhost:9000",
			Bucket:   "coltable",
			UseSSL:   true,
		},
		Logging: loggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
		Metrics: metricsConfig{
			EnableMetrics: false,
			MetricsPort:   9999,
			MetricsHost:   "localhost",
		},
	}
}

var configInstance = defaults()

func GetConfig() *Config {
	return configInstance
}

// overwrite global instance with loaded config
func Decode(filePath string) error {
	parts := strings.Split(filePath, ".")
	suffix := parts[len(parts)-1]
	if suffix != "yaml" && suffix != "yml" {
		return errors.New("file must be a .yaml or .yml file")
	}
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer r.Close()
	config := make(map[string]interface{})
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	mergeConfig(configInstance, config)
	return nil
}

// LoadEnv reads storage credentials from a .env file (when present) and the
// process environment. The environment wins over the file.
func LoadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	if v := os.Getenv("COLTABLE_ACCESS_KEY"); v != "" {
		configInstance.Storage.AccessKey = v
	}
	if v := os.Getenv("COLTABLE_SECRET_KEY"); v != "" {
		configInstance.Storage.SecretKey = v
	}
	if v := os.Getenv("COLTABLE_ENDPOINT"); v != "" {
		configInstance.Storage.Endpoint = v
	}
	if v := os.Getenv("COLTABLE_BUCKET"); v != "" {
		configInstance.Storage.Bucket = v
	}
	return nil
}

func mergeConfig(dst *Config, src map[string]interface{}) {
	// =============================
	// ENGINE
	// =============================
	if engine, ok := src["engine"].(map[string]interface{}); ok {
		if v, ok := engine["data_dir"].(string); ok {
			dst.Engine.DataDir = v
		}
		if v, ok := engine["checked_allocator"].(bool); ok {
			dst.Engine.CheckedAllocator = v
		}
		if v, ok := engine["sample_seed"].(int); ok && v >= 0 {
			dst.Engine.SampleSeed = uint64(v)
		}
	}

	// =============================
	// TABLE
	// =============================
	if table, ok := src["table"].(map[string]interface{}); ok {
		if v, ok := table["fast_insert_threshold"].(int); ok {
			dst.Table.FastInsertThreshold = v
		}
		if v, ok := table["temp_dir"].(string); ok {
			dst.Table.TempDir = v
		}
	}

	// =============================
	// STORAGE
	// =============================
	if storage, ok := src["storage"].(map[string]interface{}); ok {
		if v, ok := storage["endpoint"].(string); ok {
			dst.Storage.Endpoint = v
		}
		if v, ok := storage["bucket"].(string); ok {
			dst.Storage.Bucket = v
		}
		if v, ok := storage["use_ssl"].(bool); ok {
			dst.Storage.UseSSL = v
		}
	}

	// =============================
	// LOGGING
	// =============================
	if logging, ok := src["logging"].(map[string]interface{}); ok {
		if v, ok := logging["level"].(string); ok {
			dst.Logging.Level = v
		}
		if v, ok := logging["format"].(string); ok {
			dst.Logging.Format = v
		}
		if v, ok := logging["output"].(string); ok {
			dst.Logging.Output = v
		}
	}

	// =============================
	// METRICS
	// =============================
	if metrics, ok := src["metrics"].(map[string]interface{}); ok {
		if v, ok := metrics["enable_metrics"].(bool); ok {
			dst.Metrics.EnableMetrics = v
		}
		if v, ok := metrics["metrics_port"].(int); ok {
			dst.Metrics.MetricsPort = v
		}
		if v, ok := metrics["metrics_host"].(string); ok {
			dst.Metrics.MetricsHost = v
		}
	}
}
