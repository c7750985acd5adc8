// Package config provides configuration loading and validation for georouted.
// Configuration is read from a YAML file, then an optional .env file, then
// GEOROUTE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable consulted by Load for a config file path.
const EnvConfigPath = "GEOROUTE_CONFIG"

// Config holds all configuration for a georouted process.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Health        HealthConfig        `yaml:"health"`
	Routing       RoutingConfig       `yaml:"routing"`
	Replication   ReplicationConfig   `yaml:"replication"`
	Cache         CacheConfig         `yaml:"cache"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Regions bootstraps the directory when the durable store holds none.
	Regions []RegionConfig `yaml:"regions"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr" env:"GEOROUTE_LISTEN_ADDR"`
}

type MetadataConfig struct {
	// Backend is "oxia" or "memory".
	Backend      string `yaml:"backend" env:"GEOROUTE_METADATA_BACKEND"`
	OxiaEndpoint string `yaml:"oxiaEndpoint" env:"GEOROUTE_OXIA_ENDPOINT"`
	Namespace    string `yaml:"namespace" env:"GEOROUTE_OXIA_NAMESPACE"`
}

type ObjectStoreConfig struct {
	// Backend is "s3" or "memory".
	Backend      string `yaml:"backend" env:"GEOROUTE_OBJECTSTORE_BACKEND"`
	Endpoint     string `yaml:"endpoint" env:"GEOROUTE_S3_ENDPOINT"`
	Bucket       string `yaml:"bucket" env:"GEOROUTE_S3_BUCKET"`
	Region       string `yaml:"region" env:"GEOROUTE_S3_REGION"`
	AccessKey    string `yaml:"accessKey" env:"GEOROUTE_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"GEOROUTE_S3_SECRET_KEY"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"GEOROUTE_S3_PATH_STYLE"`
}

type HealthConfig struct {
	Interval     time.Duration `yaml:"interval" env:"GEOROUTE_HEALTH_INTERVAL"`
	ProbeTimeout time.Duration `yaml:"probeTimeout" env:"GEOROUTE_HEALTH_PROBE_TIMEOUT"`
	ProbePath    string        `yaml:"probePath" env:"GEOROUTE_HEALTH_PROBE_PATH"`
	Concurrency  int           `yaml:"concurrency" env:"GEOROUTE_HEALTH_CONCURRENCY"`
}

type RoutingConfig struct {
	// CountryHeader is the request header holding the client's ISO country code.
	CountryHeader string `yaml:"countryHeader" env:"GEOROUTE_COUNTRY_HEADER"`
}

type ReplicationConfig struct {
	Workers         int           `yaml:"workers" env:"GEOROUTE_REPLICATION_WORKERS"`
	QueueSize       int           `yaml:"queueSize" env:"GEOROUTE_REPLICATION_QUEUE_SIZE"`
	JobRetention    time.Duration `yaml:"jobRetention" env:"GEOROUTE_REPLICATION_JOB_RETENTION"`
	WritesPerSecond float64       `yaml:"writesPerSecond" env:"GEOROUTE_REPLICATION_WRITES_PER_SECOND"`
}

type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"defaultTTL" env:"GEOROUTE_CACHE_DEFAULT_TTL"`
	// CompressThreshold is the body size in bytes above which entries are snappy-compressed.
	CompressThreshold int           `yaml:"compressThreshold" env:"GEOROUTE_CACHE_COMPRESS_THRESHOLD"`
	SweepInterval     time.Duration `yaml:"sweepInterval" env:"GEOROUTE_CACHE_SWEEP_INTERVAL"`
}

type EventsConfig struct {
	Enabled bool     `yaml:"enabled" env:"GEOROUTE_EVENTS_ENABLED"`
	Brokers []string `yaml:"brokers" env:"GEOROUTE_EVENTS_BROKERS"`
	Topic   string   `yaml:"topic" env:"GEOROUTE_EVENTS_TOPIC"`

	// PublishTimeout bounds each event publish so a broker outage cannot
	// hold up replication workers.
	PublishTimeout time.Duration `yaml:"publishTimeout" env:"GEOROUTE_EVENTS_PUBLISH_TIMEOUT"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"GEOROUTE_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"GEOROUTE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"GEOROUTE_LOG_FORMAT"`
}

// RegionConfig is the YAML shape of a bootstrap region.
type RegionConfig struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Code      string         `yaml:"code"`
	Priority  int            `yaml:"priority"`
	Countries []string       `yaml:"countries"`
	Fallback  string         `yaml:"fallback"`
	Origins   []OriginConfig `yaml:"origins"`
}

type OriginConfig struct {
	ID     string  `yaml:"id"`
	URL    string  `yaml:"url"`
	Weight float64 `yaml:"weight"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Metadata: MetadataConfig{
			Backend:      "oxia",
			OxiaEndpoint: "localhost:6648",
			Namespace:    "georoute",
		},
		ObjectStore: ObjectStoreConfig{
			Backend: "s3",
			Region:  "us-east-1",
		},
		Health: HealthConfig{
			Interval:     30 * time.Second,
			ProbeTimeout: 5 * time.Second,
			ProbePath:    "/health",
			Concurrency:  8,
		},
		Routing: RoutingConfig{
			CountryHeader: "CF-IPCountry",
		},
		Replication: ReplicationConfig{
			Workers:      4,
			QueueSize:    64,
			JobRetention: 7 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			DefaultTTL:        time.Hour,
			CompressThreshold: 1024,
			SweepInterval:     10 * time.Minute,
		},
		Events: EventsConfig{
			Topic:          "georoute.replication",
			PublishTimeout: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load builds a Config from defaults, the file named by GEOROUTE_CONFIG (if
// set), a .env file in the working directory (if present) and the process
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromPath reads the YAML file at path over the defaults and then applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Metadata.Backend {
	case "memory":
	case "oxia":
		if c.Metadata.OxiaEndpoint == "" {
			errs = append(errs, errors.New("metadata.oxiaEndpoint is required for the oxia backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.backend %q is not one of oxia, memory", c.Metadata.Backend))
	}
	switch c.ObjectStore.Backend {
	case "memory":
	case "s3":
		if c.ObjectStore.Bucket == "" {
			errs = append(errs, errors.New("objectStore.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("objectStore.backend %q is not one of s3, memory", c.ObjectStore.Backend))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}
	if c.Health.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("health.probeTimeout must be positive"))
	}
	if c.Replication.Workers <= 0 {
		errs = append(errs, errors.New("replication.workers must be positive"))
	}
	if c.Replication.QueueSize <= 0 {
		errs = append(errs, errors.New("replication.queueSize must be positive"))
	}
	if c.Replication.WritesPerSecond < 0 {
		errs = append(errs, errors.New("replication.writesPerSecond must not be negative"))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, errors.New("cache.defaultTTL must be positive"))
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		errs = append(errs, errors.New("events.brokers is required when events are enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnv walks the config sections and overrides any field whose env tag
// names a set variable.
func applyEnv(cfg *Config) error {
	v := reflect.ValueOf(cfg).Elem()
	for i := 0; i < v.NumField(); i++ {
		section := v.Field(i)
		if section.Kind() != reflect.Struct {
			continue
		}
		st := section.Type()
		for j := 0; j < st.NumField(); j++ {
			name := st.Field(j).Tag.Get("env")
			if name == "" {
				continue
			}
			raw, ok := os.LookupEnv(name)
			if !ok {
				continue
			}
			if err := setField(section.Field(j), raw); err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(f reflect.Value, raw string) error {
	if f.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		f.SetFloat(n)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", f.Type())
		}
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		f.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field kind %s", f.Kind())
	}
	return nil
}
