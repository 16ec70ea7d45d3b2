// Package config loads settings from environment variables. Ambient settings
// are read by Load; each source and sink has its own group read by its loader
// so a run only requires the credentials of what it uses.
package config

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds the settings shared by every command.
type Config struct {
	LogLevel        string
	LogFormat       string
	ScratchDir      string
	InitTimeWorkers int
	DownloadWorkers int
	MetricsAddr     string // empty disables the HTTP server
	ShutdownTimeout time.Duration
	HTTPTimeout     time.Duration
	ZarrZip         string // "true", "false" or empty for the sink default

	KafkaBrokers []string // empty disables notifications
	KafkaTopic   string
}

// Load reads the ambient configuration, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	httpTimeout, err := parseDuration("HTTP_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	initWorkers, err := parsePositive("INIT_TIME_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	downloadWorkers, err := parsePositive("DOWNLOAD_WORKERS", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	zip := strings.ToLower(os.Getenv("ZARR_ZIP"))
	if zip != "" && zip != "true" && zip != "false" {
		return nil, fmt.Errorf("%w: invalid ZARR_ZIP %q", domain.ErrConfig, zip)
	}

	return &Config{
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ScratchDir:      sharedcfg.EnvOrDefault("SCRATCH_DIR", os.TempDir()),
		InitTimeWorkers: initWorkers,
		DownloadWorkers: downloadWorkers,
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		ShutdownTimeout: shutdownTimeout,
		HTTPTimeout:     httpTimeout,
		ZarrZip:         zip,
		KafkaBrokers:    sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "nwp-init-times"),
	}, nil
}

// Zip reports whether zarr stores are zipped for the named sink. Object
// stores default to zipped stores; the local sink defaults to directories.
func (c *Config) Zip(sink string) bool {
	if c.ZarrZip != "" {
		return c.ZarrZip == "true"
	}
	return sink != "local"
}

// NotificationsEnabled reports whether a Kafka broker is configured.
func (c *Config) NotificationsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Source and sink names accepted on the command line.
var (
	Sources = []string{"ceda", "metoffice", "icon", "gfs"}
	Sinks   = []string{"local", "s3", "gcs", "azure", "huggingface"}
)

var required = map[string][]string{
	"ceda":        {"CEDA_FTP_USER", "CEDA_FTP_PASS"},
	"metoffice":   {"METOFFICE_ORDER_ID", "METOFFICE_CLIENT_ID", "METOFFICE_CLIENT_SECRET"},
	"icon":        {},
	"gfs":         {},
	"local":       {},
	"s3":          {"AWS_S3_BUCKET", "AWS_REGION"},
	"gcs":         {"GCS_BUCKET"},
	"azure":       {"AZURE_STORAGE_CONNECTION_STRING", "AZURE_CONTAINER"},
	"huggingface": {"HUGGINGFACE_TOKEN", "HUGGINGFACE_REPO_ID"},
}

// Required lists the environment variables the named source or sink needs.
func Required(name string) ([]string, error) {
	vars, ok := required[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source or sink %q (sources: %s; sinks: %s)",
			domain.ErrConfig, name, strings.Join(Sources, ", "), strings.Join(Sinks, ", "))
	}
	return slices.Clone(vars), nil
}

// Missing returns the required variables of the named source or sink that
// are unset.
func Missing(name string) ([]string, error) {
	vars, err := Required(name)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, v := range vars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing, nil
}

// Validate fails with domain.ErrConfig when the named source or sink is
// unknown or misses required variables.
func Validate(name string) error {
	missing, err := Missing(name)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", domain.ErrConfig, name, strings.Join(missing, ", "))
	}
	return nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrConfig, key)
	}
	return d, nil
}

func parsePositive(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: invalid %s: must be a positive integer", domain.ErrConfig, key)
	}
	return n, nil
}
