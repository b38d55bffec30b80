package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/decoder"
	pkgconfig "github.com/mjasion/balena-home/victron/pkg/config"
)

// Config represents the application configuration
type Config struct {
	BLE           BLEConfig                     `yaml:"ble"`
	Validation    ValidationConfig              `yaml:"validation"`
	EcoWorthy     EcoWorthyConfig               `yaml:"ecoworthy"`
	Prometheus    PrometheusConfig              `yaml:"prometheus"`
	Logging       pkgconfig.LoggingConfig       `yaml:"logging"`
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`
	Profiling     pkgconfig.ProfilingConfig     `yaml:"profiling"`
}

// BLEConfig contains BLE scanning configuration
type BLEConfig struct {
	ScanDurationSeconds   int            `yaml:"scanDurationSeconds" env:"SCAN_DURATION_SECONDS" env-default:"5"`
	ScanIntervalSeconds   int            `yaml:"scanIntervalSeconds" env:"SCAN_INTERVAL_SECONDS" env-default:"30"`
	RetainLastData        bool           `yaml:"retainLastData" env:"RETAIN_LAST_DATA" env-default:"true"`
	OnlyConfiguredDevices bool           `yaml:"onlyConfiguredDevices" env:"ONLY_CONFIGURED_DEVICES" env-default:"false"`
	Devices               []DeviceConfig `yaml:"devices"`
}

// DeviceConfig contains configuration for a single Victron device
type DeviceConfig struct {
	Name          string `yaml:"name"`
	MACAddress    string `yaml:"macAddress"`
	EncryptionKey string `yaml:"encryptionKey"`
}

// ValidationConfig holds the plausibility limits applied to decoded values
type ValidationConfig struct {
	MaxVoltage     float64 `yaml:"maxVoltage" env:"VALIDATION_MAX_VOLTAGE" env-default:"30"`
	MaxTemperature float64 `yaml:"maxTemperature" env:"VALIDATION_MAX_TEMPERATURE" env-default:"50"`
}

// EcoWorthyConfig contains configuration for the optional ECO-WORTHY BMS
type EcoWorthyConfig struct {
	Enabled             bool   `yaml:"enabled" env:"ECOWORTHY_ENABLED" env-default:"false"`
	MACAddress          string `yaml:"macAddress" env:"ECOWORTHY_MAC_ADDRESS"`
	PollIntervalSeconds int    `yaml:"pollIntervalSeconds" env:"ECOWORTHY_POLL_INTERVAL_SECONDS" env-default:"60"`
	TimeoutSeconds      int    `yaml:"timeoutSeconds" env:"ECOWORTHY_TIMEOUT_SECONDS" env-default:"10"`
}

// PrometheusConfig contains Prometheus remote_write configuration
type PrometheusConfig struct {
	Enabled                bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED" env-default:"true"`
	URL                    string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	Username               string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	Password               string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	PushIntervalSeconds    int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"60"`
	PublishIntervalSeconds int    `yaml:"publishIntervalSeconds" env:"PUBLISH_INTERVAL_SECONDS" env-default:"30"`
	BatchSize              int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"500"`
	BufferSize             int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"5000"`
}

var macAddressRegex = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Load loads configuration from a YAML file with environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and normalizes device addresses
func (c *Config) Validate() error {
	if err := c.validateDevices(); err != nil {
		return err
	}

	if c.BLE.ScanDurationSeconds < 1 {
		return fmt.Errorf("scan duration must be at least 1 second")
	}
	if c.BLE.ScanIntervalSeconds < c.BLE.ScanDurationSeconds {
		return fmt.Errorf("scan interval (%ds) must not be shorter than scan duration (%ds)",
			c.BLE.ScanIntervalSeconds, c.BLE.ScanDurationSeconds)
	}

	if c.Validation.MaxVoltage <= 0 {
		return fmt.Errorf("validation maxVoltage must be positive, got %v", c.Validation.MaxVoltage)
	}

	if c.EcoWorthy.Enabled {
		if !macAddressRegex.MatchString(c.EcoWorthy.MACAddress) {
			return fmt.Errorf("ecoworthy: invalid MAC address format: %s (expected format: XX:XX:XX:XX:XX:XX)", c.EcoWorthy.MACAddress)
		}
		if c.EcoWorthy.PollIntervalSeconds < 1 || c.EcoWorthy.TimeoutSeconds < 1 {
			return fmt.Errorf("ecoworthy: poll interval and timeout must be at least 1 second")
		}
		if c.EcoWorthy.TimeoutSeconds >= c.EcoWorthy.PollIntervalSeconds {
			return fmt.Errorf("ecoworthy: timeout must be shorter than the poll interval")
		}
	}

	if c.Prometheus.Enabled {
		if c.Prometheus.URL == "" {
			return fmt.Errorf("prometheus URL is required")
		}
		if c.Prometheus.PushIntervalSeconds < 1 || c.Prometheus.PublishIntervalSeconds < 1 {
			return fmt.Errorf("prometheus push and publish intervals must be at least 1 second")
		}
		if c.Prometheus.BatchSize < 1 {
			return fmt.Errorf("batch size must be at least 1")
		}
		if c.Prometheus.BufferSize < 1 {
			return fmt.Errorf("buffer size must be at least 1")
		}
	}

	if err := pkgconfig.ValidateLogging(&c.Logging); err != nil {
		return err
	}
	if err := pkgconfig.ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return err
	}
	return pkgconfig.ValidateProfiling(&c.Profiling)
}

func (c *Config) validateDevices() error {
	seenMACs := make(map[string]bool)

	for i := range c.BLE.Devices {
		device := &c.BLE.Devices[i]

		if device.Name == "" {
			return fmt.Errorf("device %d: name is required", i)
		}
		if !macAddressRegex.MatchString(device.MACAddress) {
			return fmt.Errorf("device %s: invalid MAC address format: %s (expected format: XX:XX:XX:XX:XX:XX)", device.Name, device.MACAddress)
		}
		device.MACAddress = strings.ToUpper(device.MACAddress)
		if seenMACs[device.MACAddress] {
			return fmt.Errorf("device %s: duplicate MAC address %s", device.Name, device.MACAddress)
		}
		seenMACs[device.MACAddress] = true

		device.EncryptionKey = strings.TrimSpace(device.EncryptionKey)
		if device.EncryptionKey == "" {
			continue
		}
		if _, err := hex.DecodeString(device.EncryptionKey); err != nil || len(device.EncryptionKey) != 32 {
			return fmt.Errorf("device %s: encryption key must be 32 hex characters", device.Name)
		}
	}

	if c.BLE.OnlyConfiguredDevices && len(c.BLE.Devices) == 0 {
		return fmt.Errorf("onlyConfiguredDevices requires at least one configured device")
	}

	return nil
}

// Validator returns the decode plausibility limits
func (c *Config) Validator() decoder.Validator {
	return decoder.Validator{
		MaxVoltage:     c.Validation.MaxVoltage,
		MaxTemperature: c.Validation.MaxTemperature,
	}
}

// EncryptedDeviceCount returns how many devices carry an encryption key
func (c *Config) EncryptedDeviceCount() int {
	n := 0
	for _, d := range c.BLE.Devices {
		if d.EncryptionKey != "" {
			n++
		}
	}
	return n
}

// PrintConfig logs the configuration with secrets masked
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.Int("scan_duration_seconds", c.BLE.ScanDurationSeconds),
		zap.Int("scan_interval_seconds", c.BLE.ScanIntervalSeconds),
		zap.Bool("retain_last_data", c.BLE.RetainLastData),
		zap.Bool("only_configured_devices", c.BLE.OnlyConfiguredDevices),
		zap.Int("configured_devices", len(c.BLE.Devices)),
		zap.Int("devices_with_keys", c.EncryptedDeviceCount()),
		zap.Float64("max_voltage", c.Validation.MaxVoltage),
		zap.Float64("max_temperature", c.Validation.MaxTemperature),
		zap.Bool("ecoworthy_enabled", c.EcoWorthy.Enabled),
		zap.String("ecoworthy_mac", c.EcoWorthy.MACAddress),
		zap.Bool("prometheus_enabled", c.Prometheus.Enabled),
		zap.String("prometheus_url", redactURL(c.Prometheus.URL)),
		zap.String("prometheus_username", c.Prometheus.Username),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.Int("push_interval_seconds", c.Prometheus.PushIntervalSeconds),
		zap.Int("publish_interval_seconds", c.Prometheus.PublishIntervalSeconds),
		zap.Int("buffer_size", c.Prometheus.BufferSize),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
		zap.String("otel_service_name", c.OpenTelemetry.ServiceName),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
	)
}

// redactURL removes credentials from URLs for logging
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}
