package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	WeatherstackAPIKey  string
	WeatherstackBaseURL string `validate:"required,url"`
	// WeatherQuery is the fixed location sent to the provider.
	WeatherQuery string `validate:"required"`

	// LongInterval bounds how stale the ground truth may get.
	LongInterval time.Duration `validate:"gt=0,gtefield=ShortInterval"`
	// ShortInterval is the publish (noise refresh) cadence.
	ShortInterval time.Duration `validate:"gt=0"`

	HTTPTimeout        time.Duration `validate:"gt=0"`
	ProviderMaxRetries int           `validate:"gte=0,lte=5"`

	RegistryPath   string `validate:"required"`
	SnapshotPath   string `validate:"required"`
	Partition1Path string `validate:"required,nefield=RegistryPath,nefield=SnapshotPath,nefield=Partition2Path"`
	Partition2Path string `validate:"required,nefield=RegistryPath,nefield=SnapshotPath"`

	Port string `validate:"required,numeric"`

	KafkaBrokers []string
	KafkaTopic   string `validate:"required_with=KafkaBrokers"`
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.WeatherstackAPIKey = os.Getenv("WEATHERSTACK_API_KEY")
	cfg.WeatherstackBaseURL = getenvDefault("WEATHERSTACK_BASE_URL", "http://api.weatherstack.com/current")
	cfg.WeatherQuery = getenvDefault("WEATHER_QUERY", "Wuppertal")

	var err error
	if cfg.LongInterval, err = getenvDuration("LONG_INTERVAL", "30m"); err != nil {
		return nil, err
	}
	if cfg.ShortInterval, err = getenvDuration("SHORT_INTERVAL", "5s"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.ProviderMaxRetries = getenvInt("PROVIDER_MAX_RETRIES", 0)

	cfg.RegistryPath = getenvDefault("REGISTRY_PATH", "assets/sensors.csv")
	// The registry doubles as the full snapshot unless told otherwise.
	cfg.SnapshotPath = getenvDefault("SNAPSHOT_PATH", cfg.RegistryPath)
	cfg.Partition1Path = getenvDefault("PARTITION_1_PATH", "assets/sensor_1.csv")
	cfg.Partition2Path = getenvDefault("PARTITION_2_PATH", "assets/sensor_2.csv")

	cfg.Port = getenvDefault("PORT", "8080")

	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaTopic = getenvDefault("KAFKA_TOPIC", "quarter-readings")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.WeatherstackAPIKey == "" {
		log.Printf("INFO: WEATHERSTACK_API_KEY is empty; ground truth refreshes will fail until it is set")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

// getenvDuration accepts a Go duration ("30m") or a plain number of seconds ("1800").
func getenvDuration(key, def string) (time.Duration, error) {
	raw := getenvDefault(key, def)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
