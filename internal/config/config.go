package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Push transports.
const (
	TransportSocketIO = "socketio"
	TransportMQTT     = "mqtt"
)

type AppConfig struct {
	AppEnv   string     `validate:"oneof=dev prod"`
	LogLevel slog.Level `validate:"-"`
	Port     string     `validate:"required,numeric"`

	// APIBaseURL is where GET /weather, POST /add and DELETE /delete/{id} live.
	APIBaseURL string `validate:"required,url"`

	// PushTransport selects how weather_update/weather_delete events arrive.
	PushTransport string `validate:"oneof=socketio mqtt"`
	PushURL       string `validate:"required,url"`

	MQTTBroker      string `validate:"required_if=PushTransport mqtt"`
	MQTTPort        int    `validate:"gt=0,lte=65535"`
	MQTTClientID    string `validate:"required_if=PushTransport mqtt"`
	MQTTTopicPrefix string `validate:"required_if=PushTransport mqtt"`

	// FeedURL enables the raw websocket feed listener when set.
	FeedURL      string `validate:"omitempty,url"`
	FeedMaxItems int    `validate:"gte=0"` // 0 = unlimited

	HTTPTimeout    time.Duration `validate:"gt=0"`
	LoadMaxRetries int           `validate:"gte=0,lte=10"`
	ResyncInterval time.Duration `validate:"gte=0"` // 0 = disabled

	DedupInserts    bool
	StoreMaxRecords int `validate:"gte=0"` // 0 = unlimited
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
// Values from a .env file in the working directory never override the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	cfg := &AppConfig{}

	cfg.AppEnv = getenvDefault("APP_ENV", "dev")

	level, err := parseLogLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.APIBaseURL = getenvDefault("API_BASE_URL", "http://localhost:5000")
	cfg.PushTransport = strings.ToLower(getenvDefault("PUSH_TRANSPORT", TransportSocketIO))
	// The tracker server serves Socket.IO next to its REST API by default.
	cfg.PushURL = getenvDefault("PUSH_URL", cfg.APIBaseURL)

	cfg.MQTTBroker = getenvDefault("MQTT_BROKER", "localhost")
	if cfg.MQTTPort, err = getenvInt("MQTT_PORT", 1883); err != nil {
		return nil, err
	}
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "live-weather-tracker")
	cfg.MQTTTopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", "weather")

	cfg.FeedURL = os.Getenv("FEED_URL")
	if cfg.FeedMaxItems, err = getenvInt("FEED_MAX_ITEMS", 1000); err != nil {
		return nil, err
	}

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.LoadMaxRetries, err = getenvInt("LOAD_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.ResyncInterval, err = getenvDuration("RESYNC_INTERVAL", "0s"); err != nil {
		return nil, err
	}

	if cfg.DedupInserts, err = getenvBool("DEDUP_INSERTS", false); err != nil {
		return nil, err
	}
	if cfg.StoreMaxRecords, err = getenvInt("STORE_MAX_RECORDS", 0); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
