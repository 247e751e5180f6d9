// vidvault/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port    string `mapstructure:"PORT"`
	BaseURL string `mapstructure:"BASE"`

	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	// Task store (MySQL 8+, SKIP LOCKED is required for the claim query).
	DatabaseDSN string `mapstructure:"DATABASE_DSN"`

	// Optional live-progress reporting. Empty address disables it.
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	// Storage sink.
	StorageURL    string        `mapstructure:"STORAGE_URL"`
	StorageKey    string        `mapstructure:"STORAGE_KEY"`
	StorageBucket string        `mapstructure:"STORAGE_BUCKET"`
	URLExpiry     time.Duration `mapstructure:"URL_EXPIRY"`

	// Source extractor.
	YtdlpBin       string `mapstructure:"YTDLP_BIN"`
	YtdlpExtraArgs string `mapstructure:"YTDLP_EXTRA_ARGS"`
	MaxHeight      int    `mapstructure:"MAX_HEIGHT"`

	// Streaming pipeline.
	ChunkSize    int64 `mapstructure:"CHUNK_SIZE"`
	PipeCapacity int   `mapstructure:"PIPE_CAPACITY"`

	// Per-stage budgets. The whole attempt gets their sum plus
	// OVERALL_MARGIN as an outer deadline.
	InfoTimeout     time.Duration `mapstructure:"INFO_TIMEOUT"`
	DownloadTimeout time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`
	UploadTimeout   time.Duration `mapstructure:"UPLOAD_TIMEOUT"`
	URLTimeout      time.Duration `mapstructure:"URL_TIMEOUT"`
	OverallMargin   time.Duration `mapstructure:"OVERALL_MARGIN"`

	// Worker loop.
	PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
	MaxRetries   int           `mapstructure:"MAX_RETRIES"`

	// Webhook delivery.
	WebhookTimeout  time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookAttempts int           `mapstructure:"WEBHOOK_ATTEMPTS"`
	WebhookBackoff  time.Duration `mapstructure:"WEBHOOK_BACKOFF"`

	// Minimum local resources required before the staged fallback is
	// allowed to materialize files on disk.
	MinFreeDisk int64 `mapstructure:"MIN_FREEDISK"`
	MinFreeMem  int64 `mapstructure:"MIN_FREEMEM"`

	TempDir string
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		// It is a string -> time.Duration. Parse it.
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to int64s for byte sizes.
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("DATABASE_DSN", "root:123456@tcp(localhost:3306)/vidvault?parseTime=true")
	vp.SetDefault("REDIS_ADDR", "")
	vp.SetDefault("STORAGE_URL", "")
	vp.SetDefault("STORAGE_KEY", "")
	vp.SetDefault("STORAGE_BUCKET", "videos")
	vp.SetDefault("URL_EXPIRY", "1h")
	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("YTDLP_EXTRA_ARGS", "")
	vp.SetDefault("MAX_HEIGHT", 720)
	vp.SetDefault("CHUNK_SIZE", "8MB")
	vp.SetDefault("PIPE_CAPACITY", 50)
	vp.SetDefault("INFO_TIMEOUT", "5m")
	vp.SetDefault("DOWNLOAD_TIMEOUT", "15m")
	vp.SetDefault("UPLOAD_TIMEOUT", "10m")
	vp.SetDefault("URL_TIMEOUT", "30s")
	vp.SetDefault("OVERALL_MARGIN", "1m")
	vp.SetDefault("POLL_INTERVAL", "5s")
	vp.SetDefault("MAX_RETRIES", 2)
	vp.SetDefault("WEBHOOK_TIMEOUT", "10s")
	vp.SetDefault("WEBHOOK_ATTEMPTS", 3)
	vp.SetDefault("WEBHOOK_BACKOFF", "1s")
	vp.SetDefault("MIN_FREEDISK", "2GB")
	vp.SetDefault("MIN_FREEMEM", "200MB")

	// Load from config file
	vp.SetConfigName("vidvault_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/vidvault/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("VIDVAULT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// Unmarshal the config, providing our custom composed hooks.
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AttemptBudget is the outer deadline for one whole processing attempt:
// the sum of the stage budgets plus a fixed safety margin. Exceeding it is
// reported as an overall timeout, distinct from per-stage timeouts.
func (c *Config) AttemptBudget() time.Duration {
	return c.InfoTimeout + c.DownloadTimeout + c.UploadTimeout + c.URLTimeout + c.OverallMargin
}
