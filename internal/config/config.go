package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	CRM      CRMConfig      `envPrefix:"CRM_"`
	Gateway  GatewayConfig  `envPrefix:"GATEWAY_"`
	Realtime RealtimeConfig `envPrefix:"REALTIME_"`
	Composer ComposerConfig `envPrefix:"COMPOSER_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Auth     AuthConfig     `envPrefix:"AUTH_"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	// AllowOrigins is a regular expression matched against the Origin header.
	AllowOrigins string `env:"ALLOW_ORIGINS"`
	Pprof        bool   `env:"PPROF" envDefault:"false"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type CRMConfig struct {
	BaseURL    string        `env:"BASE_URL,required,notEmpty"`
	Token      string        `env:"TOKEN"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"15s"`
	RetryCount int           `env:"RETRY_COUNT" envDefault:"2"`
	PageSize   int           `env:"PAGE_SIZE" envDefault:"50"`
}

type GatewayConfig struct {
	BaseURL      string        `env:"BASE_URL,required,notEmpty"`
	Token        string        `env:"TOKEN"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"15s"`
	VideoTimeout time.Duration `env:"VIDEO_TIMEOUT" envDefault:"300s"`
	MaxImageSize int64         `env:"MAX_IMAGE_SIZE" envDefault:"16777216"`
	MaxVideoSize int64         `env:"MAX_VIDEO_SIZE" envDefault:"67108864"`
	MaxDocSize   int64         `env:"MAX_DOCUMENT_SIZE" envDefault:"104857600"`
}

type RealtimeConfig struct {
	URL                string        `env:"URL,required,notEmpty"`
	Token              string        `env:"TOKEN"`
	MinBackoff         time.Duration `env:"MIN_BACKOFF" envDefault:"500ms"`
	MaxBackoff         time.Duration `env:"MAX_BACKOFF" envDefault:"30s"`
	PingInterval       time.Duration `env:"PING_INTERVAL" envDefault:"25s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	RefetchLimit       int           `env:"REFETCH_LIMIT" envDefault:"50"`
	RefetchParallelism int           `env:"REFETCH_PARALLELISM" envDefault:"4"`
}

type ComposerConfig struct {
	TypingIdle   time.Duration `env:"TYPING_IDLE" envDefault:"2s"`
	DeleteWindow time.Duration `env:"DELETE_WINDOW" envDefault:"7m"`
	MaxRecording int           `env:"MAX_RECORDING_SECONDS" envDefault:"300"`
}

type DatabaseConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"omni_inbox"`
	// Snapshots older than this are dropped at startup.
	SnapshotRetention time.Duration `env:"SNAPSHOT_RETENTION" envDefault:"168h"`
}

type KafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"gateway.webhooks"`
	GroupID string   `env:"GROUP_ID" envDefault:"omni-inbox"`
	// Workers above 1 give up per-conversation ordering.
	Workers        int           `env:"WORKERS" envDefault:"1"`
	ConsumeTimeout time.Duration `env:"CONSUME_TIMEOUT" envDefault:"30s"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the bounds that env tags cannot express.
func (c *Config) Validate() error {
	if c.Composer.TypingIdle < time.Second || c.Composer.TypingIdle > 3*time.Second {
		return fmt.Errorf("COMPOSER_TYPING_IDLE must be between 1s and 3s, got %s", c.Composer.TypingIdle)
	}
	if c.Gateway.VideoTimeout < 180*time.Second {
		return fmt.Errorf("GATEWAY_VIDEO_TIMEOUT must be at least 180s, got %s", c.Gateway.VideoTimeout)
	}
	if c.Composer.MaxRecording <= 0 || c.Composer.MaxRecording > 300 {
		return fmt.Errorf("COMPOSER_MAX_RECORDING_SECONDS must be in 1..300, got %d", c.Composer.MaxRecording)
	}
	return nil
}
