package config

import (
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL  string `env:"DATABASE_URL"`
	NATSStoreDir string `env:"NATS_STORE_DIR" envDefault:"./data/nats"`

	// SSE session tunables.
	PollIntervalMs int `env:"POLL_INTERVAL_MS" envDefault:"50"`
	ReadBatchSize  int `env:"READ_BATCH_SIZE" envDefault:"100"`
	DrainBatchSize int `env:"DRAIN_BATCH_SIZE" envDefault:"1000"`
	KeepaliveSecs  int `env:"KEEPALIVE_INTERVAL_SECS" envDefault:"15"`
	MaxStreamSecs  int `env:"MAX_STREAM_SECS" envDefault:"300"`

	// Archive batch writer.
	WriterBufferSize int `env:"WRITER_BUFFER_SIZE" envDefault:"10000"`
	WriterBatchSize  int `env:"WRITER_BATCH_SIZE" envDefault:"100"`
	WriterFlushMs    int `env:"WRITER_FLUSH_MS" envDefault:"100"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
