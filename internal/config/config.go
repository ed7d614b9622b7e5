package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// JWTConfig defines JWT specific configuration
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// UploadConfig tunes the chunked upload pipeline.
type UploadConfig struct {
	// ChunkDir is the scratch directory for in-flight chunk payloads.
	// One subdirectory per upload session, removed on finish/cancel/expiry.
	ChunkDir      string        `mapstructure:"chunk_dir"`
	MaxChunks     int           `mapstructure:"max_chunks"`      // Upper bound on declared total_chunks
	MaxChunkBytes int64         `mapstructure:"max_chunk_bytes"` // Upper bound on a single chunk payload
	SessionTTL    time.Duration `mapstructure:"session_ttl"`     // Idle time after which a session is swept
	SweepSchedule string        `mapstructure:"sweep_schedule"`  // Cron spec for the expiry sweep
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Environment variable handling, e.g. server.address -> SERVER_ADDRESS,
	// upload.session_ttl -> UPLOAD_SESSION_TTL.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("database.uri", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "fotobank")
	viper.SetDefault("s3.use_ssl", true)
	viper.SetDefault("jwt.expiration", "1h")
	viper.SetDefault("upload.chunk_dir", "/tmp/fotobank_chunks")
	viper.SetDefault("upload.max_chunks", 10000)
	viper.SetDefault("upload.max_chunk_bytes", 8*1024*1024)
	viper.SetDefault("upload.session_ttl", "24h")
	viper.SetDefault("upload.sweep_schedule", "@every 15m")

	err = viper.ReadInConfig()
	// A missing config file is fine; env vars and defaults still apply.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}
