package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Storage   StorageConfig
	Login     LoginConfig
}

type ServerConfig struct {
	Address         string
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int `mapstructure:"maxPerIP"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type StorageConfig struct {
	DataPath        string        `mapstructure:"dataPath"`
	BackupDir       string        `mapstructure:"backupDir"`
	CredentialsPath string        `mapstructure:"credentialsPath"`
	FlushInterval   time.Duration `mapstructure:"flushInterval"`
}

type LoginConfig struct {
	MaxAttempts      int           `mapstructure:"maxAttempts"`
	MinRetryInterval time.Duration `mapstructure:"minRetryInterval"`
}
