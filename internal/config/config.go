package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	DatabaseURL    string
	RedisURL       string
	SigningKey     []byte
	AllowedOrigins []string
	Env            string
	LogLevel       string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseURL, redisURL, base64Secret string, allowedOrigins []string, env, logLevel string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if env == "" {
		env = "development"
	}
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseURL:    databaseURL,
		RedisURL:       redisURL,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Env:            env,
		LogLevel:       logLevel,
	}, nil
}
