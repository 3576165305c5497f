package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTokenTTL       = 24 * time.Hour
	DefaultPurgeInterval  = time.Minute
	DefaultMaxUploadBytes = 10 << 20
	DefaultMongoDatabase  = "securechat"
)

type Config struct {
	ServerAddr          string
	DatabaseDSN         string
	MongoURI            string
	MongoDatabase       string
	SigningKey          []byte
	AllowedOrigins      []string
	AdminEmails         []string
	RegistrationEnabled bool
	TokenTTL            time.Duration
	PurgeInterval       time.Duration
	MaxUploadBytes      int64
}

// Params holds the raw values collected from flags and the environment.
type Params struct {
	ServerAddr          string
	DatabaseDSN         string
	MongoURI            string
	MongoDatabase       string
	SigningSecret       string
	AllowedOrigins      []string
	AdminEmails         []string
	RegistrationEnabled bool
	TokenTTL            time.Duration
	PurgeInterval       time.Duration
	MaxUploadBytes      int64
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}

	return key, nil
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.MongoURI == "" {
		return nil, fmt.Errorf("mongo URI cannot be empty")
	}
	if p.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(p.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:          p.ServerAddr,
		DatabaseDSN:         p.DatabaseDSN,
		MongoURI:            p.MongoURI,
		MongoDatabase:       p.MongoDatabase,
		SigningKey:          signingKey,
		AllowedOrigins:      p.AllowedOrigins,
		AdminEmails:         normalizeEmails(p.AdminEmails),
		RegistrationEnabled: p.RegistrationEnabled,
		TokenTTL:            p.TokenTTL,
		PurgeInterval:       p.PurgeInterval,
		MaxUploadBytes:      p.MaxUploadBytes,
	}

	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = DefaultMongoDatabase
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = DefaultPurgeInterval
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	return cfg, nil
}

func normalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
