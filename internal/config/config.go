// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthConfig holds the credential material for one mailbox.
// Method "password" uses IMAP LOGIN; "oauth2" fetches a bearer token via
// the client-credentials grant and authenticates with SASL OAUTHBEARER.
type AuthConfig struct {
	Method       string   `yaml:"method"`
	Password     string   `yaml:"password"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// FolderPolicy controls how one folder of a mailbox is processed.
type FolderPolicy struct {
	Enabled            bool `yaml:"enabled"`
	ProcessAll         bool `yaml:"process_all"`
	ProcessAutoReplies bool `yaml:"process_auto_replies"`
}

// Mailbox holds the configuration for a single IMAP account.
// Host/Port/TLS are only required for provider "custom"; the named
// providers carry their own connection profiles.
type Mailbox struct {
	Name         string
	Provider     string // gmail, outlook, yahoo, icloud, custom
	Address      string
	Auth         AuthConfig
	Host         string
	Port         int
	TLS          bool
	Folders      map[string]FolderPolicy
	BatchSize    int
	LookbackDays int
}

// DedupConfig controls the deduplication cache.
type DedupConfig struct {
	Capacity       int
	TTL            time.Duration
	FuzzyThreshold float64
	FuzzyWindow    time.Duration
	SweepInterval  time.Duration
	SnapshotPath   string
}

// S3Config holds object-storage credentials for the S3 attachment sink.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// AttachmentConfig controls attachment extraction, limits and storage.
type AttachmentConfig struct {
	Save             bool
	Storage          string // "filesystem" or "s3"
	BasePath         string
	S3               S3Config
	MaxFileBytes     int64
	MaxTotalBytes    int64
	AllowExecutables bool
}

// Config holds all configuration for the mail ingestion service.
type Config struct {
	Mailboxes []Mailbox

	// Sync behaviour
	SyncInterval        time.Duration
	Workers             int
	MaxEmailsPerSession int

	Dedup       DedupConfig
	Attachments AttachmentConfig

	// Ticket sink (Redis)
	RedisURL     string
	TicketsQueue string

	// Sync-run log (Postgres, optional; empty disables it)
	DatabaseURL string

	// Status/health HTTP server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailboxes []struct {
		Name         string                  `yaml:"name"`
		Provider     string                  `yaml:"provider"`
		Address      string                  `yaml:"address"`
		Auth         AuthConfig              `yaml:"auth"`
		Host         string                  `yaml:"host"`
		Port         int                     `yaml:"port"`
		TLS          *bool                   `yaml:"tls"`
		Folders      map[string]FolderPolicy `yaml:"folders"`
		BatchSize    int                     `yaml:"batch_size"`
		LookbackDays int                     `yaml:"lookback_days"`
	} `yaml:"mailboxes"`
	Sync struct {
		Interval            string `yaml:"interval"`
		Workers             int    `yaml:"workers"`
		MaxEmailsPerSession int    `yaml:"max_emails_per_session"`
	} `yaml:"sync"`
	Dedup struct {
		Capacity       int     `yaml:"capacity"`
		TTL            string  `yaml:"ttl"`
		FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
		FuzzyWindow    string  `yaml:"fuzzy_window"`
		SweepInterval  string  `yaml:"sweep_interval"`
		SnapshotPath   string  `yaml:"snapshot_path"`
	} `yaml:"dedup"`
	Attachments struct {
		Save             *bool    `yaml:"save"`
		Storage          string   `yaml:"storage"`
		BasePath         string   `yaml:"base_path"`
		S3               S3Config `yaml:"s3"`
		MaxFileBytes     int64    `yaml:"max_file_bytes"`
		MaxTotalBytes    int64    `yaml:"max_total_bytes"`
		AllowExecutables bool     `yaml:"allow_executables"`
	} `yaml:"attachments"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Tickets string `yaml:"tickets"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML bytes. Split out of Load for tests.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		SyncInterval:        durationOrDefault(raw.Sync.Interval, envOrDefaultDuration("SYNC_INTERVAL", 5*time.Minute)),
		Workers:             intOrDefault(raw.Sync.Workers, envOrDefaultInt("SYNC_WORKERS", 3)),
		MaxEmailsPerSession: intOrDefault(raw.Sync.MaxEmailsPerSession, envOrDefaultInt("MAX_EMAILS_PER_SESSION", 1000)),
		Dedup: DedupConfig{
			Capacity:       intOrDefault(raw.Dedup.Capacity, 10000),
			TTL:            durationOrDefault(raw.Dedup.TTL, 7*24*time.Hour),
			FuzzyThreshold: floatOrDefault(raw.Dedup.FuzzyThreshold, 0.9),
			FuzzyWindow:    durationOrDefault(raw.Dedup.FuzzyWindow, 3*time.Hour),
			SweepInterval:  durationOrDefault(raw.Dedup.SweepInterval, time.Hour),
			SnapshotPath:   raw.Dedup.SnapshotPath,
		},
		Attachments: AttachmentConfig{
			Save:             boolOrDefault(raw.Attachments.Save, true),
			Storage:          firstNonEmpty(raw.Attachments.Storage, "filesystem"),
			BasePath:         firstNonEmpty(raw.Attachments.BasePath, "/var/lib/mailingest/attachments"),
			S3:               raw.Attachments.S3,
			MaxFileBytes:     int64OrDefault(raw.Attachments.MaxFileBytes, 25*1024*1024),
			MaxTotalBytes:    int64OrDefault(raw.Attachments.MaxTotalBytes, 100*1024*1024),
			AllowExecutables: raw.Attachments.AllowExecutables,
		},
		RedisURL:     firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		TicketsQueue: firstNonEmpty(raw.Redis.Queues.Tickets, envOrDefault("TICKETS_QUEUE", "tickets")),
		DatabaseURL:  firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		Port:         envOrDefaultInt("PORT", 8080),
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	// Build mailbox configs
	for _, m := range raw.Mailboxes {
		mb := Mailbox{
			Name:         m.Name,
			Provider:     strings.ToLower(strings.TrimSpace(m.Provider)),
			Address:      m.Address,
			Auth:         m.Auth,
			Host:         m.Host,
			Port:         m.Port,
			TLS:          boolOrDefault(m.TLS, true),
			Folders:      m.Folders,
			BatchSize:    intOrDefault(m.BatchSize, 50),
			LookbackDays: intOrDefault(m.LookbackDays, 30),
		}

		if mb.Address == "" || !mb.hasCredentials() {
			// Skip mailboxes with empty credentials (commented out in YAML)
			continue
		}

		if mb.Name == "" {
			mb.Name = mb.Address
		}
		if mb.Auth.Method == "" {
			mb.Auth.Method = "password"
		}
		if len(mb.Folders) == 0 {
			mb.Folders = map[string]FolderPolicy{
				"INBOX": {Enabled: true},
			}
		}

		if err := mb.validate(); err != nil {
			return nil, fmt.Errorf("mailbox %s: %w", mb.Name, err)
		}

		cfg.Mailboxes = append(cfg.Mailboxes, mb)
	}

	if len(cfg.Mailboxes) == 0 {
		return nil, fmt.Errorf("no mailboxes configured; check config.yaml and environment variables")
	}

	if s := cfg.Attachments.Storage; s != "filesystem" && s != "s3" {
		return nil, fmt.Errorf("attachments.storage must be filesystem or s3, got %q", s)
	}
	if cfg.Attachments.Storage == "s3" && cfg.Attachments.S3.Bucket == "" {
		return nil, fmt.Errorf("attachments.storage s3 requires attachments.s3.bucket")
	}

	return cfg, nil
}

// knownProviders is the closed set of provider tags accepted in config.
// Connection profiles for the named providers live in the mail client.
var knownProviders = map[string]bool{
	"gmail":   true,
	"outlook": true,
	"yahoo":   true,
	"icloud":  true,
	"custom":  true,
}

func (m *Mailbox) validate() error {
	if !knownProviders[m.Provider] {
		return fmt.Errorf("unknown provider %q", m.Provider)
	}
	if m.Provider == "custom" && (m.Host == "" || m.Port == 0) {
		return fmt.Errorf("provider custom requires explicit host and port")
	}
	switch m.Auth.Method {
	case "password":
		if m.Auth.Password == "" {
			return fmt.Errorf("auth method password requires a password")
		}
	case "oauth2":
		if m.Auth.ClientID == "" || m.Auth.ClientSecret == "" || m.Auth.TokenURL == "" {
			return fmt.Errorf("auth method oauth2 requires client_id, client_secret and token_url")
		}
	default:
		return fmt.Errorf("unknown auth method %q", m.Auth.Method)
	}
	enabled := 0
	for _, p := range m.Folders {
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no folders enabled")
	}
	return nil
}

func (m *Mailbox) hasCredentials() bool {
	if m.Auth.Password != "" {
		return true
	}
	return m.Auth.ClientID != "" && m.Auth.ClientSecret != ""
}

// EnabledFolders returns the folder names with Enabled set, in sorted order
// so sync runs are deterministic.
func (m *Mailbox) EnabledFolders() []string {
	var names []string
	for name, p := range m.Folders {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOrDefault(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func intOrDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func int64OrDefault(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}

func floatOrDefault(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func boolOrDefault(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
