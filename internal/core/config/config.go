package config

import (
	"time"

	"github.com/vietddude/riverwatch/internal/core/domain"
	redisclient "github.com/vietddude/riverwatch/internal/infra/redis"
	"github.com/vietddude/riverwatch/internal/infra/storage/postgres"
)

// Backup target kinds.
const (
	TargetFilesystem = "filesystem"
	TargetRedis      = "redis"
	TargetPostgres   = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Timezone      string              `yaml:"timezone"`
	Backup        BackupConfig        `yaml:"backup"`
	Redis         redisclient.Config  `yaml:"redis"`
	Database      postgres.Config     `yaml:"database"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Pipelines     []PipelineConfig    `yaml:"pipelines" validate:"required,min=1,dive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=0,max=65535"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// BackupConfig selects the durable target and its schedule.
type BackupConfig struct {
	Schedule string `yaml:"schedule"` // cron expression
	Target   string `yaml:"target" validate:"oneof=filesystem redis postgres"`
	Path     string `yaml:"path"` // filesystem target root
}

// HomeAssistantConfig holds the REST API settings. An empty BaseURL disables publishing.
type HomeAssistantConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	Token     string        `yaml:"token"`
	TokenFile string        `yaml:"token_file"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Enabled reports whether readings are published.
func (c HomeAssistantConfig) Enabled() bool { return c.BaseURL != "" }

// PipelineConfig holds settings for one pipeline.
type PipelineConfig struct {
	ID             domain.PipelineID   `yaml:"id" validate:"required,excludesall=/\\ "`
	Kind           domain.PipelineKind `yaml:"kind" validate:"oneof=telemetry graph"`
	Interval       time.Duration       `yaml:"interval" validate:"gt=0"`
	StaleThreshold time.Duration       `yaml:"stale_threshold" validate:"gt=0"`
	Retry          RetryConfig         `yaml:"retry"`
	Store          StoreConfig         `yaml:"store"`
	Source         SourceConfig        `yaml:"source"`
	Telemetry      TelemetryConfig     `yaml:"telemetry"`
	Graph          GraphConfig         `yaml:"graph"`
}

// RetryConfig bounds one fetch attempt.
type RetryConfig struct {
	Count int           `yaml:"count" validate:"min=1,max=10"`
	Delay time.Duration `yaml:"delay" validate:"gte=0"`
}

// StoreConfig locates the ephemeral store.
type StoreConfig struct {
	Dir      string `yaml:"dir" validate:"required"`
	Artifact string `yaml:"artifact" validate:"required"`
	Status   string `yaml:"status" validate:"required,nefield=Artifact"`
}

// SourceConfig locates the remote page.
type SourceConfig struct {
	URL           string        `yaml:"url" validate:"omitempty,url"`
	StationNumber string        `yaml:"station_number" validate:"required,numeric"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
}

// TelemetryConfig controls how the station name is built.
type TelemetryConfig struct {
	StationNamePrefix string `yaml:"station_name_prefix"`
	RiverName         string `yaml:"river_name"`
	RiverNameFallback string `yaml:"river_name_fallback"`
}

// GraphConfig controls graph processing.
type GraphConfig struct {
	CropBottom  int    `yaml:"crop_bottom" validate:"gte=0"`
	MaxWidth    int    `yaml:"max_width" validate:"gte=0"`
	MaxHeight   int    `yaml:"max_height" validate:"gte=0"`
	JPEGName    string `yaml:"jpeg_name"`
	JPEGQuality int    `yaml:"jpeg_quality" validate:"gte=0,lte=100"`
	WarningText string `yaml:"warning_text"`
}

// Pipeline returns the pipeline with the given id.
func (c *AppConfig) Pipeline(id domain.PipelineID) (PipelineConfig, bool) {
	for _, p := range c.Pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return PipelineConfig{}, false
}

// Location returns the configured timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
