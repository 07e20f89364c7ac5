package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorhill/cronexpr"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/source"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

const (
	DefaultTimezone         = "America/Montreal"
	DefaultSchedule         = "0 4 * * *"
	DefaultBackupPath       = "/backup"
	DefaultTokenFile        = "ha_token.txt"
	DefaultStationNumber    = "030315"
	DefaultWarningText      = "DONNÉES PÉRIMÉES ET IMPRÉCISES"
	defaultHomeAssistantTTL = 10 * time.Second
)

// Load reads configuration from a YAML file, applies defaults and validates it.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if cfg.HomeAssistant.Enabled() && cfg.HomeAssistant.Token == "" {
		token, err := findToken(filepath.Dir(path), cfg.HomeAssistant.TokenFile)
		if err != nil {
			return nil, err
		}
		cfg.HomeAssistant.Token = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML content after expanding environment variables, and
// applies defaults. It does not validate.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = DefaultSchedule
	}
	if c.Backup.Target == "" {
		c.Backup.Target = TargetFilesystem
	}
	if c.Backup.Target == TargetFilesystem && c.Backup.Path == "" {
		c.Backup.Path = DefaultBackupPath
	}
	if c.HomeAssistant.Timeout == 0 {
		c.HomeAssistant.Timeout = defaultHomeAssistantTTL
	}
	c.HomeAssistant.Token = strings.TrimSpace(c.HomeAssistant.Token)

	for i := range c.Pipelines {
		c.Pipelines[i].applyDefaults()
	}
}

func (p *PipelineConfig) applyDefaults() {
	p.Source.StationNumber = strings.TrimSpace(p.Source.StationNumber)
	if p.Source.StationNumber == "" {
		p.Source.StationNumber = DefaultStationNumber
	}
	if p.Retry.Count == 0 {
		p.Retry.Count = 3
	}

	switch p.Kind {
	case domain.PipelineKindTelemetry:
		setDuration(&p.Interval, 10*time.Minute)
		setDuration(&p.StaleThreshold, 2*time.Hour)
		setDuration(&p.Retry.Delay, 5*time.Second)
		setDuration(&p.Source.Timeout, 15*time.Second)
		setString(&p.Store.Artifact, "river_data.json")
		setString(&p.Store.Status, "status.json")
		setString(&p.Source.URL, source.TableURL(p.Source.StationNumber))
		setString(&p.Telemetry.RiverNameFallback, "Noire")

	case domain.PipelineKindGraph:
		setDuration(&p.Interval, 30*time.Minute)
		setDuration(&p.StaleThreshold, 12*time.Hour)
		setDuration(&p.Retry.Delay, 10*time.Second)
		setDuration(&p.Source.Timeout, 60*time.Second)
		setString(&p.Store.Artifact, "latest_graph.png")
		setString(&p.Store.Status, "last_success.json")
		setString(&p.Source.URL, source.GraphURL(p.Source.StationNumber))
		setString(&p.Graph.JPEGName, "latest_graph.jpg")
		setString(&p.Graph.WarningText, DefaultWarningText)
		if p.Graph.CropBottom == 0 {
			p.Graph.CropBottom = 40
		}
		if p.Graph.MaxWidth == 0 {
			p.Graph.MaxWidth = 720
		}
		if p.Graph.MaxHeight == 0 {
			p.Graph.MaxHeight = 437
		}
		if p.Graph.JPEGQuality == 0 {
			p.Graph.JPEGQuality = 75
		}
	}
}

// Validate checks struct tags and cross-field rules.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if _, err := cronexpr.Parse(c.Backup.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("backup.schedule: %w", err))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}

	switch c.Backup.Target {
	case TargetFilesystem:
		if c.Backup.Path == "" {
			errs = append(errs, errors.New("backup.path is required for the filesystem target"))
		}
	case TargetRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis target"))
		}
	case TargetPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres target"))
		}
	}

	if c.HomeAssistant.Enabled() && c.HomeAssistant.Token == "" {
		errs = append(errs, errors.New("home_assistant.token is required when base_url is set"))
	}

	seen := make(map[domain.PipelineID]bool)
	dirs := make(map[string]domain.PipelineID)
	for _, p := range c.Pipelines {
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate pipeline id %q", p.ID))
		}
		seen[p.ID] = true

		dir := filepath.Clean(p.Store.Dir)
		if other, ok := dirs[dir]; ok {
			errs = append(errs, fmt.Errorf("pipelines %q and %q share store dir %s", other, p.ID, dir))
		}
		dirs[dir] = p.ID

		for _, name := range []string{p.Store.Artifact, p.Store.Status, p.Graph.JPEGName} {
			if name == "" {
				continue
			}
			if err := storage.ValidateName(name); err != nil {
				errs = append(errs, fmt.Errorf("pipeline %q: %w", p.ID, err))
			} else if storage.IsTempName(name) {
				errs = append(errs, fmt.Errorf("pipeline %q: file name %q must not start with a dot", p.ID, name))
			}
		}
	}
	return errors.Join(errs...)
}

// findToken reads the Home Assistant token from the first existing token
// file next to the config file or in its parent directory.
func findToken(dir, name string) (string, error) {
	if name == "" {
		name = DefaultTokenFile
	}
	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = []string{filepath.Join(dir, name), filepath.Join(dir, "..", name)}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", path)
		}
		return token, nil
	}
	return "", fmt.Errorf("home assistant token not set and no %s found near %s", name, dir)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}
