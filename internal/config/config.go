// Package config loads and validates importer configuration via Viper.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Policy values for posts the normalizer cannot turn into a usable body.
const (
	UnknownPolicyFail = "fail"
	UnknownPolicySkip = "skip"
	VideoPolicySkip   = "skip"
	VideoPolicyKeep   = "keep"
)

// MaxPageSize is the largest window the v1 read API will return.
const MaxPageSize = 50

// Config captures all importer configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Store   StoreConfig   `mapstructure:"store"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	Import  ImportConfig  `mapstructure:"import"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SourceConfig controls how the remote read API is reached.
type SourceConfig struct {
	Blog              string  `mapstructure:"blog"`
	Scheme            string  `mapstructure:"scheme"`
	PageSize          int     `mapstructure:"page_size"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
}

// StoreConfig locates the destination content store.
type StoreConfig struct {
	Root       string `mapstructure:"root"`
	PrivateDir string `mapstructure:"private_dir"`
}

// AssetsConfig sets where downloaded images land and how entries reference them.
type AssetsConfig struct {
	Dir       string `mapstructure:"dir"`
	URLPrefix string `mapstructure:"url_prefix"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// ImportConfig holds run policies.
type ImportConfig struct {
	UnknownPolicy string `mapstructure:"unknown_policy"`
	VideoPolicy   string `mapstructure:"video_policy"`
	Resume        bool   `mapstructure:"resume"`
	WriteSettings bool   `mapstructure:"write_settings"`
}

// NotifyConfig holds metadata for publish-subscribe notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the end-of-run metrics export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BACKFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.blog", "")
	v.SetDefault("source.scheme", "https")
	v.SetDefault("source.page_size", MaxPageSize)
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("source.requests_per_second", 2.0)
	v.SetDefault("source.max_body_bytes", 0)
	v.SetDefault("store.root", "")
	v.SetDefault("store.private_dir", ".private")
	v.SetDefault("assets.dir", "static/photos")
	v.SetDefault("assets.url_prefix", "/static/photos")
	v.SetDefault("assets.gcs_bucket", "")
	v.SetDefault("assets.gcs_prefix", "photos")
	v.SetDefault("import.unknown_policy", UnknownPolicyFail)
	v.SetDefault("import.video_policy", VideoPolicyKeep)
	v.SetDefault("import.resume", true)
	v.SetDefault("import.write_settings", false)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_name", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. It runs after CLI
// flags have been applied, since the blog and root usually come from there.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source.Blog) == "" {
		return fmt.Errorf("source.blog must be set")
	}
	if strings.Contains(c.Source.Blog, "/") {
		return fmt.Errorf("source.blog must be a bare hostname, got %q", c.Source.Blog)
	}
	if c.Source.Scheme != "http" && c.Source.Scheme != "https" {
		return fmt.Errorf("source.scheme must be http or https")
	}
	if c.Source.PageSize <= 0 || c.Source.PageSize > MaxPageSize {
		return fmt.Errorf("source.page_size must be between 1 and %d", MaxPageSize)
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Source.RequestsPerSecond < 0 {
		return fmt.Errorf("source.requests_per_second must be >= 0")
	}
	if c.Source.MaxBodyBytes < 0 {
		return fmt.Errorf("source.max_body_bytes must be >= 0")
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Assets.Dir) == "" {
		return fmt.Errorf("assets.dir must be set")
	}
	switch c.Import.UnknownPolicy {
	case UnknownPolicyFail, UnknownPolicySkip:
	default:
		return fmt.Errorf("import.unknown_policy must be %q or %q", UnknownPolicyFail, UnknownPolicySkip)
	}
	switch c.Import.VideoPolicy {
	case VideoPolicySkip, VideoPolicyKeep:
	default:
		return fmt.Errorf("import.video_policy must be %q or %q", VideoPolicySkip, VideoPolicyKeep)
	}
	if c.Notify.TopicName != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic_name is set")
	}
	return nil
}

// ValidateStore checks only the store location, for commands that never
// contact the source blog.
func (c Config) ValidateStore() error {
	if strings.TrimSpace(c.Store.Root) == "" {
		return fmt.Errorf("store.root must be set")
	}
	root := filepath.ToSlash(filepath.Clean(c.Store.Root))
	if path.Base(root) == c.privateDir() || strings.Contains(root, "/"+c.privateDir()+"/") {
		return fmt.Errorf("store.root must be the web root, not the %s directory", c.privateDir())
	}
	return nil
}

// RequestTimeout converts the source timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// PrivateRoot is the directory holding JSON documents.
func (c Config) PrivateRoot() string {
	return filepath.Join(c.Store.Root, c.privateDir())
}

// AssetRoot is the directory holding downloaded images.
func (c Config) AssetRoot() string {
	return filepath.Join(c.Store.Root, filepath.FromSlash(c.Assets.Dir))
}

// APIRoot returns the read API endpoint for the configured blog.
func (c Config) APIRoot() string {
	return fmt.Sprintf("%s://%s/api/read/json", c.Source.Scheme, c.Source.Blog)
}

func (c Config) privateDir() string {
	if c.Store.PrivateDir == "" {
		return ".private"
	}
	return c.Store.PrivateDir
}
