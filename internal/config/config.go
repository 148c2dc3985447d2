// Package config handles parsing and writing of settingsync.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/bolasblack/settingsync/internal/util"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// StorageBackend selects how the local history is stored.
type StorageBackend string

const (
	// BackendGit keeps history in a git repository.
	BackendGit StorageBackend = "git"
	// BackendObjects keeps history as content-addressed files.
	BackendObjects StorageBackend = "objects"
)

// RemoteType selects the shared settings store.
type RemoteType string

const (
	RemoteDir  RemoteType = "dir"
	RemoteHTTP RemoteType = "http"
	RemoteS3   RemoteType = "s3"
)

// Storage configures the local history.
type Storage struct {
	Backend StorageBackend `toml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=git,enum=objects,description=History storage backend"`
}

// Remote configures the shared settings store. Which fields apply depends on Type.
type Remote struct {
	Type     RemoteType `toml:"type" json:"type" jsonschema:"required,enum=dir,enum=http,enum=s3,description=Remote store type"`
	Path     string     `toml:"path,omitempty" json:"path,omitempty" jsonschema:"description=Shared directory (dir)"`
	URL      string     `toml:"url,omitempty" json:"url,omitempty" jsonschema:"description=Settings server base URL (http)"`
	Bucket   string     `toml:"bucket,omitempty" json:"bucket,omitempty" jsonschema:"description=Bucket name (s3)"`
	Key      string     `toml:"key,omitempty" json:"key,omitempty" jsonschema:"description=Object key (s3)"`
	Region   string     `toml:"region,omitempty" json:"region,omitempty" jsonschema:"description=Bucket region (s3)"`
	Endpoint string     `toml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"description=Custom S3-compatible endpoint (s3)"`
}

// Sync configures change detection.
type Sync struct {
	PollInterval string   `toml:"poll_interval,omitempty" json:"poll_interval,omitempty" jsonschema:"description=How often the remote is checked (e.g. 5m)"`
	Debounce     string   `toml:"debounce,omitempty" json:"debounce,omitempty" jsonschema:"description=Quiet period before local edits are synced (e.g. 500ms)"`
	Include      []string `toml:"include,omitempty" json:"include,omitempty" jsonschema:"description=Glob patterns of synced files; empty means all"`
	Exclude      []string `toml:"exclude,omitempty" json:"exclude,omitempty" jsonschema:"description=Glob patterns of files never synced"`
}

// Server configures settingsync serve.
type Server struct {
	Listen string `toml:"listen,omitempty" json:"listen,omitempty" jsonschema:"description=Listen address"`
	Dir    string `toml:"dir,omitempty" json:"dir,omitempty" jsonschema:"description=Directory holding the served snapshot"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,description=Log level"`
	Format string `toml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=text,enum=json,description=Log format"`
}

// Config is the settingsync configuration.
type Config struct {
	ConfigDir  string  `toml:"config_dir" json:"config_dir" jsonschema:"required,description=Directory holding the synced settings"`
	StorageDir string  `toml:"storage_dir,omitempty" json:"storage_dir,omitempty" jsonschema:"description=Directory for history and sync state (default <config_dir>/settingsSync)"`
	Storage    Storage `toml:"storage,omitempty" json:"storage,omitempty" jsonschema:"description=Local history"`
	Remote     Remote  `toml:"remote" json:"remote" jsonschema:"required,description=Shared settings store"`
	Sync       Sync    `toml:"sync,omitempty" json:"sync,omitempty" jsonschema:"description=Change detection"`
	Server     Server  `toml:"server,omitempty" json:"server,omitempty" jsonschema:"description=Settings server"`
	Log        Log     `toml:"log,omitempty" json:"log,omitempty" jsonschema:"description=Logging"`
}

// DefaultConfig returns a Config with defaults for every optional field.
func DefaultConfig() Config {
	return Config{
		Storage: Storage{Backend: BackendGit},
		Remote:  Remote{Type: RemoteDir},
		Sync: Sync{
			PollInterval: "5m",
			Debounce:     "500ms",
		},
		Server: Server{Listen: "127.0.0.1:8765"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Sync.PollInterval == "" {
		c.Sync.PollInterval = d.Sync.PollInterval
	}
	if c.Sync.Debounce == "" {
		c.Sync.Debounce = d.Sync.Debounce
	}
	if c.Server.Listen == "" {
		c.Server.Listen = d.Server.Listen
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// resolvePaths makes relative paths relative to base.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.ConfigDir = abs(c.ConfigDir)
	c.StorageDir = abs(c.StorageDir)
	c.Server.Dir = abs(c.Server.Dir)
	if c.Remote.Type == RemoteDir {
		c.Remote.Path = abs(c.Remote.Path)
	}
}

// Validate reports every problem in the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.ConfigDir == "" {
		errs = append(errs, errors.New("config_dir is required"))
	}

	switch c.Storage.Backend {
	case BackendGit, BackendObjects:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}

	switch c.Remote.Type {
	case RemoteDir:
		if c.Remote.Path == "" {
			errs = append(errs, errors.New("remote.path is required for a dir remote"))
		}
	case RemoteHTTP:
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.url: %q is not an http(s) URL", c.Remote.URL))
		}
	case RemoteS3:
		if c.Remote.Bucket == "" {
			errs = append(errs, errors.New("remote.bucket is required for an s3 remote"))
		}
		if c.Remote.Key == "" {
			errs = append(errs, errors.New("remote.key is required for an s3 remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.type: unknown type %q", c.Remote.Type))
	}

	if d, err := time.ParseDuration(c.Sync.PollInterval); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("sync.poll_interval: invalid duration %q", c.Sync.PollInterval))
	}
	if d, err := time.ParseDuration(c.Sync.Debounce); err != nil || d < 0 {
		errs = append(errs, fmt.Errorf("sync.debounce: invalid duration %q", c.Sync.Debounce))
	}
	for _, p := range append(append([]string{}, c.Sync.Include...), c.Sync.Exclude...) {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("sync: invalid pattern %q", p))
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// PollInterval returns the parsed sync.poll_interval.
func (c Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sync.PollInterval)
	return d
}

// Debounce returns the parsed sync.debounce.
func (c Config) Debounce() time.Duration {
	d, _ := time.ParseDuration(c.Sync.Debounce)
	return d
}

// ResolvedStorageDir returns storage_dir, defaulting to a directory inside
// config_dir.
func (c Config) ResolvedStorageDir() string {
	if c.StorageDir != "" {
		return c.StorageDir
	}
	return filepath.Join(c.ConfigDir, util.DefaultStorageDir)
}

// ResolvedServerDir returns server.dir, defaulting to a directory inside the
// storage dir.
func (c Config) ResolvedServerDir() string {
	if c.Server.Dir != "" {
		return c.Server.Dir
	}
	return filepath.Join(c.ResolvedStorageDir(), "server")
}

// RemoteID identifies the configured remote. A change of RemoteID
// invalidates the sync marker.
func (c Config) RemoteID() string {
	switch c.Remote.Type {
	case RemoteDir:
		return "dir:" + c.Remote.Path
	case RemoteHTTP:
		return "http:" + c.Remote.URL
	case RemoteS3:
		return "s3:" + c.Remote.Endpoint + "/" + c.Remote.Bucket + "/" + c.Remote.Key
	default:
		return string(c.Remote.Type)
	}
}

// LoadConfig reads, defaults and validates the configuration at path.
// Relative paths inside the file are resolved against its directory.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("failed to parse config %s: %s", path, strict.String())
		}
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// SchemaURL is where the published JSON Schema lives.
const SchemaURL = "https://raw.githubusercontent.com/bolasblack/settingsync/refs/heads/master/settingsync.schema.json"

// SchemaComment is the TOML comment that references the JSON Schema for editor autocomplete.
const SchemaComment = "#:schema " + SchemaURL + "\n\n"

// SaveConfig writes cfg to path with the schema comment header.
func SaveConfig(fs afero.Fs, path string, cfg Config) error {
	var buf bytes.Buffer
	buf.WriteString(SchemaComment)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return afero.WriteFile(fs, path, buf.Bytes(), 0o644)
}
