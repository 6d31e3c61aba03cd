package config

import (
	"os"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const DefaultLocation = "/etc/originfs/config.yml"

var (
	mu      sync.RWMutex
	_config *Configuration
)

// StorageConfiguration defines where the origin lives on the host.
type StorageConfiguration struct {
	// Root is the host directory backing the origin. It is created if it does
	// not exist.
	Root string `default:"/var/lib/originfs/origin" yaml:"root"`

	// UseOpenat2 resolves every path with openat2(RESOLVE_BENEATH) instead of
	// openat followed by a check of the resolved descriptor. Requires Linux 5.6
	// or newer.
	UseOpenat2 bool `default:"false" yaml:"use_openat2"`
}

// PoolConfiguration controls the access workers.
type PoolConfiguration struct {
	// Capacity is the maximum number of workers started.
	Capacity int `default:"3" yaml:"capacity"`

	// CallTimeout bounds every call made to a worker. A zero value waits
	// forever.
	CallTimeout time.Duration `default:"0s" yaml:"call_timeout"`

	// Codec used for messages between the pool and its workers, either "json"
	// or "cbor".
	Codec string `default:"json" yaml:"codec"`
}

// TreeConfiguration controls the directory and file layer.
type TreeConfiguration struct {
	// ChunkSize is the number of bytes moved by a single read or write.
	ChunkSize int `default:"65536" yaml:"chunk_size"`

	// CopyConcurrency is the number of children of one directory copied at
	// the same time.
	CopyConcurrency int `default:"8" yaml:"copy_concurrency"`
}

// ApiConfiguration defines the configuration for the explorer API.
type ApiConfiguration struct {
	// The interface that the webserver should bind to.
	Host string `default:"127.0.0.1" yaml:"host"`

	// The port that the webserver should bind to.
	Port int `default:"8090" yaml:"port"`

	// The maximum size of a file written through the API, in megabytes.
	UploadLimit int64 `default:"100" yaml:"upload_limit"`
}

type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if the daemon should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool `yaml:"debug"`

	// Directory where logs are written in addition to the console. Logging to
	// a file is disabled when this is empty.
	LogDirectory string `yaml:"log_directory"`

	Storage StorageConfiguration `yaml:"storage"`
	Pool    PoolConfiguration    `yaml:"pool"`
	Tree    TreeConfiguration    `yaml:"tree"`
	Api     ApiConfiguration     `yaml:"api"`
}

// NewAtPath creates a new struct and set the path where it should be stored.
// This function does not modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Configures the default values for many of the configuration options present
	// in the structs. Values set in the configuration file will overwrite these.
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	c.path = path
	return &c, nil
}

// Set the global configuration instance. This is a blocking operation such
// that anything trying to set a different configuration value, or read the
// configuration will be paused until it is complete.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// Get returns a copy of the global configuration. If no configuration has
// been set yet, the defaults are returned.
func Get() *Configuration {
	mu.RLock()
	defer mu.RUnlock()
	if _config == nil {
		c, _ := NewAtPath("")
		return c
	}
	// Create a copy of the struct so that all modifications made beyond this
	// point are immutable.
	c := *_config
	return &c
}

// Update performs an in-situ update of the global configuration object using
// a thread-safe mutex lock. This is the correct way to make modifications to
// the global configuration.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	defer mu.Unlock()
	if _config == nil {
		_config, _ = NewAtPath("")
	}
	callback(_config)
}

// Path returns the location of the configuration file.
func (c *Configuration) Path() string {
	return c.path
}

// FromFile reads the configuration from the provided file and stores it in
// the global singleton for this instance. Environment variables referenced as
// ${NAME} in the file are expanded before it is parsed.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}
	b = []byte(os.ExpandEnv(string(b)))
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.WrapIf(err, "config: failed to parse configuration file")
	}
	if err := c.validate(); err != nil {
		return err
	}
	Set(c)
	return nil
}

func (c *Configuration) validate() error {
	if c.Storage.Root == "" {
		return errors.New("config: storage.root must not be empty")
	}
	if c.Pool.Capacity < 1 {
		return errors.New("config: pool.capacity must be at least 1")
	}
	if c.Pool.Codec != "json" && c.Pool.Codec != "cbor" {
		return errors.Errorf("config: unknown pool.codec %q", c.Pool.Codec)
	}
	if c.Tree.ChunkSize < 1 {
		return errors.New("config: tree.chunk_size must be at least 1")
	}
	if c.Pool.CallTimeout < 0 {
		return errors.New("config: pool.call_timeout must not be negative")
	}
	return nil
}

// WriteToDisk writes the configuration to the path it was loaded from.
func (c *Configuration) WriteToDisk() error {
	if c.path == "" {
		return errors.New("config: cannot write configuration, no path defined in struct")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, b, 0o600); err != nil {
		return err
	}
	return nil
}
