package httpet

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrConfig is wrapped by every configuration error.
var ErrConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment variables overriding the config file.
const EnvPrefix = "HTTPET"

// Special values of FileConfig.DatabasePath.
const (
	DatabaseMemory   = "memory"
	DatabaseDisabled = "none"
)

// FileConfig is the configuration of the httpet command.
// Values are read from a YAML file, then from HTTPET_* environment variables.
type FileConfig struct {
	BaseDomain    string `yaml:"baseDomain" split_words:"true"`
	ListenAddress string `yaml:"listenAddress" split_words:"true"`
	Port          int    `yaml:"port"`
	AssetRoot     string `yaml:"assetRoot" split_words:"true"`
	// sqlite file of the pet store; "memory" or "none"
	DatabasePath string `yaml:"databasePath" split_words:"true"`
	// add asset directories missing from the pet store as enabled pets on load
	SyncPets     bool   `yaml:"syncPets" split_words:"true"`
	Debug        bool   `yaml:"debug"`
	CacheControl string `yaml:"cacheControl" split_words:"true"`

	AssetCache AssetCacheConfig `yaml:"assetCache" split_words:"true"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit" split_words:"true"`
	Redis      RedisConfig      `yaml:"redis"`

	Metrics bool   `yaml:"metrics"`
	Gops    bool   `yaml:"gops"`
	LogFile string `yaml:"logFile" split_words:"true"`
}

type AssetCacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Entries int           `yaml:"entries"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RPS               float64 `yaml:"rps"`
	Burst             int     `yaml:"burst"`
	TrustForwardedFor bool    `yaml:"trustForwardedFor" split_words:"true"`
}

// RedisConfig enables hit counters in redis when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

func DefaultConfig() FileConfig {
	return FileConfig{
		BaseDomain:   "localhost",
		Port:         8080,
		AssetRoot:    "images",
		DatabasePath: "httpet.db",
		CacheControl: DefaultCacheControl,
		AssetCache: AssetCacheConfig{
			TTL:     5 * time.Minute,
			Entries: 256,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Redis: RedisConfig{
			Prefix: "httpet:stats",
			TTL:    24 * time.Hour,
		},
		Metrics: true,
	}
}

// LoadConfig reads the defaults, then filename if not empty, then the environment.
func LoadConfig(filename string) (FileConfig, error) {
	config := DefaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, errors.Wrapf(err, "parse config file %s", filename)
		}
	}
	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return config, errors.Wrap(err, "read environment")
	}
	return config, nil
}

// Validate checks the values that cannot be fixed at runtime.
func (c FileConfig) Validate() error {
	if _, err := NormalizeBaseDomain(c.BaseDomain); err != nil {
		return err
	}
	if c.AssetRoot == "" {
		return errors.Wrap(ErrConfig, "asset root is empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Wrapf(ErrConfig, "port %d out of range", c.Port)
	}
	if c.AssetCache.TTL < 0 || c.AssetCache.Entries < 0 {
		return errors.Wrap(ErrConfig, "asset cache ttl and entries must not be negative")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.Wrap(ErrConfig, "rate limit needs positive rps and burst")
	}
	return nil
}

// Address is the address to listen on.
func (c FileConfig) Address() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(c.Port))
}

// DatabaseFile returns the sqlite file name of the pet store,
// or false if the pet store is disabled.
func (c FileConfig) DatabaseFile() (string, bool) {
	switch c.DatabasePath {
	case "", DatabaseDisabled:
		return "", false
	case DatabaseMemory:
		return "", true
	}
	return c.DatabasePath, true
}
