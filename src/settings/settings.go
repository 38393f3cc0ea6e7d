package settings

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Arguments struct {
	// The path to an optional YAML config file
	ConfigFile string

	// The path to an optional .env file with overrides
	EnvFile string

	// Which document store backs the service
	// mongo, memory
	Storage string

	// Connection settings for the mongo store
	MongoURI      string
	MongoDatabase string

	// the host name or IP address to listen on
	Host string

	// the port number to listen on
	Port int

	LogDir        string
	PrintToScreen bool

	// Strongly verbose logging
	Verbose bool

	Debug bool

	// How long a cached document stays valid before it is re-read
	// from the store
	CacheTTL time.Duration

	// Run a defensive relation sync every time a detail session
	// loads, even without a user edit
	RepairOnLoad bool

	Version string
}

// RelationConfig is the config-file shape of a relation declaration.
// The relations package converts these into its own validated table.
type RelationConfig struct {
	Name       string `yaml:"name"`
	Owner      string `yaml:"owner"`
	Related    string `yaml:"related"`
	ForeignKey string `yaml:"foreignKey"`
	Inverse    string `yaml:"inverse"`
	NameField  string `yaml:"nameField"`
}

// ConfigFileSettings is the YAML config file layout. Every field is
// optional; only fields that are present override the flag values.
type ConfigFileSettings struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Storage string `yaml:"storage"`
	Mongo   struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	CacheTTL     string           `yaml:"cacheTtl"`
	RepairOnLoad *bool            `yaml:"repairOnLoad"`
	Relations    []RelationConfig `yaml:"relations"`
}

// Private instance and mutex for thread safety
var (
	instance *Arguments
	mu       sync.RWMutex
)

// GetSettings returns the singleton instance of Arguments
func GetSettings() *Arguments {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		instance = &Arguments{}
	}
	return instance
}

// ResetSettings is useful for testing - it resets the singleton
func ResetSettings() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
}

// ApplyEnvOverrides loads the optional .env file and then applies any
// TOURCRAFT_* environment variables on top of the flag values.
// Environment always wins over flags so deployments can override a
// baked-in command line.
func (args *Arguments) ApplyEnvOverrides() error {
	if args.EnvFile != "" {
		if err := godotenv.Load(args.EnvFile); err != nil {
			return fmt.Errorf("could not load env file %s: %w", args.EnvFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		// Best effort: a .env next to the binary is picked up if present
		godotenv.Load()
	}

	if v := os.Getenv("TOURCRAFT_MONGO_URI"); v != "" {
		args.MongoURI = v
	}
	if v := os.Getenv("TOURCRAFT_MONGO_DATABASE"); v != "" {
		args.MongoDatabase = v
	}
	if v := os.Getenv("TOURCRAFT_STORAGE"); v != "" {
		args.Storage = v
	}
	if v := os.Getenv("TOURCRAFT_HOST"); v != "" {
		args.Host = v
	}
	if v := os.Getenv("TOURCRAFT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TOURCRAFT_PORT value %q: %w", v, err)
		}
		args.Port = port
	}

	return nil
}

// LoadConfigFile reads the YAML config file named by args.ConfigFile and
// folds its values into the arguments. Returns the parsed file so the
// caller can hand the relation declarations to the relations package.
func (args *Arguments) LoadConfigFile() (*ConfigFileSettings, error) {
	cfg := &ConfigFileSettings{}
	if args.ConfigFile == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(args.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %s: %w", args.ConfigFile, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", args.ConfigFile, err)
	}

	if cfg.Host != "" {
		args.Host = cfg.Host
	}
	if cfg.Port != 0 {
		args.Port = cfg.Port
	}
	if cfg.Storage != "" {
		args.Storage = cfg.Storage
	}
	if cfg.Mongo.URI != "" {
		args.MongoURI = cfg.Mongo.URI
	}
	if cfg.Mongo.Database != "" {
		args.MongoDatabase = cfg.Mongo.Database
	}
	if cfg.CacheTTL != "" {
		ttl, err := time.ParseDuration(cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid cacheTtl %q in config file: %w", cfg.CacheTTL, err)
		}
		args.CacheTTL = ttl
	}
	if cfg.RepairOnLoad != nil {
		args.RepairOnLoad = *cfg.RepairOnLoad
	}

	return cfg, nil
}
