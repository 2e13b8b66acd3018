package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Default values applied to collections that leave them unset
const (
	DefaultBatchSize       = 100
	DefaultSoftDeleteField = "is_deleted"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	MongoDB     MongoDBConfig      `mapstructure:"mongodb"`
	Search      SearchConfig       `mapstructure:"search"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Collections []CollectionConfig `mapstructure:"collections"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MongoDBConfig contains MongoDB connection settings
type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Timeout  int    `mapstructure:"timeout"` // in seconds
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Backend       string              `mapstructure:"backend"`         // bleve or elasticsearch
	IndexPath     string              `mapstructure:"index_path"`      // bleve only
	SyncStatePath string              `mapstructure:"sync_state_path"` // Path to store sync state for persistence
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ElasticsearchConfig contains the Elasticsearch connection settings
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Env   string `mapstructure:"env"`   // local, dev or prod
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// CollectionConfig describes one MongoDB collection mirrored into the search index
type CollectionConfig struct {
	Name               string        `mapstructure:"name"`  // MongoDB collection name
	Index              string        `mapstructure:"index"` // defaults to Name + "s"
	Type               string        `mapstructure:"type"`  // defaults to Name
	IndexAutomatically *bool         `mapstructure:"index_automatically"`
	SoftDeleteField    string        `mapstructure:"soft_delete_field"`
	BatchSize          int           `mapstructure:"batch_size"`
	Fields             []FieldConfig `mapstructure:"fields"`
}

// FieldConfig declares one field of a collection's record schema
type FieldConfig struct {
	Name       string        `mapstructure:"name"`
	Type       string        `mapstructure:"type"`        // store primitive type (string, number, date, ...)
	SearchType string        `mapstructure:"search_type"` // explicit search field type, overrides Type
	Indexed    bool          `mapstructure:"indexed"`
	Excluded   bool          `mapstructure:"excluded"`
	Boost      *float64      `mapstructure:"boost"`
	NullValue  interface{}   `mapstructure:"null_value"`
	CopyTo     *CopyToConfig `mapstructure:"copy_to"`
	Fields     []FieldConfig `mapstructure:"fields"` // nested schema
}

// CopyToConfig declares a copy-to target for a field
type CopyToConfig struct {
	Field    string `mapstructure:"field"`
	Separate bool   `mapstructure:"separate"`
	Type     string `mapstructure:"type"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/searchsync")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("SSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("mongodb.timeout", 30)
	v.SetDefault("search.backend", "bleve")
	v.SetDefault("search.index_path", "./indexes")
	v.SetDefault("search.sync_state_path", "./sync_state.json")
	v.SetDefault("logging.env", "local")
	v.SetDefault("logging.level", "")
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Search.Backend {
	case "bleve", "elasticsearch":
	default:
		return fmt.Errorf("unknown search backend %q", c.Search.Backend)
	}

	seen := make(map[string]bool, len(c.Collections))
	for _, coll := range c.Collections {
		if coll.Name == "" {
			return fmt.Errorf("collection name is required")
		}
		if seen[coll.Name] {
			return fmt.Errorf("collection %s configured twice", coll.Name)
		}
		seen[coll.Name] = true
		if coll.BatchSize < 0 {
			return fmt.Errorf("collection %s: batch_size must not be negative", coll.Name)
		}
	}
	return nil
}

// Collection returns the configuration of the named collection
func (c *Config) Collection(name string) (CollectionConfig, bool) {
	for _, coll := range c.Collections {
		if coll.Name == name {
			return coll, true
		}
	}
	return CollectionConfig{}, false
}

// AutoIndex reports whether save/remove hooks are attached (default true)
func (c CollectionConfig) AutoIndex() bool {
	if c.IndexAutomatically == nil {
		return true
	}
	return *c.IndexAutomatically
}

// DeletionMarker returns the soft delete field name
func (c CollectionConfig) DeletionMarker() string {
	if c.SoftDeleteField == "" {
		return DefaultSoftDeleteField
	}
	return c.SoftDeleteField
}

// Batch returns the synchronization batch size
func (c CollectionConfig) Batch() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

// GetMongoURI returns the complete MongoDB connection URI
func (c *MongoDBConfig) GetMongoURI() string {
	if c.URI != "" {
		return c.URI
	}

	// Build URI from components if not provided directly
	uri := "mongodb://"
	if c.Username != "" && c.Password != "" {
		uri += fmt.Sprintf("%s:%s@", c.Username, c.Password)
	}
	uri += "localhost:27017"
	return uri
}
