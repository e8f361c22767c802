// Package config decodes and validates the YAML configuration document,
// substituting ${VAR} references against the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds the connection and replication parameters under the
// "database:" YAML key.
type DatabaseConfig struct {
	Name               string `yaml:"name"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	ConnectionPoolSize int    `yaml:"connection_pool_size"`
	ReplicationPlugin  string `yaml:"replication_plugin"`
	ReplicationSlot    string `yaml:"replication_slot"`

	// AdvanceOnFailure controls whether the session advances the feedback
	// LSN to the start of an event that failed to process. Defaults to
	// false when the key is absent: the failed event itself does not move
	// the confirmed position. A later event that succeeds still advances
	// the confirmed position past the failed one, so the failed event is
	// redelivered only if the session stops before such a success. Set it
	// to true to report and advance on failed events as well.
	AdvanceOnFailure *bool `yaml:"advance_on_failure"`
}

// AdvanceOnFailureOrDefault returns the configured AdvanceOnFailure value,
// or false when unset.
func (d DatabaseConfig) AdvanceOnFailureOrDefault() bool {
	if d.AdvanceOnFailure == nil {
		return false
	}
	return *d.AdvanceOnFailure
}

// RabbitMQConfig holds the optional "rabbitmq:" section, used only by
// broker-backed sink and consumer implementations.
type RabbitMQConfig struct {
	URL         string   `yaml:"url"`
	Exchange    string   `yaml:"exchange"`
	RoutingKeys []string `yaml:"routing_keys"`
	Queue       string   `yaml:"queue"`
}

// Config is the top-level configuration document.
type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	RabbitMQ *RabbitMQConfig `yaml:"rabbitmq"`
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads the YAML document at path, substitutes `${VAR}` references
// against the current environment, and unmarshals the result. It does not
// call Validate; callers decide when to validate.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	substituted := substituteEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func substituteEnv(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// Validate checks that every required field is present, applies defaults
// (replication_plugin "pgoutput", connection_pool_size 4 when below 1),
// and returns a single joined error naming every
// missing field so a caller can report them all at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Name == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database host is required"))
	}
	if c.Database.User == "" {
		errs = append(errs, errors.New("database user is required"))
	}
	if c.Database.ReplicationSlot == "" {
		errs = append(errs, errors.New("database replication_slot is required"))
	}

	switch c.Database.ReplicationPlugin {
	case "":
		c.Database.ReplicationPlugin = "pgoutput"
	case "pgoutput", "wal2json":
	default:
		errs = append(errs, fmt.Errorf("database replication_plugin %q is not one of pgoutput, wal2json", c.Database.ReplicationPlugin))
	}

	if c.Database.ConnectionPoolSize < 1 {
		c.Database.ConnectionPoolSize = 4
	}

	if c.RabbitMQ != nil {
		if c.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("rabbitmq url is required when rabbitmq section is present"))
		}
		if c.RabbitMQ.Exchange == "" {
			errs = append(errs, errors.New("rabbitmq exchange is required when rabbitmq section is present"))
		}
	}

	return errors.Join(errs...)
}
