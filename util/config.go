package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const Name = "fedigraph"
const ConfigFileName = "config.yaml"

// DefaultTokenTTL applies when tokenTtlHours is unset.
const DefaultTokenTTL = 72 * time.Hour

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host               string
		HttpPort           int     `yaml:"httpPort"`
		SslDomain          string  `yaml:"sslDomain"`
		WithAp             bool    `yaml:"withAp"`
		DbPath             string  `yaml:"dbPath"`
		Env                string  `yaml:"env"`
		LogLevel           string  `yaml:"logLevel"`
		JwtSecret          string  `yaml:"jwtSecret"`
		TokenTtlHours      int     `yaml:"tokenTtlHours"`
		MinPasswordEntropy float64 `yaml:"minPasswordEntropy"`
		RedisAddr          string  `yaml:"redisAddr"`
	}
}

// IsDevelopment reports whether internal error details may be shown to clients.
func (c *AppConfig) IsDevelopment() bool {
	return c.Conf.Env == "development"
}

// Redacted returns a copy of the configuration that is safe to log.
func (c *AppConfig) Redacted() AppConfig {
	out := *c
	if out.Conf.JwtSecret != "" {
		out.Conf.JwtSecret = "[redacted]"
	}
	return out
}

// TokenTTL returns the lifetime of issued API tokens.
func (c *AppConfig) TokenTTL() time.Duration {
	if c.Conf.TokenTtlHours <= 0 {
		return DefaultTokenTTL
	}
	return time.Duration(c.Conf.TokenTtlHours) * time.Hour
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// local file first, then the user config dir
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Warn("config file not found, using embedded defaults", "path", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Warn("could not write default config", "path", userConfigPath, "err", writeErr)
			} else {
				log.Info("created default config file", "path", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}

	if c.Conf.SslDomain == "" {
		return nil, fmt.Errorf("in config file: sslDomain must be set")
	}

	return c, nil
}

func applyEnv(c *AppConfig) error {
	if v := os.Getenv("FEDIGRAPH_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("FEDIGRAPH_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEDIGRAPH_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}

	if v := os.Getenv("FEDIGRAPH_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if v := os.Getenv("FEDIGRAPH_WITH_AP"); v != "" {
		c.Conf.WithAp = v == "true"
	}

	if v := os.Getenv("FEDIGRAPH_DB_PATH"); v != "" {
		c.Conf.DbPath = v
	}

	if v := os.Getenv("FEDIGRAPH_ENV"); v != "" {
		c.Conf.Env = v
	}

	if v := os.Getenv("FEDIGRAPH_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}

	if v := os.Getenv("FEDIGRAPH_JWT_SECRET"); v != "" {
		c.Conf.JwtSecret = v
	}

	if v := os.Getenv("FEDIGRAPH_MIN_PASSWORD_ENTROPY"); v != "" {
		entropy, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FEDIGRAPH_MIN_PASSWORD_ENTROPY: %w", err)
		}
		c.Conf.MinPasswordEntropy = entropy
	}

	if v := os.Getenv("FEDIGRAPH_REDIS_ADDR"); v != "" {
		c.Conf.RedisAddr = v
	}

	return nil
}
