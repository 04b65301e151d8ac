package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pkcs5/internal/crypto"
	"pkcs5/pkg/pkcs5"
)

const (
	DefaultProfileName = "default"
	DefaultPRF         = "HMAC-SHA256"
	DefaultIterations  = 100000
	DefaultCipher      = crypto.AlgorithmAES256GCM

	// Iteration counts below this only produce a warning.
	minRecommendedIterations = 10000
)

// Parser handles configuration file parsing and validation
type Parser struct {
	configPath string
	config     *Config
}

// NewParser creates a new configuration parser
func NewParser(configPath string) *Parser {
	return &Parser{
		configPath: configPath,
	}
}

// Load reads and parses the configuration file
func (p *Parser) Load() (*Config, error) {
	data, err := os.ReadFile(p.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.configPath, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	p.config = config
	return config, nil
}

// Parse decodes, defaults and validates configuration bytes
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	SetDefaults(&config)

	result := Validate(&config)
	for _, w := range result.Warnings {
		logrus.WithField("warning", w).Warn("Configuration warning")
	}
	if !result.Valid {
		return nil, fmt.Errorf("configuration validation failed: validation errors:\n  - %s", strings.Join(result.Errors, "\n  - "))
	}

	return &config, nil
}

// Default returns a configuration holding only the default profile
func Default() *Config {
	config := &Config{}
	SetDefaults(config)
	return config
}

// SetDefaults applies default values to configuration
func SetDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "text"
	}
	if config.Profiles == nil {
		config.Profiles = make(map[string]Profile)
	}
	if len(config.Profiles) == 0 {
		config.Profiles[DefaultProfileName] = Profile{}
	}
	if config.Default == "" {
		if _, ok := config.Profiles[DefaultProfileName]; ok || len(config.Profiles) != 1 {
			config.Default = DefaultProfileName
		} else {
			for name := range config.Profiles {
				config.Default = name
			}
		}
	}

	for name, profile := range config.Profiles {
		if profile.Name == "" {
			profile.Name = name
		}
		if profile.PRF == "" {
			profile.PRF = DefaultPRF
		}
		if profile.Iterations == 0 {
			profile.Iterations = DefaultIterations
		}
		if profile.Cipher == "" {
			profile.Cipher = DefaultCipher
		}
		if profile.KeyLength == 0 {
			profile.KeyLength = crypto.KeySize(profile.Cipher)
		}
		config.Profiles[name] = profile
	}
}

// Validate performs comprehensive configuration validation
func Validate(config *Config) *ValidationResult {
	var errors, warnings []string

	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log_level '%s'", config.LogLevel))
	}
	if config.LogFormat != "text" && config.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log_format '%s'", config.LogFormat))
	}
	if _, ok := config.Profiles[config.Default]; !ok {
		errors = append(errors, fmt.Sprintf("default profile '%s' does not exist", config.Default))
	}

	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		profile := config.Profiles[name]

		if _, err := pkcs5.ParsePRF(profile.PRF); err != nil {
			errors = append(errors, fmt.Sprintf("profile '%s': unsupported prf '%s'", name, profile.PRF))
		}
		if profile.Iterations < 1 {
			errors = append(errors, fmt.Sprintf("profile '%s': iterations must be positive", name))
		} else if profile.Iterations < minRecommendedIterations {
			warnings = append(warnings, fmt.Sprintf("profile '%s': %d iterations is below %d", name, profile.Iterations, minRecommendedIterations))
		}

		size := crypto.KeySize(profile.Cipher)
		if size == 0 {
			errors = append(errors, fmt.Sprintf("profile '%s': unsupported cipher '%s'", name, profile.Cipher))
		} else if profile.KeyLength != size {
			errors = append(errors, fmt.Sprintf("profile '%s': key_length %d does not match %s (%d bytes)", name, profile.KeyLength, profile.Cipher, size))
		}

		if profile.Salt != "" {
			salt, err := hex.DecodeString(profile.Salt)
			if err != nil {
				errors = append(errors, fmt.Sprintf("profile '%s': invalid salt: %v", name, err))
			} else if len(salt) == 0 {
				errors = append(errors, fmt.Sprintf("profile '%s': salt is empty", name))
			}
			warnings = append(warnings, fmt.Sprintf("profile '%s': fixed salt is shared by every derivation", name))
		}
		if profile.SaltLength < 0 {
			errors = append(errors, fmt.Sprintf("profile '%s': salt_length must not be negative", name))
		}
	}

	return &ValidationResult{
		Valid:    len(errors) == 0,
		Errors:   errors,
		Warnings: warnings,
	}
}

// Reload reloads the configuration from file
func (p *Parser) Reload() (*Config, error) {
	return p.Load()
}

// GetConfig returns the currently loaded configuration
func (p *Parser) GetConfig() *Config {
	return p.config
}

// Profile returns the named profile, or the default profile for ""
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.Default
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile not found: %s", name)
	}
	return profile, nil
}

// PRFChoice resolves the profile's PRF name
func (p Profile) PRFChoice() (pkcs5.PRF, error) {
	return pkcs5.ParsePRF(p.PRF)
}

// SaltBytes decodes the fixed salt; nil means a random salt is wanted
func (p Profile) SaltBytes() ([]byte, error) {
	if p.Salt == "" {
		return nil, nil
	}
	salt, err := hex.DecodeString(p.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt in profile %s: %w", p.Name, err)
	}
	return salt, nil
}

// Params converts the profile into sealing parameters
func (p Profile) Params() (*crypto.Params, error) {
	prf, err := p.PRFChoice()
	if err != nil {
		return nil, err
	}
	salt, err := p.SaltBytes()
	if err != nil {
		return nil, err
	}
	return &crypto.Params{
		PRF:        prf,
		Iterations: p.Iterations,
		Salt:       salt,
		SaltLength: p.SaltLength,
		Algorithm:  p.Cipher,
	}, nil
}
