package config

// Config represents the main configuration structure
type Config struct {
	LogLevel  string             `yaml:"log_level"`
	LogFormat string             `yaml:"log_format"`           // "text" or "json"
	Default   string             `yaml:"default,omitempty"`    // Profile used when none is named
	Profiles  map[string]Profile `yaml:"profiles"`
}

// Profile defines one set of key derivation parameters
type Profile struct {
	Name       string `yaml:"name,omitempty"`
	PRF        string `yaml:"prf"`
	Iterations int    `yaml:"iterations"`
	KeyLength  int    `yaml:"key_length"`            // Derived key length in bytes
	Salt       string `yaml:"salt,omitempty"`        // Fixed salt, hex encoded
	SaltLength int    `yaml:"salt_length,omitempty"` // Random salt length when Salt is empty
	Cipher     string `yaml:"cipher"`                // AEAD used for sealing
}

// ValidationResult contains configuration validation results
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
