// Package config provides configuration loading and validation for the
// transcription agent. It handles YAML-based configuration with environment
// variable expansion, struct validation, and hot reload of the config file.
package config
