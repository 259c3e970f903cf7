// Package config loads gateway configuration from an optional YAML file and
// PORTALGATE_* environment variables. Environment variables always win over
// file values so deployments can override a checked-in config.
package config
