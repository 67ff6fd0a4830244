// Package config loads daemon configuration from an optional YAML file
// and AGENTPASS_* environment variables. Environment variables always
// override file values, so a deployment can ship a base config file and
// tune individual settings per instance.
package config
