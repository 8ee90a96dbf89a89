// Package config loads the daemon configuration from a JSON or YAML file and
// fills in defaults for anything left out.
package config
