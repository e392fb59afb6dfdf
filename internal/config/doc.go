// Package config loads the webdeploy configuration.
//
// Configuration is layered with github.com/spf13/viper: built-in defaults,
// then an optional YAML, JSON, or JSONC file, then WEBDEPLOY_* environment
// variables. The defaults describe the stock deployment: three services on
// ports 5000 (test), 6000 (primary), and 8000 (inference), a 60 second
// readiness window probed once per second, and an nginx proxy managed by
// systemd.
//
// JSONC files (JSON with comments) are accepted because site manifests are
// often hand-edited; comments are stripped with github.com/tidwall/jsonc
// before viper parses the document as plain JSON.
package config
