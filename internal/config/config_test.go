package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/webapp", cfg.Repo.Dir)
	assert.Equal(t, []int{5000, 6000, 8000}, model.Ports(cfg.Services))
	assert.Equal(t, time.Second, cfg.Readiness.Interval)
	assert.Equal(t, 60*time.Second, cfg.Readiness.Timeout)
	assert.False(t, cfg.Readiness.BlockReloadOnTimeout)
	assert.Equal(t, ProxyModeCommand, cfg.Proxy.Mode)
	assert.Equal(t, []string{"nginx", "-t"}, cfg.Proxy.ValidateCommand)
	assert.Equal(t, []string{"systemctl", "reload", "nginx"}, cfg.Proxy.ReloadCommand)
	assert.Empty(t, cfg.File)

	primary := cfg.Services[1]
	assert.Equal(t, "primary", primary.Name)
	assert.Equal(t, "/srv/webapp/rust-backend", primary.Dir)
	assert.Equal(t, []string{"./target/release/rust-backend"}, primary.Command)
	assert.Equal(t, "/var/log/webdeploy/primary.log", primary.LogFile)
	assert.Equal(t, 60*time.Second, primary.Timeout)

	assert.Equal(t, "/srv/webapp/nginx/webapp.conf", cfg.Site.Source)
	assert.Equal(t, "/srv/webapp/frontend/dist", cfg.Assets.Source)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "webdeploy.yaml", `
repo:
  dir: /opt/app
  branch: release
services:
  - name: api
    command: ["./api"]
    dir: api
    port: 9000
    timeout: 5s
  - name: worker
    command: ["/usr/bin/worker"]
    dir: /opt/worker
    port: 9001
readiness:
  timeout: 30s
  block_reload_on_timeout: true
skip: [source, assets]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "release", cfg.Repo.Branch)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "/opt/app/api", cfg.Services[0].Dir)
	assert.Equal(t, 5*time.Second, cfg.Services[0].Timeout)
	assert.Equal(t, "/opt/worker", cfg.Services[1].Dir)
	assert.Equal(t, 30*time.Second, cfg.Services[1].Timeout)
	assert.True(t, cfg.Readiness.BlockReloadOnTimeout)

	skip, err := cfg.SkipStages()
	require.NoError(t, err)
	assert.Equal(t, map[model.Stage]bool{model.StageSource: true, model.StageAssets: true}, skip)
}

func TestLoad_JSONCFile(t *testing.T) {
	path := writeFile(t, "webdeploy.jsonc", `{
  // deploy from a staging checkout
  "repo": {"dir": "/srv/staging"},
  /* nginx in docker */
  "proxy": {"mode": "docker", "container": "edge-nginx"},
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/staging", cfg.Repo.Dir)
	assert.Equal(t, ProxyModeDocker, cfg.Proxy.Mode)
	assert.Equal(t, "edge-nginx", cfg.Proxy.Container)
	assert.Equal(t, path, cfg.File)
}

func TestLoad_ServiceEnvKeepsCase(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "webdeploy.yaml",
			content: `
services:
  - name: primary
    command: ["./target/release/rust-backend"]
    port: 6000
    env:
      RUST_LOG: info
      Workers: 4
`,
		},
		{
			name: "jsonc",
			file: "webdeploy.jsonc",
			content: `{
  "services": [
    // release build
    {"name": "primary", "command": ["./target/release/rust-backend"], "port": 6000,
     "env": {"RUST_LOG": "info", "Workers": 4}},
  ],
}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			require.Len(t, cfg.Services, 1)
			assert.Equal(t, map[string]string{"RUST_LOG": "info", "Workers": "4"}, cfg.Services[0].Env)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEBDEPLOY_REPO_DIR", "/home/deploy/app")
	t.Setenv("WEBDEPLOY_READINESS_TIMEOUT", "15s")
	t.Setenv("WEBDEPLOY_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/home/deploy/app", cfg.Repo.Dir)
	assert.Equal(t, 15*time.Second, cfg.Readiness.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/home/deploy/app/test-backend", cfg.Services[0].Dir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "duplicate ports",
			file:    "dup.yaml",
			content: "services:\n  - {name: a, command: [a], port: 7000}\n  - {name: b, command: [b], port: 7000}\n",
			wantErr: "already used",
		},
		{
			name:    "docker mode without container",
			file:    "docker.yaml",
			content: "proxy:\n  mode: docker\n",
			wantErr: "proxy.container",
		},
		{
			name:    "unknown proxy mode",
			file:    "mode.yaml",
			content: "proxy:\n  mode: caddy\n",
			wantErr: "invalid proxy.mode",
		},
		{
			name:    "unknown skip stage",
			file:    "skip.yaml",
			content: "skip: [deploy]\n",
			wantErr: "invalid stage",
		},
		{
			name:    "bad log format",
			file:    "log.yaml",
			content: "log:\n  format: xml\n",
			wantErr: "invalid log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var cliErr *model.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, model.ExitGeneralError, cliErr.Code)
		})
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
