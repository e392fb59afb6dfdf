package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

// fakeController records calls so tests can assert on ordering.
type fakeController struct {
	validateErr error
	reloadErr   error
	calls       []string
}

func (f *fakeController) Validate(context.Context) error {
	f.calls = append(f.calls, "validate")
	return f.validateErr
}

func (f *fakeController) Reload(context.Context) error {
	f.calls = append(f.calls, "reload")
	return f.reloadErr
}

func TestReloader_ValidationFailureNeverReloads(t *testing.T) {
	ctrl := &fakeController{validateErr: errors.New("nginx: [emerg] unexpected \"}\"")}

	err := NewReloader(ctrl, nil).Run(context.Background())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitProxyValidation, cliErr.Code)
	assert.NotZero(t, int(cliErr.Code))
	assert.Equal(t, []string{"validate"}, ctrl.calls)
}

func TestReloader_ReloadFailure(t *testing.T) {
	ctrl := &fakeController{reloadErr: errors.New("unit nginx.service not loaded")}

	err := NewReloader(ctrl, nil).Run(context.Background())

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitProxyReload, cliErr.Code)
	assert.Equal(t, []string{"validate", "reload"}, ctrl.calls)
}

func TestReloader_Success(t *testing.T) {
	ctrl := &fakeController{}

	require.NoError(t, NewReloader(ctrl, nil).Run(context.Background()))
	assert.Equal(t, []string{"validate", "reload"}, ctrl.calls)
}

// recordingRunner captures argv for each invocation.
type recordingRunner struct {
	calls [][]string
	fail  map[string]error
}

func (r *recordingRunner) Run(_ context.Context, _ string, name string, args ...string) (string, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return "", r.fail[name]
}

func TestCommandController_Defaults(t *testing.T) {
	r := &recordingRunner{}
	c := NewCommandController(r, nil, nil)

	require.NoError(t, c.Validate(context.Background()))
	require.NoError(t, c.Reload(context.Background()))

	assert.Equal(t, [][]string{
		{"nginx", "-t"},
		{"systemctl", "reload", "nginx"},
	}, r.calls)
}

func TestCommandController_CustomCommandsAndFailure(t *testing.T) {
	r := &recordingRunner{fail: map[string]error{"openresty": errors.New("exit status 1")}}
	c := NewCommandController(r, []string{"openresty", "-t"}, []string{"openresty", "-s", "reload"})

	err := NewReloader(c, nil).Run(context.Background())

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitProxyValidation, cliErr.Code)
	assert.Equal(t, [][]string{{"openresty", "-t"}}, r.calls)
}

// fakeDocker implements DockerAPI with a canned exec result.
type fakeDocker struct {
	exitCode int
	stderr   string
	execCmd  []string
	killed   []string
	killErr  error
}

func (f *fakeDocker) Ping(context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeDocker) ContainerExecCreate(_ context.Context, _ string, opts container.ExecOptions) (container.ExecCreateResponse, error) {
	f.execCmd = opts.Cmd
	return container.ExecCreateResponse{ID: "exec-1"}, nil
}

func (f *fakeDocker) ContainerExecAttach(context.Context, string, container.ExecAttachOptions) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	client, server := net.Pipe()
	_ = server.Close()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeDocker) ContainerExecInspect(context.Context, string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: "exec-1", Running: false, ExitCode: f.exitCode}, nil
}

func (f *fakeDocker) ContainerKill(_ context.Context, id, signal string) error {
	f.killed = append(f.killed, id+":"+signal)
	return f.killErr
}

func (f *fakeDocker) Close() error { return nil }

func TestDockerController_ValidateAndReload(t *testing.T) {
	api := &fakeDocker{stderr: "nginx: configuration file /etc/nginx/nginx.conf test is successful\n"}
	d := NewDockerControllerWithAPI(api, "proxy", nil)

	require.NoError(t, d.Ping(context.Background()))
	require.NoError(t, NewReloader(d, nil).Run(context.Background()))

	assert.Equal(t, []string{"nginx", "-t"}, api.execCmd)
	assert.Equal(t, []string{"proxy:HUP"}, api.killed)
}

func TestDockerController_ValidateFailureNeverSignals(t *testing.T) {
	api := &fakeDocker{exitCode: 1, stderr: "nginx: [emerg] unknown directive \"sever\"\n"}
	d := NewDockerControllerWithAPI(api, "proxy", nil)

	err := NewReloader(d, nil).Run(context.Background())

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitProxyValidation, cliErr.Code)
	assert.Contains(t, err.Error(), "unknown directive")
	assert.Empty(t, api.killed)
}

func TestDockerController_ReloadError(t *testing.T) {
	api := &fakeDocker{killErr: errors.New("No such container: proxy")}
	d := NewDockerControllerWithAPI(api, "proxy", nil)

	err := d.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HUP")
}

func TestDetectDockerHost_EnvWins(t *testing.T) {
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:2375")

	host, err := DetectDockerHost()
	require.NoError(t, err)
	assert.Equal(t, "tcp://127.0.0.1:2375", host)
}

func TestDetectUnixSocket(t *testing.T) {
	dir := t.TempDir()

	_, err := detectUnixSocket([]string{dir + "/missing.sock"})
	assert.Error(t, err)

	host, err := detectUnixSocket([]string{dir + "/missing.sock", dir})
	require.NoError(t, err)
	assert.Equal(t, "unix://"+dir, host)
}
