package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// defaultPingTimeout is the maximum duration to wait for a Docker daemon
// response during a Ping. Docker Desktop on macOS can be slow to answer.
const defaultPingTimeout = 5 * time.Second

// execPollInterval is how often a running exec is inspected for its exit code.
const execPollInterval = 100 * time.Millisecond

// DockerAPI is the subset of the Docker Engine client the controller uses.
// *client.Client satisfies it.
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	Close() error
}

// DockerController validates and reloads an nginx running in a container.
//
// Validation execs the test command inside the container and checks its exit
// code. Reload sends SIGHUP to the container's main process, which is how
// nginx re-reads its configuration without dropping connections.
type DockerController struct {
	api       DockerAPI
	container string
	validate  []string
	signal    string
}

// NewDockerController connects to the Docker daemon (see DetectDockerHost)
// and returns a controller for the named container. An empty validate argv
// defaults to `nginx -t`.
func NewDockerController(containerName string, validate []string) (*DockerController, error) {
	host, err := DetectDockerHost()
	if err != nil {
		return nil, err
	}
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create Docker client for host %q: %w", host, err)
	}
	return NewDockerControllerWithAPI(c, containerName, validate), nil
}

// NewDockerControllerWithAPI builds a controller over an existing client.
func NewDockerControllerWithAPI(api DockerAPI, containerName string, validate []string) *DockerController {
	if len(validate) == 0 {
		validate = DefaultValidateCommand
	}
	return &DockerController{api: api, container: containerName, validate: validate, signal: "HUP"}
}

// Ping verifies the daemon is reachable.
func (d *DockerController) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := d.api.Ping(pingCtx); err != nil {
		return fmt.Errorf("Docker daemon is not responding: %w", err)
	}
	return nil
}

// Validate runs the validate command inside the container.
func (d *DockerController) Validate(ctx context.Context) error {
	created, err := d.api.ContainerExecCreate(ctx, d.container, container.ExecOptions{
		Cmd:          d.validate,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("create exec in %q: %w", d.container, err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("attach exec in %q: %w", d.container, err)
	}
	defer attach.Close()

	// nginx -t reports on stderr even on success; stdcopy demultiplexes the
	// stream Docker interleaves for non-TTY execs.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return fmt.Errorf("read exec output: %w", err)
	}

	exitCode, err := d.waitExec(ctx, created.ID)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		out := strings.TrimSpace(stderr.String())
		if out == "" {
			out = strings.TrimSpace(stdout.String())
		}
		return fmt.Errorf("%s exited with code %d: %s", strings.Join(d.validate, " "), exitCode, out)
	}
	return nil
}

// waitExec polls until the exec has finished and returns its exit code.
func (d *DockerController) waitExec(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := d.api.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(execPollInterval):
		}
	}
}

// Reload sends SIGHUP to the container.
func (d *DockerController) Reload(ctx context.Context) error {
	if err := d.api.ContainerKill(ctx, d.container, d.signal); err != nil {
		return fmt.Errorf("signal %s to %q: %w", d.signal, d.container, err)
	}
	return nil
}

// Close releases the Docker client.
func (d *DockerController) Close() error {
	if d.api != nil {
		return d.api.Close()
	}
	return nil
}

// DetectDockerHost determines the Docker daemon address.
//
// DOCKER_HOST wins when set. Otherwise the platform's default socket paths
// are probed in order:
//   - Linux: /var/run/docker.sock
//   - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//   - Windows: the docker_engine named pipe
func DetectDockerHost() (string, error) {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host, nil
	}

	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{"/var/run/docker.sock"})

	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, home+"/.docker/run/docker.sock")
		}
		return detectUnixSocket(paths)

	case "windows":
		// os.Stat does not work on named pipes, so probe with a brief dial.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			_ = conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the Docker host URI for the first socket path
// that exists. Existence does not prove the daemon is listening; Ping does.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}
