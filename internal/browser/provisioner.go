package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	browserServerName = "toolhub-browser"
	browserServerPort = "3000"
	stopTimeoutSecs   = 10

	// Resource limits.
	memoryLimitBytes = 2 * 1024 * 1024 * 1024 // 2GB
	shmSizeBytes     = 1024 * 1024 * 1024     // 1GB, Chromium needs a large /dev/shm
	pidsLimit        = 1024

	readyAttempts = 60
	readyDelay    = 500 * time.Millisecond
)

// DockerProvisioner runs a Playwright browser server in a container and
// reports its WebSocket endpoint.
type DockerProvisioner struct {
	cli         *client.Client
	image       string
	runtime     string // Container runtime: "" = default (runc), "runsc" = gVisor
	inContainer bool
	logger      *slog.Logger

	containerID string
}

// NewDockerProvisioner creates a provisioner for image. inContainer selects
// the container network address instead of a published host port.
func NewDockerProvisioner(image, runtime string, inContainer bool, logger *slog.Logger) (*DockerProvisioner, error) {
	if image == "" {
		return nil, errors.New("browser image cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerProvisioner{cli: cli, image: image, runtime: runtime, inContainer: inContainer, logger: logger}, nil
}

// serverCommand starts a Playwright server matching the image's bundled version.
func serverCommand(image string) []string {
	version := "latest"
	if i := strings.LastIndex(image, ":v"); i >= 0 {
		version = strings.SplitN(image[i+2:], "-", 2)[0]
	}
	return []string{
		"npx", "-y", "playwright@" + version,
		"run-server", "--port", browserServerPort, "--host", "0.0.0.0",
	}
}

// EnsureServer starts the browser server container, reusing a running one,
// and returns the endpoint to connect to once it accepts connections.
func (p *DockerProvisioner) EnsureServer(ctx context.Context) (string, error) {
	inspect, err := p.cli.ContainerInspect(ctx, browserServerName)
	switch {
	case err == nil && inspect.State != nil && inspect.State.Running:
		p.logger.Info("Browser server already running", "container_id", inspect.ID)
		p.containerID = inspect.ID
	case err == nil:
		p.logger.Info("Found stopped browser server, recreating", "container_id", inspect.ID)
		if err := p.stop(ctx, inspect.ID); err != nil {
			p.logger.Warn("Failed to remove stopped browser server", "error", err, "container_id", inspect.ID)
		}
		fallthrough
	case errdefs.IsNotFound(err):
		id, err := p.create(ctx)
		if err != nil {
			return "", err
		}
		p.containerID = id
	default:
		return "", fmt.Errorf("inspect browser server: %w", err)
	}

	addr, err := p.address(ctx)
	if err != nil {
		return "", err
	}
	if err := waitForTCP(ctx, addr); err != nil {
		return "", fmt.Errorf("browser server at %s not ready: %w", addr, err)
	}
	endpoint := "ws://" + addr + "/"
	p.logger.Info("Browser server ready", "endpoint", endpoint, "container_id", p.containerID)
	return endpoint, nil
}

func (p *DockerProvisioner) create(ctx context.Context) (string, error) {
	port := nat.Port(browserServerPort + "/tcp")
	config := &container.Config{
		Image:        p.image,
		Cmd:          serverCommand(p.image),
		User:         "pwuser",
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		Runtime: p.runtime,
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		},
		ShmSize: shmSizeBytes,
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			PidsLimit: ptr(int64(pidsLimit)),
		},
		Init: ptr(true),
	}

	resp, err := p.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, browserServerName)
	if err != nil {
		return "", fmt.Errorf("create browser server: %w", err)
	}
	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := p.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			p.logger.Warn("Failed to remove browser server after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start browser server %s: %w", resp.ID, err)
	}
	p.logger.Info("Browser server created and started", "container_id", resp.ID, "image", p.image)
	return resp.ID, nil
}

func (p *DockerProvisioner) address(ctx context.Context) (string, error) {
	inspect, err := p.cli.ContainerInspect(ctx, p.containerID)
	if err != nil {
		return "", fmt.Errorf("inspect browser server %s: %w", p.containerID, err)
	}
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("browser server %s has no network settings", p.containerID)
	}
	if p.inContainer {
		if ip := inspect.NetworkSettings.IPAddress; ip != "" {
			return net.JoinHostPort(ip, browserServerPort), nil
		}
		for _, nw := range inspect.NetworkSettings.Networks {
			if nw != nil && nw.IPAddress != "" {
				return net.JoinHostPort(nw.IPAddress, browserServerPort), nil
			}
		}
	}
	bindings := inspect.NetworkSettings.Ports[nat.Port(browserServerPort+"/tcp")]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return "", fmt.Errorf("browser server %s has no published port", p.containerID)
	}
	host := bindings[0].HostIP
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, bindings[0].HostPort), nil
}

func waitForTCP(ctx context.Context, addr string) error {
	var lastErr error
	for i := 0; i < readyAttempts; i++ {
		conn, err := (&net.Dialer{Timeout: readyDelay}).DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyDelay):
		}
	}
	return lastErr
}

// IsRunning checks if the browser server container is running.
func (p *DockerProvisioner) IsRunning(ctx context.Context) (bool, error) {
	if p.containerID == "" {
		return false, nil
	}
	inspect, err := p.cli.ContainerInspect(ctx, p.containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect browser server %s: %w", p.containerID, err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Stop stops and removes the browser server container.
func (p *DockerProvisioner) Stop(ctx context.Context) error {
	if p.containerID == "" {
		return nil
	}
	err := p.stop(ctx, p.containerID)
	if err == nil {
		p.containerID = ""
	}
	return err
}

// stop is idempotent and tolerates concurrent removal.
func (p *DockerProvisioner) stop(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSecs
	if err := p.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			p.logger.Debug("Browser server already removed", "container_id", containerID)
			return nil
		}
		p.logger.Debug("Browser server stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := p.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove browser server %s: %w", containerID, err)
	}
	p.logger.Info("Browser server stopped and removed", "container_id", containerID)
	return nil
}

// Close releases the Docker client.
func (p *DockerProvisioner) Close() error {
	return p.cli.Close()
}

func ptr[T any](v T) *T {
	return &v
}
