package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	defaultSandboxImage = "ghcr.io/go-rod/rod"
	sandboxCDPPort      = "9222/tcp"
)

// SandboxConfig describes the container that hosts the browser.
type SandboxConfig struct {
	Image       string            `json:"image"`
	Name        string            `json:"name"`
	HostPort    string            `json:"host_port"`
	Env         map[string]string `json:"env,omitempty"`
	MemoryLimit int64             `json:"memory_limit,omitempty"`
	CPULimit    float64           `json:"cpu_limit,omitempty"`
	NetworkMode string            `json:"network_mode,omitempty"`
}

// Sandbox manages the Docker container the agent drives. The container
// exposes a devtools endpoint on HostPort that a BrowserExecutor
// attaches to via ControlURL.
type Sandbox struct {
	mu          sync.Mutex
	client      client.APIClient
	available   bool
	cfg         SandboxConfig
	containerID string
}

// NewSandbox connects to the Docker daemon. If the daemon is not
// reachable the sandbox is marked unavailable and Start fails cleanly,
// letting the caller fall back to a locally launched browser.
func NewSandbox(cfg SandboxConfig) *Sandbox {
	if cfg.Image == "" {
		cfg.Image = defaultSandboxImage
	}
	if cfg.Name == "" {
		cfg.Name = "pilot-sandbox"
	}
	if cfg.HostPort == "" {
		cfg.HostPort = "9222"
	}
	sb := &Sandbox{cfg: cfg}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return sb
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return sb
	}

	sb.client = cli
	sb.available = true
	return sb
}

// IsAvailable reports whether the Docker daemon was reachable.
func (s *Sandbox) IsAvailable() bool { return s.available }

// ControlURL returns the devtools endpoint the sandbox publishes.
func (s *Sandbox) ControlURL() string {
	return "ws://127.0.0.1:" + s.cfg.HostPort
}

// Start creates or reuses the sandbox container and returns its
// devtools control URL.
func (s *Sandbox) Start(ctx context.Context) (string, error) {
	if !s.available {
		return "", fmt.Errorf("sandbox: docker not available")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containerID != "" {
		info, err := s.client.ContainerInspect(ctx, s.containerID)
		if err == nil && info.State.Running {
			return s.ControlURL(), nil
		}
		s.containerID = ""
	}

	if err := s.ensureImage(ctx); err != nil {
		return "", fmt.Errorf("sandbox: pull image: %w", err)
	}

	var env []string
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}

	containerCfg := &container.Config{
		Image:        s.cfg.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{sandboxCDPPort: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			sandboxCDPPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: s.cfg.HostPort},
			},
		},
	}
	if s.cfg.MemoryLimit > 0 {
		hostCfg.Memory = s.cfg.MemoryLimit
	}
	if s.cfg.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(s.cfg.CPULimit * 1e9)
	}
	if s.cfg.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(s.cfg.NetworkMode)
	}

	resp, err := s.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, s.cfg.Name)
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}

	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		_ = s.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}

	s.containerID = resp.ID
	return s.ControlURL(), nil
}

// Stop stops the sandbox container if one is running.
func (s *Sandbox) Stop(ctx context.Context) error {
	if !s.available {
		return nil
	}

	s.mu.Lock()
	cid := s.containerID
	s.containerID = ""
	s.mu.Unlock()

	if cid == "" {
		return nil
	}
	if err := s.client.ContainerStop(ctx, cid, container.StopOptions{}); err != nil {
		return fmt.Errorf("sandbox: stop: %w", err)
	}
	return nil
}

// Status reports the container state: none, running, exited, or
// unavailable when Docker cannot be reached.
func (s *Sandbox) Status(ctx context.Context) (string, error) {
	if !s.available {
		return "unavailable", nil
	}

	s.mu.Lock()
	cid := s.containerID
	s.mu.Unlock()

	if cid == "" {
		return "none", nil
	}
	info, err := s.client.ContainerInspect(ctx, cid)
	if err != nil {
		return "unknown", fmt.Errorf("sandbox: inspect: %w", err)
	}
	return strings.ToLower(info.State.Status), nil
}

// Close stops the container and closes the Docker client.
func (s *Sandbox) Close() error {
	if !s.available || s.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = s.Stop(ctx)
	return s.client.Close()
}

func (s *Sandbox) ensureImage(ctx context.Context) error {
	_, err := s.client.ImageInspect(ctx, s.cfg.Image)
	if err == nil {
		return nil
	}
	reader, err := s.client.ImagePull(ctx, s.cfg.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	_, err = io.Copy(io.Discard, reader)
	return err
}
