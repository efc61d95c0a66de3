// Package worker supervises the per-session browser worker containers the
// coordinator spawns, stops, and sweeps.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"

	"github.com/dgnsrekt/browser_fleet/internal/fleet"
)

const (
	// ManagedLabel marks every container this process creates, so a later
	// process can find leftovers without guessing by name.
	ManagedLabel = "browser-fleet.managed"
	// SessionIDLabel carries the owning session id.
	SessionIDLabel = "browser-fleet.session-id"
)

// Options configure how worker containers are created.
type Options struct {
	Image            string
	NamePrefix       string
	InternalPort     int
	ShmSizeMB        int
	StopGraceSeconds int
}

// Supervisor spawns and stops isolated worker containers through the Docker
// API. It is safe for concurrent use; the Docker client serializes nothing
// on our side.
type Supervisor struct {
	cli  *client.Client
	opts Options
}

// NewClient builds a Docker client from the environment (DOCKER_HOST etc.)
// with API version negotiation.
func NewClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// NewSupervisor wraps a Docker client with worker creation defaults.
func NewSupervisor(cli *client.Client, opts Options) *Supervisor {
	if opts.InternalPort == 0 {
		opts.InternalPort = 9000
	}
	if opts.ShmSizeMB == 0 {
		opts.ShmSizeMB = 2048
	}
	if opts.StopGraceSeconds == 0 {
		opts.StopGraceSeconds = 10
	}
	return &Supervisor{cli: cli, opts: opts}
}

// Spawn creates and starts one worker container bound to the given host
// port, returning the container id as the opaque handle. A failure after
// creation tears the container down before returning so no instance
// outlives a failed spawn.
func (s *Supervisor) Spawn(ctx context.Context, spec fleet.SpawnSpec) (string, error) {
	cfg, hostCfg, err := s.containerSpec(spec)
	if err != nil {
		return "", fleet.NewError(fleet.CodeWorkerSpawnFailed, "invalid worker configuration", err)
	}

	name := s.containerName(spec.SessionID)
	created, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fleet.NewError(fleet.CodeWorkerSpawnFailed,
			fmt.Sprintf("create worker for session %s", spec.SessionID), err)
	}

	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		if rmErr := s.remove(ctx, created.ID); rmErr != nil {
			slog.Warn("removing unstartable worker failed",
				"container_id", created.ID, "error", rmErr)
		}
		return "", fleet.NewError(fleet.CodeWorkerSpawnFailed,
			fmt.Sprintf("start worker for session %s", spec.SessionID), err)
	}

	slog.Info("worker started",
		"session_id", spec.SessionID, "container", name, "port", spec.HostPort)
	return created.ID, nil
}

// Stop halts and removes a worker container. Both steps tolerate a
// container that is already gone, so repeated stops and the AutoRemove race
// are not errors. A stop failure falls through to a forced remove rather
// than leaving the instance running.
func (s *Supervisor) Stop(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	grace := s.opts.StopGraceSeconds
	err := s.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &grace})
	if err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("worker stop failed, forcing removal", "container_id", handle, "error", err)
	}
	if rmErr := s.remove(ctx, handle); rmErr != nil {
		return fmt.Errorf("remove worker %s: %w", handle, rmErr)
	}
	return nil
}

func (s *Supervisor) remove(ctx context.Context, handle string) error {
	err := s.cli.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true})
	if err == nil || errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
		// NotFound and removal-in-progress both mean the daemon already has
		// it handled (AutoRemove fires on stop).
		return nil
	}
	return err
}

// PruneLeftovers stops every container carrying the managed label. Run at
// startup: a previous coordinator process may have died without tearing its
// workers down, and nothing else will ever reap them.
func (s *Supervisor) PruneLeftovers(ctx context.Context) (int, error) {
	listing, err := s.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("list leftover workers: %w", err)
	}

	var pruned int
	var errs []error
	for _, summary := range listing {
		name := ""
		if len(summary.Names) > 0 {
			name = summary.Names[0]
		}
		slog.Warn("stopping leftover worker from previous run",
			"container_id", summary.ID, "name", name,
			"session_id", summary.Labels[SessionIDLabel])
		if err := s.Stop(ctx, summary.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		pruned++
	}
	return pruned, errors.Join(errs...)
}

// Ping verifies the Docker daemon is reachable.
func (s *Supervisor) Ping(ctx context.Context) error {
	_, err := s.cli.Ping(ctx)
	return err
}

func (s *Supervisor) containerName(sessionID string) string {
	return s.opts.NamePrefix + "-" + sessionID
}

// containerSpec builds the create-time configuration for one worker. The
// shared-memory size matters: the embedded rendering engine crashes under
// load with Docker's 64 MB default.
func (s *Supervisor) containerSpec(spec fleet.SpawnSpec) (*container.Config, *container.HostConfig, error) {
	internal, err := nat.NewPort("tcp", strconv.Itoa(s.opts.InternalPort))
	if err != nil {
		return nil, nil, err
	}

	env := []string{
		"HEADLESS=" + strconv.FormatBool(spec.Headless),
		"PORT=" + strconv.Itoa(s.opts.InternalPort),
	}
	if spec.Proxy != "" {
		env = append(env, "PROXY="+spec.Proxy)
	}

	cfg := &container.Config{
		Image: s.opts.Image,
		Env:   env,
		Labels: map[string]string{
			ManagedLabel:   "true",
			SessionIDLabel: spec.SessionID,
		},
		ExposedPorts: nat.PortSet{internal: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		AutoRemove: true,
		ShmSize:    int64(s.opts.ShmSizeMB) * 1024 * 1024,
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{
				HostIP:   "127.0.0.1",
				HostPort: strconv.Itoa(spec.HostPort),
			}},
		},
	}
	return cfg, hostCfg, nil
}
