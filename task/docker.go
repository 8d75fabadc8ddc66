package task

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Labels set on every worker container.
const (
	PoolLabel = "cortex.pool"
	IDLabel   = "cortex.id"
)

// DockerAPI is the part of the Docker engine client used to manage worker
// containers. *client.Client satisfies it.
type DockerAPI interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
}

// Config is the template every worker container is created from.
type Config struct {
	Pool          string
	Image         string
	Env           []string
	ExposedPorts  nat.PortSet
	Memory        int64
	Cpu           float64
	RestartPolicy string
}

type Docker struct {
	Client DockerAPI
	Config Config
}

type DockerResult struct {
	Error       error
	Action      string
	ContainerId string
	Result      string
}

// NewDocker connects to the engine described by the DOCKER_* environment.
func NewDocker(conf *Config) (*Docker, error) {
	dc, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{
		Client: dc,
		Config: *conf,
	}, nil
}

// ParsePorts turns specs such as "8080/tcp" into an exposed port set.
func ParsePorts(specs []string) (nat.PortSet, error) {
	ports, _, err := nat.ParsePortSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("invalid exposed ports %v: %w", specs, err)
	}
	return ports, nil
}

// Pull fetches the worker image.
func (d *Docker) Pull(ctx context.Context) error {
	reader, err := d.Client.ImagePull(ctx, d.Config.Image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("error pulling image %s: %w", d.Config.Image, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading pull progress for %s: %w", d.Config.Image, err)
	}
	return nil
}

// Run creates and starts one worker container named name. On success the
// result's ContainerId is set; on failure Error is.
func (d *Docker) Run(ctx context.Context, id uuid.UUID, name string) DockerResult {
	rp := container.RestartPolicy{
		Name: d.Config.RestartPolicy,
	}

	r := container.Resources{
		Memory:   d.Config.Memory,
		NanoCPUs: int64(d.Config.Cpu * math.Pow10(9)),
	}

	cc := container.Config{
		Image:        d.Config.Image,
		Tty:          false,
		Env:          d.Config.Env,
		ExposedPorts: d.Config.ExposedPorts,
		Labels: map[string]string{
			PoolLabel: d.Config.Pool,
			IDLabel:   id.String(),
		},
	}

	hc := container.HostConfig{
		RestartPolicy:   rp,
		Resources:       r,
		PublishAllPorts: true,
	}

	resp, err := d.Client.ContainerCreate(ctx, &cc, &hc, nil, nil, name)
	if err != nil {
		return DockerResult{Error: fmt.Errorf("error creating container %s using image %s: %w", name, d.Config.Image, err)}
	}

	if err := d.Client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return DockerResult{ContainerId: resp.ID, Error: fmt.Errorf("error starting container %s: %w", resp.ID, err)}
	}

	return DockerResult{ContainerId: resp.ID, Action: "start", Result: "success"}
}

// Stop stops the container and, when remove is set, deletes it.
func (d *Docker) Stop(ctx context.Context, id string, remove bool) DockerResult {
	if err := d.Client.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return DockerResult{ContainerId: id, Error: fmt.Errorf("error stopping container %s: %w", id, err)}
	}

	if remove {
		if err := d.Client.ContainerRemove(ctx, id, types.ContainerRemoveOptions{RemoveVolumes: true, RemoveLinks: false, Force: false}); err != nil {
			return DockerResult{ContainerId: id, Error: fmt.Errorf("error removing container %s: %w", id, err)}
		}
	}

	return DockerResult{ContainerId: id, Action: "stop", Result: "success"}
}

// List returns every container of the pool, in any state.
func (d *Docker) List(ctx context.Context) ([]*Task, error) {
	containers, err := d.Client.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", PoolLabel+"="+d.Config.Pool)),
	})
	if err != nil {
		return nil, fmt.Errorf("error listing containers of pool %s: %w", d.Config.Pool, err)
	}

	tasks := make([]*Task, 0, len(containers))
	for _, c := range containers {
		tasks = append(tasks, fromContainer(c))
	}
	return tasks, nil
}

func fromContainer(c types.Container) *Task {
	id, err := uuid.Parse(c.Labels[IDLabel])
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.ID))
	}

	var name string
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	return &Task{
		ID:          id,
		ContainerID: c.ID,
		Name:        name,
		State:       StateFromDocker(c.State),
		Image:       c.Image,
		StartTime:   time.Unix(c.Created, 0),
	}
}
