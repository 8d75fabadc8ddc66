// Package fake provides an in-memory Docker engine for tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

var ErrNotFound = errors.New("no such container")

// Docker implements task.DockerAPI on top of a map of containers.
type Docker struct {
	mu sync.Mutex

	containers map[string]*types.Container
	order      []string
	seq        int64

	// Errors injected per operation.
	PullErr   error
	CreateErr error
	StartErr  error
	StopErr   error
	RemoveErr error
	ListErr   error
	// FailStartAfter makes every ContainerStart after the first N fail.
	FailStartAfter int

	Pulls   int
	Lists   int
	Starts  int
	Stopped []string
	Removed []string
}

func NewDocker() *Docker {
	return &Docker{containers: make(map[string]*types.Container), FailStartAfter: -1}
}

// Add registers an existing container.
func (d *Docker) Add(c types.Container) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cc := c
	d.containers[c.ID] = &cc
	d.order = append(d.order, c.ID)
}

// State returns the state of container id, or "" when it does not exist.
func (d *Docker) State(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.containers[id]; ok {
		return c.State
	}
	return ""
}

func (d *Docker) ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PullErr != nil {
		return nil, d.PullErr
	}
	d.Pulls++
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (d *Docker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return container.CreateResponse{}, d.CreateErr
	}

	d.seq++
	id := fmt.Sprintf("c%04d", d.seq)
	labels := make(map[string]string, len(config.Labels))
	for k, v := range config.Labels {
		labels[k] = v
	}
	d.containers[id] = &types.Container{
		ID:      id,
		Names:   []string{"/" + containerName},
		Image:   config.Image,
		Created: d.seq,
		State:   "created",
		Labels:  labels,
	}
	d.order = append(d.order, id)
	return container.CreateResponse{ID: id}, nil
}

func (d *Docker) ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	if d.FailStartAfter >= 0 && d.Starts >= d.FailStartAfter {
		return fmt.Errorf("start %s: engine overloaded", containerID)
	}
	c, ok := d.containers[containerID]
	if !ok {
		return ErrNotFound
	}
	d.Starts++
	c.State = "running"
	return nil
}

func (d *Docker) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StopErr != nil {
		return d.StopErr
	}
	c, ok := d.containers[containerID]
	if !ok {
		return ErrNotFound
	}
	c.State = "exited"
	d.Stopped = append(d.Stopped, containerID)
	return nil
}

func (d *Docker) ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.RemoveErr != nil {
		return d.RemoveErr
	}
	if _, ok := d.containers[containerID]; !ok {
		return ErrNotFound
	}
	delete(d.containers, containerID)
	d.Removed = append(d.Removed, containerID)
	return nil
}

func (d *Docker) ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Lists++
	if d.ListErr != nil {
		return nil, d.ListErr
	}

	labels := options.Filters.Get("label")
	var out []types.Container
	for _, id := range d.order {
		c, ok := d.containers[id]
		if !ok {
			continue
		}
		if !options.All && c.State != "running" {
			continue
		}
		if !matchLabels(c.Labels, labels) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func matchLabels(have map[string]string, want []string) bool {
	for _, w := range want {
		k, v, _ := strings.Cut(w, "=")
		if have[k] != v {
			return false
		}
	}
	return true
}
