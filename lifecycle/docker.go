package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"cortex/store"
	"cortex/task"
)

// DockerOptions controls how the Docker driver manages the pool.
type DockerOptions struct {
	NamePrefix string
	// Terminate removes killed containers instead of leaving them exited.
	Terminate bool
	// PullImage pulls the worker image once before the first start.
	PullImage bool
	// InventoryTTL is how long a listed inventory is reused by list calls.
	InventoryTTL time.Duration
}

// DockerDriver runs the worker pool as containers on a Docker engine. The
// container inventory is cached in a store and reloaded when it is older
// than the inventory TTL or when Refresh is called.
type DockerDriver struct {
	docker    *task.Docker
	inventory *store.InMemoryStore[*task.Task]
	opts      DockerOptions
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	loadedAt time.Time
	pulled   bool
	now      func() time.Time
}

func NewDockerDriver(docker *task.Docker, opts DockerOptions, logger *zap.SugaredLogger) *DockerDriver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = "cortex-worker"
	}
	return &DockerDriver{
		docker:    docker,
		inventory: store.NewInMemoryStore[*task.Task](),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func containerKey(t *task.Task) string {
	return t.ContainerID
}

// load must be called with d.mu held.
func (d *DockerDriver) load(ctx context.Context) error {
	tasks, err := d.docker.List(ctx)
	if err != nil {
		return err
	}
	d.inventory.Replace(tasks, containerKey)
	d.loadedAt = d.now()
	d.logger.Debugw("Loaded container inventory", zap.Int("containers", len(tasks)))
	return nil
}

// ensureLoaded must be called with d.mu held.
func (d *DockerDriver) ensureLoaded(ctx context.Context) error {
	if !d.loadedAt.IsZero() && d.now().Sub(d.loadedAt) < d.opts.InventoryTTL {
		return nil
	}
	return d.load(ctx)
}

func (d *DockerDriver) ListAll(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	return d.inventory.Count()
}

func (d *DockerDriver) ListRunning(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	running, err := d.running()
	return len(running), err
}

// running returns the running containers, newest first.
func (d *DockerDriver) running() ([]*task.Task, error) {
	all, err := d.inventory.List()
	if err != nil {
		return nil, err
	}

	var running []*task.Task
	for _, t := range all {
		if t.State == task.Running {
			running = append(running, t)
		}
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].StartTime.Equal(running[j].StartTime) {
			return running[i].ContainerID > running[j].ContainerID
		}
		return running[i].StartTime.After(running[j].StartTime)
	})
	return running, nil
}

func (d *DockerDriver) Refresh(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.load(ctx)
}

// Start creates and starts n containers. Every container is attempted; the
// failures are returned together.
func (d *DockerDriver) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opts.PullImage && !d.pulled {
		if err := d.docker.Pull(ctx); err != nil {
			return err
		}
		d.pulled = true
	}

	var result *multierror.Error
	started := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("started %d of %d containers: %w", started, n, err))
			break
		}

		id := uuid.New()
		name := fmt.Sprintf("%s-%s", d.opts.NamePrefix, id.String()[:8])
		res := d.docker.Run(ctx, id, name)
		if res.Error != nil {
			d.logger.Errorw("Failed to start container", zap.String("name", name), zap.Error(res.Error))
			result = multierror.Append(result, res.Error)
			if res.ContainerId != "" {
				if cleanup := d.docker.Stop(ctx, res.ContainerId, true); cleanup.Error != nil {
					d.logger.Warnw("Failed to remove container that did not start",
						zap.String("name", name), zap.Error(cleanup.Error))
				}
			}
			continue
		}

		started++
		_ = d.inventory.Put(res.ContainerId, &task.Task{
			ID:            id,
			ContainerID:   res.ContainerId,
			Name:          name,
			State:         task.Running,
			Image:         d.docker.Config.Image,
			CPU:           d.docker.Config.Cpu,
			Memory:        d.docker.Config.Memory,
			ExposedPorts:  d.docker.Config.ExposedPorts,
			RestartPolicy: d.docker.Config.RestartPolicy,
			StartTime:     d.now(),
		})
	}

	d.logger.Infow("Started containers", zap.Int("requested", n), zap.Int("started", started))
	return result.ErrorOrNil()
}

// Kill stops the n most recently started running containers. Asking for
// more than are running stops all of them.
func (d *DockerDriver) Kill(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoaded(ctx); err != nil {
		return err
	}
	running, err := d.running()
	if err != nil {
		return err
	}
	if n > len(running) {
		d.logger.Warnw("Fewer running containers than requested kills",
			zap.Int("requested", n), zap.Int("running", len(running)))
		n = len(running)
	}

	var result *multierror.Error
	killed := 0
	for _, t := range running[:n] {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("killed %d of %d containers: %w", killed, n, err))
			break
		}

		res := d.docker.Stop(ctx, t.ContainerID, d.opts.Terminate)
		if res.Error != nil {
			d.logger.Errorw("Failed to kill container", zap.String("name", t.Name), zap.Error(res.Error))
			result = multierror.Append(result, res.Error)
			continue
		}

		killed++
		if d.opts.Terminate {
			_ = d.inventory.Delete(t.ContainerID)
			continue
		}
		stopped := *t
		stopped.State = task.Completed
		stopped.FinishTime = d.now()
		_ = d.inventory.Put(t.ContainerID, &stopped)
	}

	d.logger.Infow("Killed containers", zap.Int("requested", n), zap.Int("killed", killed))
	return result.ErrorOrNil()
}
