package cmd

import (
	"go.uber.org/zap"

	"cortex/balancer"
	"cortex/config"
	"cortex/lifecycle"
	"cortex/logging"
	"cortex/task"
)

// newDriver builds the lifecycle driver selected by docker.driver.
func newDriver(cfg *config.Config, logger *zap.SugaredLogger) (balancer.Driver, error) {
	dc := cfg.Docker
	if dc.Driver == config.DriverMemory {
		logger.Infow("Using in-memory lifecycle driver", zap.Int("containers", cfg.Balancer.MinContainers))
		return lifecycle.NewMemoryDriver(cfg.Balancer.MinContainers), nil
	}

	ports, err := task.ParsePorts(dc.ExposedPorts)
	if err != nil {
		return nil, err
	}
	docker, err := task.NewDocker(&task.Config{
		Pool:          dc.Pool,
		Image:         dc.Image,
		Env:           dc.Env,
		ExposedPorts:  ports,
		Memory:        dc.Memory,
		Cpu:           dc.CPU,
		RestartPolicy: dc.RestartPolicy,
	})
	if err != nil {
		return nil, err
	}

	return lifecycle.NewDockerDriver(docker, lifecycle.DockerOptions{
		NamePrefix:   dc.NamePrefix,
		Terminate:    dc.TerminateMode,
		PullImage:    dc.PullImage,
		InventoryTTL: dc.InventoryTTL,
	}, logging.Named(logger, "docker")), nil
}
