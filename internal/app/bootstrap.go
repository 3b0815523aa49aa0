package app

import (
	"errors"
	"net"

	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/provider"
	"github.com/zk-express/agent-engine/internal/router"
	"github.com/zk-express/agent-engine/internal/worker"
)

// BuildRunner 按模式组装服务
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	switch mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return nil, errors.New("unknown mode: " + mode)
	}

	container := provider.NewContainer(cfg)
	var services []Service

	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		services = append(services, NewHTTPService(net.JoinHostPort(cfg.Server.Host, cfg.Server.Port), engine))
	}

	if mode == ModeAll || mode == ModeWorker {
		workerService, err := worker.NewService(&cfg.Queue, worker.NewConsumer(container))
		switch {
		case errors.Is(err, worker.ErrQueueDisabled):
			// 队列关闭时信誉与生命周期事件走同步路径
			logger.Infow("app_worker_skipped", "reason", "queue_disabled")
		case err != nil:
			container.Close()
			return nil, err
		default:
			services = append(services, workerService)
		}

		if cfg.Maintenance.Enabled {
			scheduler, err := worker.NewScheduler(cfg.Maintenance, container.AnalyticsService, container.RetentionService)
			if err != nil {
				container.Close()
				return nil, err
			}
			services = append(services, scheduler)
		}
	}

	if len(services) == 0 {
		container.Close()
		return nil, errors.New("no services initialized (check mode and config)")
	}

	runner := NewRunner(services...)
	runner.OnShutdown(container.Close)
	return runner, nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start",
		"addr", net.JoinHostPort(opts.Config.Server.Host, opts.Config.Server.Port),
		"mode", opts.Mode,
		"services", len(runner.services),
	)
	return RunWithOptions(runner, opts)
}
