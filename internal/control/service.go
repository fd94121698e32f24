package control

import (
	"context"
	"errors"

	"github.com/lambda-feedback/hotswap/internal/supervisor"
	"github.com/lambda-feedback/hotswap/util"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Namespace prefixes the rpc methods, e.g. hotswap_status.
const Namespace = "hotswap"

var ErrRateLimited = errors.New("too many restart requests")

type StatusSource interface {
	Status() supervisor.Status
}

type Restarter interface {
	RestartWorker(ctx context.Context) error
}

// StatusReply is the result of the status method.
type StatusReply struct {
	supervisor.Status

	// Usage is set for live workers, if it could be determined
	Usage *util.ProcessUsage `json:"usage,omitempty"`
}

// Service implements the rpc methods.
type Service struct {
	status    StatusSource
	restarter Restarter
	limiter   *rate.Limiter
	log       *zap.Logger
}

func NewService(status StatusSource, restarter Restarter, config Config, log *zap.Logger) *Service {
	every := config.RestartEvery
	if every <= 0 {
		every = DefaultRestartEvery
	}

	return &Service{
		status:    status,
		restarter: restarter,
		limiter:   rate.NewLimiter(rate.Every(every), 1),
		log:       log,
	}
}

// Status returns the state of the worker.
func (s *Service) Status(ctx context.Context) (StatusReply, error) {
	reply := StatusReply{Status: s.status.Status()}

	if reply.Pid > 0 {
		usage, err := util.GetProcessUsage(ctx, reply.Pid)
		if err != nil {
			s.log.Debug("failed to get process usage", zap.Error(err))
		} else {
			reply.Usage = &usage
		}
	}

	return reply, nil
}

// Restart restarts the worker with the most recent build.
func (s *Service) Restart(ctx context.Context) error {
	if !s.limiter.Allow() {
		return ErrRateLimited
	}

	s.log.Info("restart requested")

	return s.restarter.RestartWorker(ctx)
}
