package control

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServerParams struct {
	fx.In

	Config Config

	Status    StatusSource
	Restarter Restarter

	Logger *zap.Logger
}

// Server serves the control api on a unix socket.
type Server struct {
	socket   string
	rpc      *rpc.Server
	listener net.Listener
	log      *zap.Logger
}

func NewServer(params ServerParams) (*Server, error) {
	if params.Config.Socket == "" {
		return nil, errors.New("no control socket given")
	}

	log := params.Logger.Named("control")

	srv := rpc.NewServer()

	service := NewService(params.Status, params.Restarter, params.Config, log)
	if err := srv.RegisterName(Namespace, service); err != nil {
		return nil, fmt.Errorf("failed to register control service: %w", err)
	}

	return &Server{
		socket: params.Config.Socket,
		rpc:    srv,
		log:    log.With(zap.String("socket", params.Config.Socket)),
	}, nil
}

func NewLifecycleServer(params ServerParams, lc fx.Lifecycle) (*Server, error) {
	server, err := NewServer(params)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Listen(ctx); err != nil {
				return err
			}
			go server.Serve()
			return nil
		},
		OnStop: func(context.Context) error {
			return server.Close()
		},
	})

	return server, nil
}

// Listen binds the socket. A stale socket file is replaced.
func (s *Server) Listen(ctx context.Context) error {
	if err := os.Remove(s.socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	cfg := net.ListenConfig{}

	listener, err := cfg.Listen(ctx, "unix", s.socket)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener

	s.log.Info("listening")

	return nil
}

// Serve accepts connections until the server is closed.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	err := s.rpc.ServeListener(s.listener)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Error("failed to serve", zap.Error(err))
		return err
	}

	return nil
}

func (s *Server) Close() error {
	s.rpc.Stop()

	if s.listener != nil {
		// also removes the socket file
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}

	return nil
}
