package control

import "time"

const (
	DefaultSocket       = ".hotswap.sock"
	DefaultDialTimeout  = 5 * time.Second
	DefaultRestartEvery = time.Second
)

type Config struct {
	// Socket is the path of the unix socket the control server listens
	// on. The server is disabled if empty.
	Socket string `conf:"socket"`

	// RestartEvery limits how often restarts can be requested
	RestartEvery time.Duration `conf:"restart_every"`
}
