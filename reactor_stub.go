//go:build !linux && !darwin

package kage

// Reactor 需要 epoll 或 kqueue，其它平台只给出占位。
type Reactor struct{}

func New(cfg *Config) (*Reactor, error) {
	return nil, ErrPlatformNotSupported
}
