package poller

import "errors"

// FD 表示文件描述符。
type FD = int

// Event 是一次就绪通知。Closed 表示 ERR/HUP 一类的终止状态，
// reactor 据此给连接打 EOF 而不是立即撕掉。
type Event struct {
	FD       FD
	Readable bool
	Writable bool
	Closed   bool
}

// Poller 是 reactor 每 tick 调用一次的多路复用器。
// 水平触发：未读尽的数据下个 tick 继续上报，reactor 无需一次榨干。
type Poller interface {
	Register(fd FD, readable, writable bool) error
	Mod(fd FD, readable, writable bool) error
	Unregister(fd FD) error

	// Wait 带上限等待就绪事件，timeoutMs 取 tick 周期，保证定时器
	// 在无网络活动时仍按时推进。被信号打断时返回 (0, nil)。
	Wait(events []Event, timeoutMs int) (int, error)

	Wake() error
	Close() error
}

// ErrPlatformNotSupported 在无 epoll/kqueue 的平台上由 New 返回。
var ErrPlatformNotSupported = errors.New("poller: platform not supported")
