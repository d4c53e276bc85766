package kage

import (
	"github.com/kagesvr/kage/poller"
	"github.com/kagesvr/kage/session"
)

// 错误分级沿用一条铁律：所有连接级故障只撕该连接，
// 进程级致命仅限启动失败（bind 不上、连接表分配不了）。

var (
	// ErrAllocationFailure：缓冲无法增长，连接被回收。
	ErrAllocationFailure = session.ErrAllocationFailure

	// ErrProtocolViolation：越界读取或非法包头，连接被回收。
	ErrProtocolViolation = session.ErrProtocolViolation

	// ErrTransportError：读写系统调用失败（含断管），连接被回收。
	ErrTransportError = session.ErrTransportError

	// ErrLockedOut：源地址处于锁定，连接未创建。
	ErrLockedOut = session.ErrLockedOut

	// ErrPlatformNotSupported：当前平台没有 epoll/kqueue。
	ErrPlatformNotSupported = poller.ErrPlatformNotSupported
)
