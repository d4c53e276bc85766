package kage

import (
	"errors"
	"fmt"
	"time"

	"github.com/kagesvr/kage/throttle"
)

// Config 汇集协议核心的全部可调参数。零值字段由 DefaultConfig 的
// 返回值补齐；角色进程通常只改 Address 与回调。
type Config struct {
	// Address 是监听地址（host:port）。
	Address string

	// MaxConns 是连接表容量，句柄范围 [0, MaxConns)。
	MaxConns int

	// TickInterval 是 reactor 的节拍周期。
	TickInterval time.Duration

	// 读 FIFO：初始容量与硬上限（触顶撕该连接）。
	ReadBufInit int
	ReadBufCap  int

	// 写 FIFO：初始容量与硬上限。
	SendBufInit int
	SendBufCap  int

	// StaticKey 是握手操作码用的进程级异或密钥，最多 9 字节有效。
	StaticKey string

	// IdleTimeout 是空闲超时，0 = 不检查。
	IdleTimeout time.Duration

	// ACLOrder / Allow / Deny 是接入控制表（逗号分隔的 ipmask 规则）。
	ACLOrder string
	Allow    string
	Deny     string

	// EventCapacity 是单 tick 消化的就绪事件上限。
	EventCapacity int
}

// StaticKeyMax 是静态密钥的有效长度上限（循环周期 9 字节）。
const StaticKeyMax = 9

// DefaultConfig 返回生产缺省值。
func DefaultConfig() *Config {
	return &Config{
		Address:       ":6900",
		MaxConns:      1024,
		TickInterval:  10 * time.Millisecond,
		ReadBufInit:   2 * 1024,
		ReadBufCap:    64 * 1024,
		SendBufInit:   2 * 1024,
		SendBufCap:    4 * 1024 * 1024,
		ACLOrder:      "deny,allow",
		EventCapacity: 1024,
	}
}

var errBadConfig = errors.New("kage: bad config")

func (c *Config) validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address required", errBadConfig)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("%w: max conns must be positive", errBadConfig)
	}
	if c.TickInterval < time.Millisecond {
		return fmt.Errorf("%w: tick interval below 1ms", errBadConfig)
	}
	if len(c.StaticKey) > StaticKeyMax {
		return fmt.Errorf("%w: static key longer than %d bytes", errBadConfig, StaticKeyMax)
	}
	if c.ReadBufCap > 0 && c.ReadBufInit > c.ReadBufCap {
		return fmt.Errorf("%w: read buffer initial size exceeds cap", errBadConfig)
	}
	if c.SendBufCap > 0 && c.SendBufInit > c.SendBufCap {
		return fmt.Errorf("%w: send buffer initial size exceeds cap", errBadConfig)
	}
	return nil
}

func (c *Config) aclOrder() (throttle.Order, error) {
	switch c.ACLOrder {
	case "", "deny,allow":
		return throttle.DenyAllow, nil
	case "allow,deny":
		return throttle.AllowDeny, nil
	case "mutual-failure":
		return throttle.MutualFailure, nil
	}
	return 0, fmt.Errorf("%w: unknown acl order %q", errBadConfig, c.ACLOrder)
}
