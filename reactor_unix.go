//go:build linux || darwin

package kage

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kagesvr/kage/poller"
	"github.com/kagesvr/kage/session"
	"github.com/kagesvr/kage/throttle"
	"github.com/kagesvr/kage/timer"
)

// Reactor 是单线程 tick 循环，独占连接表与定时轮。
// 每 tick 的固定次序：定时器 → 网络 I/O → parse 分发 → 回收。
// 回调全部在循环线程内同步执行，不得阻塞。
type Reactor struct {
	cfg *Config

	poll     poller.Poller
	sessions *session.Manager
	timers   *timer.Wheel
	throttle *throttle.Table

	events []poller.Event
	start  time.Time

	stopping atomic.Bool
	sigCh    chan os.Signal
}

// New 装配 reactor。配置非法或平台不支持时返回错误，
// 此类失败属于进程级致命。
func New(cfg *Config) (*Reactor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	order, err := cfg.aclOrder()
	if err != nil {
		return nil, err
	}
	acl, err := throttle.ParseACL(order, cfg.Allow, cfg.Deny)
	if err != nil {
		return nil, err
	}

	poll, err := poller.New()
	if err != nil {
		return nil, err
	}

	tbl := throttle.NewTable()
	mgr := session.NewManager(poll, session.Options{
		MaxConns:    cfg.MaxConns,
		ReadBufInit: cfg.ReadBufInit,
		ReadBufCap:  cfg.ReadBufCap,
		SendBufInit: cfg.SendBufInit,
		SendBufCap:  cfg.SendBufCap,
		StaticKey:   []byte(cfg.StaticKey),
		IdleTicks:   cfg.IdleTimeout.Milliseconds(),
		Throttle:    tbl,
		ACL:         acl,
	})

	r := &Reactor{
		cfg:      cfg,
		poll:     poll,
		sessions: mgr,
		timers:   timer.NewWheel(),
		throttle: tbl,
		events:   make([]poller.Event, cfg.EventCapacity),
		start:    time.Now(),
		sigCh:    make(chan os.Signal, 1),
	}

	// 限流表的周期维护：秒级清扫过期历史，十分钟整表重置。
	r.timers.Insert(throttle.SweepInterval.Milliseconds(), throttle.SweepInterval.Milliseconds(),
		func(timer.ID, int) { tbl.Sweep() }, 0)
	r.timers.Insert(throttle.ResetInterval.Milliseconds(), throttle.ResetInterval.Milliseconds(),
		func(timer.ID, int) { tbl.Reset() }, 0)

	return r, nil
}

// Sessions 暴露会话管理器，角色层经此注册回调与收发数据。
func (r *Reactor) Sessions() *session.Manager { return r.sessions }

// Throttle 暴露限流表（协议层发现恶意行为时手动锁定用）。
func (r *Reactor) Throttle() *throttle.Table { return r.throttle }

// InsertTimer 注册游戏定时器，单位毫秒。
func (r *Reactor) InsertTimer(delay, interval int64, cb timer.Callback, arg int) timer.ID {
	return r.timers.Insert(delay, interval, cb, arg)
}

// RemoveTimer 注销定时器，id 不存在时为空操作。
func (r *Reactor) RemoveTimer(id timer.ID) {
	r.timers.Remove(id)
}

// Tick 返回当前逻辑时钟（自启动的毫秒数）。
func (r *Reactor) Tick() int64 {
	return time.Since(r.start).Milliseconds()
}

// Listen 绑定监听地址。bind 失败是启动期致命错误。
func (r *Reactor) Listen() error {
	return r.sessions.Listen(r.cfg.Address)
}

// ConnectOut 建立出站连接（服务器互联）。
func (r *Reactor) ConnectOut(address string) (int, error) {
	return r.sessions.ConnectOut(address)
}

// Shutdown 请求停机。可从任意 goroutine 调用；循环在当前 tick
// 末尾完成回收后对存活连接跑 shutdown，然后退出。
func (r *Reactor) Shutdown() {
	if r.stopping.CompareAndSwap(false, true) {
		_ = r.poll.Wake()
	}
}

// Run 驱动 tick 循环直到收到停机信号。阻塞调用方。
func (r *Reactor) Run() error {
	signal.Notify(r.sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(r.sigCh)

	tickMs := int(r.cfg.TickInterval / time.Millisecond)
	log.WithFields(log.Fields{
		"tick_ms":   tickMs,
		"max_conns": r.cfg.MaxConns,
	}).Info("reactor: running")

	for {
		select {
		case sig := <-r.sigCh:
			log.WithField("signal", sig).Info("reactor: shutdown signal")
			r.stopping.Store(true)
		default:
		}

		now := r.Tick()
		r.sessions.BeginTick(now)
		r.timers.Advance(now)

		// 阻塞上限 = tick 周期：没有网络活动时定时器照样按时推进。
		n, err := r.poll.Wait(r.events, tickMs)
		if err != nil {
			log.WithError(err).Error("reactor: poll failed")
			r.stopping.Store(true)
		}
		r.sessions.HandleEvents(r.events[:n])
		r.sessions.FlushPending()

		r.sessions.DispatchParse()
		r.sessions.CheckTimeouts()
		r.sessions.Reap()

		if r.stopping.Load() {
			r.sessions.ShutdownAll()
			_ = r.poll.Close()
			log.Info("reactor: stopped")
			return nil
		}
	}
}
