package throttle

import (
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// 接入限流：按源地址统计失败窗口，超限进入锁定。
// 只在 accept 路径查询，不触碰包内容。

const (
	// HistoryInterval 是失败窗口的补充周期：窗口内允许 MaxFailures 次。
	HistoryInterval = 3 * time.Second

	// MaxFailures 是窗口内允许的失败次数，超出即锁定。
	MaxFailures = 3

	// LockoutDuration 是锁定后的自动解除时间。
	LockoutDuration = 10 * time.Minute

	// SweepInterval 是建议的过期清扫周期（reactor 注册重复定时器用）。
	SweepInterval = time.Second

	// ResetInterval 是全表重置周期（旧实现每 10 分钟清一次计数）。
	ResetInterval = 10 * time.Minute
)

type entry struct {
	limiter     *rate.Limiter
	lockedUntil time.Time
	lastSeen    time.Time
}

func (e *entry) locked(now time.Time) bool {
	return e.lockedUntil.After(now)
}

// Table 是每源地址的失败/锁定表。reactor 单线程访问为主，
// 但 Listen 前的配置装载可能来自其它 goroutine，仍加锁。
type Table struct {
	mu      sync.Mutex
	entries map[netip.Addr]*entry

	interval time.Duration
	burst    int
	lockout  time.Duration

	now func() time.Time // 测试注入
}

func NewTable() *Table {
	return &Table{
		entries:  make(map[netip.Addr]*entry),
		interval: HistoryInterval,
		burst:    MaxFailures,
		lockout:  LockoutDuration,
		now:      time.Now,
	}
}

func (t *Table) get(addr netip.Addr, now time.Time) *entry {
	e, ok := t.entries[addr]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(t.interval), t.burst)}
		t.entries[addr] = e
	}
	e.lastSeen = now
	return e
}

// RecordFailure 记一次失败。窗口内超过 MaxFailures 次即进入锁定。
func (t *Table) RecordFailure(addr netip.Addr) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.get(addr, now)
	if !e.limiter.AllowN(now, 1) && !e.locked(now) {
		e.lockedUntil = now.Add(t.lockout)
		log.WithFields(log.Fields{
			"addr":  addr,
			"until": e.lockedUntil.Format(time.TimeOnly),
		}).Warn("throttle: address locked out")
	}
}

// Lock 直接锁定地址（外层协议处理发现恶意行为时调用）。
func (t *Table) Lock(addr netip.Addr) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.get(addr, now)
	e.lockedUntil = now.Add(t.lockout)
	log.WithField("addr", addr).Warn("throttle: address locked out")
}

// IsLockedOut 查询地址是否处于锁定。过期条目就地惰性清除，
// 不会拖累无关地址。
func (t *Table) IsLockedOut(addr netip.Addr) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[addr]
	if !ok {
		return false
	}
	if !e.locked(now) {
		if e.lockedUntil != (time.Time{}) {
			// 锁定已到期，回到普通历史条目。
			e.lockedUntil = time.Time{}
		}
		return false
	}
	return true
}

// Sweep 清除陈旧条目：普通历史超过 3×窗口，锁定超过解除时间。
// 由 reactor 的 1 秒重复定时器驱动，返回剩余条目数。
func (t *Table) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	for addr, e := range t.entries {
		if e.locked(now) {
			continue
		}
		if now.Sub(e.lastSeen) > 3*t.interval {
			delete(t.entries, addr)
		}
	}
	return len(t.entries)
}

// Reset 清空全表（旧实现的 10 分钟周期重置）。
func (t *Table) Reset() {
	t.mu.Lock()
	t.entries = make(map[netip.Addr]*entry)
	t.mu.Unlock()
	log.Debug("throttle: table reset")
}

// Len 返回当前条目数。
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
