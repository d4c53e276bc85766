package session

import (
	"errors"
	"fmt"
	"net/netip"

	log "github.com/sirupsen/logrus"

	"github.com/kagesvr/kage/crypt"
	"github.com/kagesvr/kage/fifo"
	"github.com/kagesvr/kage/poller"
	"github.com/kagesvr/kage/protocol"
	"github.com/kagesvr/kage/throttle"
)

var (
	// ErrTableFull 表示连接表满，accept 被拒。
	ErrTableFull = errors.New("session: connection table full")
	// ErrBadHandle 表示句柄越界或未使用。
	ErrBadHandle = errors.New("session: bad handle")
	// ErrLockedOut 表示源地址处于锁定，连接未创建。
	ErrLockedOut = errors.New("session: address locked out")
	// ErrAllocationFailure 表示缓冲无法增长，仅撕掉该连接。
	ErrAllocationFailure = errors.New("session: buffer allocation failure")
	// ErrProtocolViolation 表示读越过可用数据或包头非法。
	ErrProtocolViolation = errors.New("session: protocol violation")
	// ErrTransportError 表示读写系统调用失败。
	ErrTransportError = errors.New("session: transport error")
)

// Options 是 Manager 的装配参数，零值经 normalize 后可用。
type Options struct {
	MaxConns    int
	ReadBufInit int // 读 FIFO 初始容量
	ReadBufCap  int // 读 FIFO 硬上限，超过即撕连接
	SendBufInit int
	SendBufCap  int
	StaticKey   []byte // 静态异或密钥，不超过 9 字节有效
	IdleTicks   int64  // 空闲超时（tick 数），0 = 不超时
	Throttle    *throttle.Table
	ACL         *throttle.ACL
}

func (o *Options) normalize() {
	if o.MaxConns <= 0 {
		o.MaxConns = 1024
	}
	if o.ReadBufInit <= 0 {
		o.ReadBufInit = 2 * 1024
	}
	if o.ReadBufCap <= 0 {
		o.ReadBufCap = 64 * 1024
	}
	if o.SendBufInit <= 0 {
		o.SendBufInit = 2 * 1024
	}
	if o.SendBufCap <= 0 {
		o.SendBufCap = 4 * 1024 * 1024
	}
}

// Manager 持有固定容量的连接表，按句柄索引。表归 reactor 独占，
// 全部访问都走带句柄的方法，无环境全局。
type Manager struct {
	opts Options

	table    []*Session
	freeList []int
	byFD     map[int]int // fd -> handle

	poll     poller.Poller
	listenFD int

	staticKey [crypt.KeySize]byte

	defaults Callbacks
	tick     int64
}

// NewManager 分配连接表。poll 可为 nil（纯缓冲测试用）。
func NewManager(poll poller.Poller, opts Options) *Manager {
	opts.normalize()
	m := &Manager{
		opts:     opts,
		table:    make([]*Session, opts.MaxConns),
		freeList: make([]int, 0, opts.MaxConns),
		byFD:     make(map[int]int, opts.MaxConns),
		poll:     poll,
		listenFD: -1,
	}
	// 空闲句柄从小到大派发。
	for h := opts.MaxConns - 1; h >= 0; h-- {
		m.freeList = append(m.freeList, h)
	}
	copy(m.staticKey[:], opts.StaticKey) // 超出 9 字节的部分不参与变换
	return m
}

// SetDefaultParse 等四个方法设置进程级缺省回调，
// 作用于其后新建的每条连接。
func (m *Manager) SetDefaultParse(fn func(h int))    { m.defaults.Parse = fn }
func (m *Manager) SetDefaultAccept(fn func(h int))   { m.defaults.Accept = fn }
func (m *Manager) SetDefaultTimeout(fn func(h int))  { m.defaults.Timeout = fn }
func (m *Manager) SetDefaultShutdown(fn func(h int)) { m.defaults.Shutdown = fn }

// BeginTick 由 reactor 在每 tick 开头推进逻辑时钟。
func (m *Manager) BeginTick(tick int64) { m.tick = tick }

// Live 返回存活连接数。
func (m *Manager) Live() int { return len(m.table) - len(m.freeList) }

func (m *Manager) get(h int) (*Session, error) {
	if h < 0 || h >= len(m.table) || m.table[h] == nil {
		return nil, ErrBadHandle
	}
	return m.table[h], nil
}

// Get 返回句柄对应的会话，未使用的句柄得到 ErrBadHandle。
func (m *Manager) Get(h int) (*Session, error) { return m.get(h) }

func (m *Manager) alloc() (*Session, error) {
	if len(m.freeList) == 0 {
		return nil, ErrTableFull
	}
	h := m.freeList[len(m.freeList)-1]
	m.freeList = m.freeList[:len(m.freeList)-1]
	s := &Session{
		handle:       h,
		fd:           -1,
		rfifo:        fifo.New(m.opts.ReadBufInit, m.opts.ReadBufCap),
		wfifo:        fifo.New(m.opts.SendBufInit, m.opts.SendBufCap),
		lastActivity: m.tick,
		cbs:          m.defaults,
	}
	m.table[h] = s
	return s, nil
}

func (m *Manager) release(s *Session) {
	if s.fd >= 0 {
		delete(m.byFD, s.fd)
	}
	m.table[s.handle] = nil
	m.freeList = append(m.freeList, s.handle)
	s.rfifo = nil
	s.wfifo = nil
	s.identity = nil
	s.encHash = nil
}

// MarkEOF 给连接打终止码。幂等，坏句柄静默忽略。
func (m *Manager) MarkEOF(h int, code EOFCode) {
	s, err := m.get(h)
	if err != nil {
		return
	}
	s.markEOF(code)
}

// AttachIdentity 挂上游戏层的不透明身份指针。
func (m *Manager) AttachIdentity(h int, blob any) error {
	s, err := m.get(h)
	if err != nil {
		return err
	}
	s.identity = blob
	return nil
}

// Identity 取回身份指针，未挂时为 nil。
func (m *Manager) Identity(h int) any {
	s, err := m.get(h)
	if err != nil {
		return nil
	}
	return s.identity
}

// SetCipherTable 挂上认证后派生的身份散列表，动态密钥自此可用。
func (m *Manager) SetCipherTable(h int, table []byte) error {
	s, err := m.get(h)
	if err != nil {
		return err
	}
	s.encHash = table
	return nil
}

// CipherTable 返回连接的身份散列表，未认证时为 nil。
func (m *Manager) CipherTable(h int) []byte {
	s, err := m.get(h)
	if err != nil {
		return nil
	}
	return s.encHash
}

// SetCallbacks 覆盖单条连接的回调槽（缺省来自 SetDefault*）。
func (m *Manager) SetCallbacks(h int, cbs Callbacks) error {
	s, err := m.get(h)
	if err != nil {
		return err
	}
	s.cbs = cbs
	return nil
}

// ── 入站读取 ────────────────────────────────────────────────────────────────

// Available 返回句柄入站缓冲的未消费字节数。
func (m *Manager) Available(h int) int {
	s, err := m.get(h)
	if err != nil {
		return 0
	}
	return s.rfifo.Available()
}

// ReadU8 读取读游标偏移 off 处的字节，不消费。
func (m *Manager) ReadU8(h int, off int) (byte, error) {
	s, err := m.get(h)
	if err != nil {
		return 0, err
	}
	v, err := s.rfifo.PeekU8(off)
	if err != nil {
		return 0, m.violation(s, err)
	}
	return v, nil
}

// ReadU16 小端读取 16 位，不消费。
func (m *Manager) ReadU16(h int, off int) (uint16, error) {
	s, err := m.get(h)
	if err != nil {
		return 0, err
	}
	v, err := s.rfifo.PeekU16(off)
	if err != nil {
		return 0, m.violation(s, err)
	}
	return v, nil
}

// ReadU32 小端读取 32 位，不消费。
func (m *Manager) ReadU32(h int, off int) (uint32, error) {
	s, err := m.get(h)
	if err != nil {
		return 0, err
	}
	v, err := s.rfifo.PeekU32(off)
	if err != nil {
		return 0, m.violation(s, err)
	}
	return v, nil
}

// Bytes 返回读游标起 n 字节的只读视图，不消费。
func (m *Manager) Bytes(h int, off, n int) ([]byte, error) {
	s, err := m.get(h)
	if err != nil {
		return nil, err
	}
	b, err := s.rfifo.Peek(off, n)
	if err != nil {
		return nil, m.violation(s, err)
	}
	return b, nil
}

// Skip 消费 n 字节。越过可用数据即协议违例：该连接被打上 EOF，
// 游标保持原位，进程与其它连接不受影响。
func (m *Manager) Skip(h int, n int) error {
	s, err := m.get(h)
	if err != nil {
		return err
	}
	if err := s.rfifo.Skip(n); err != nil {
		return m.violation(s, err)
	}
	s.decrypted -= n
	if s.decrypted < 0 {
		s.decrypted = 0
	}
	return nil
}

func (m *Manager) violation(s *Session, cause error) error {
	s.markEOF(EOFProtocol)
	log.WithFields(log.Fields{
		"handle": s.handle,
		"addr":   s.addr,
	}).Warn("session: protocol violation")
	return fmt.Errorf("%w: %v", ErrProtocolViolation, cause)
}

// ── 出站发送 ────────────────────────────────────────────────────────────────

// MaxPayload 是单包负载上限：长度字段还要计入操作码、计数与
// 加密索引尾部，超出即溢出 16 位长度字段。
const MaxPayload = protocol.MaxBodyLen - protocol.TrailerSize - 2

// SendQueue 在出站缓冲中为一个 n 字节负载的包预留空间，
// 返回负载写入区。包头与加密索引尾部由 CommitSend 补齐。
// 缓冲无法增长时连接被打上 EOF，返回 ErrAllocationFailure。
func (m *Manager) SendQueue(h int, n int) ([]byte, error) {
	s, err := m.get(h)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > MaxPayload {
		return nil, fmt.Errorf("session: payload %d bytes: %w", n, protocol.ErrBodyTooLong)
	}
	total := protocol.HeaderSize + n + protocol.TrailerSize
	buf, err := s.wfifo.Head(total)
	if err != nil {
		s.markEOF(EOFWriteError)
		log.WithField("handle", h).Error("session: send buffer cannot grow")
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailure, err)
	}
	return buf[protocol.HeaderSize : protocol.HeaderSize+n], nil
}

// CommitSend 写包头（分配并递增计数字节）、打加密索引、按操作码
// 选择加密方案就地加密，然后把整包标记为待发送。
// n 必须与先前 SendQueue 的预留一致。
func (m *Manager) CommitSend(h int, opcode byte, n int) error {
	s, err := m.get(h)
	if err != nil {
		return err
	}
	if n < 0 || n > MaxPayload {
		return fmt.Errorf("session: payload %d bytes: %w", n, protocol.ErrBodyTooLong)
	}
	total := protocol.HeaderSize + n + protocol.TrailerSize
	pkt, err := s.wfifo.Head(total)
	if err != nil {
		s.markEOF(EOFWriteError)
		return fmt.Errorf("%w: %v", ErrAllocationFailure, err)
	}
	pkt = pkt[:total]

	// 长度字段先按 负载+2 写入，SetPacketIndexes 再加上尾部 3 字节。
	if err := protocol.PutHeader(pkt, n+2, opcode, s.increment); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	s.increment++

	crypt.SetPacketIndexes(pkt)
	m.encrypt(s, pkt, opcode)

	return s.wfifo.Commit(total)
}

// encrypt 出站加密：静态表操作码走进程级密钥，其余在身份表就绪时
// 走动态派生；未认证且需要动态方案的包原样发出（与旧行为一致）。
func (m *Manager) encrypt(s *Session, pkt []byte, opcode byte) {
	if crypt.IsKeyServer(opcode) {
		crypt.StaticTransform(pkt, m.staticKey[:])
		return
	}
	if s.encHash == nil {
		return
	}
	key := crypt.DeriveDynamicKey(pkt, s.encHash, false)
	crypt.DynamicTransform(pkt, key[:])
}

// decryptCompleted 对 rfifo 中新到齐的完整包就地解密，推进水位。
// 包头标记非法时打协议违例。
func (m *Manager) decryptCompleted(s *Session) {
	for {
		avail := s.rfifo.Available()
		if s.decrypted >= avail {
			return
		}
		rest, err := s.rfifo.Peek(s.decrypted, avail-s.decrypted)
		if err != nil {
			return
		}
		total, ok := protocol.Complete(rest)
		if !ok {
			return
		}
		if rest[0] != protocol.Marker {
			s.markEOF(EOFProtocol)
			return
		}
		pkt := rest[:total]
		opcode := pkt[3]
		if crypt.IsKeyClient(opcode) {
			crypt.StaticTransform(pkt, m.staticKey[:])
		} else if s.encHash != nil {
			key := crypt.DeriveDynamicKey(pkt, s.encHash, true)
			crypt.DynamicTransform(pkt, key[:])
		}
		// 动态方案且身份未挂：原样留给 null_parse 丢弃。
		s.decrypted += total
	}
}

// DispatchParse 按句柄升序给每条有完整已解密数据的连接跑 parse。
// parse 槽为空时执行 null_parse：整段丢弃入站数据。
// 已打 EOF 的连接也得到最后一次 parse 机会（处理残余数据）。
func (m *Manager) DispatchParse() {
	for h := 0; h < len(m.table); h++ {
		s := m.table[h]
		if s == nil {
			continue
		}
		if s.rfifo.Available() == 0 && s.eof == EOFNone {
			continue
		}
		if s.cbs.Parse == nil {
			if n := s.rfifo.Available(); n > 0 {
				_ = s.rfifo.Skip(n)
				s.decrypted = 0
			}
			continue
		}
		// 回调有消费进展就继续喂，直到数据耗尽或按兵不动。
		for s.rfifo.Available() > 0 {
			before := s.rfifo.Available()
			s.cbs.Parse(h)
			if m.table[h] != s {
				break // 回调内被回收
			}
			if s.rfifo.Available() >= before {
				break
			}
		}
		if s.eof != EOFNone && m.table[h] == s && s.cbs.Parse != nil {
			s.cbs.Parse(h)
		}
	}
}

// permitAccept 是 accept 路径的准入检查：ACL 拒绝与锁定地址
// 直接否决，连接不会创建、缓冲不会分配。通过的尝试计入窗口，
// 高频重连最终触发锁定。
func (m *Manager) permitAccept(addr netip.Addr) bool {
	if m.opts.ACL != nil && !m.opts.ACL.Permits(addr) {
		log.WithField("addr", addr).Info("session: accept denied by acl")
		return false
	}
	if m.opts.Throttle != nil {
		if m.opts.Throttle.IsLockedOut(addr) {
			log.WithField("addr", addr).Info("session: accept rejected, address locked out")
			return false
		}
		m.opts.Throttle.RecordFailure(addr)
	}
	return true
}

// CheckTimeouts 检查空闲超时，触发角色 timeout 回调；
// 无回调时直接按认证超时终止。
func (m *Manager) CheckTimeouts() {
	if m.opts.IdleTicks <= 0 {
		return
	}
	for h := 0; h < len(m.table); h++ {
		s := m.table[h]
		if s == nil || s.eof != EOFNone {
			continue
		}
		if m.tick-s.lastActivity < m.opts.IdleTicks {
			continue
		}
		s.onActivity(m.tick) // 防止同一连接每 tick 重复触发
		if s.cbs.Timeout != nil {
			s.cbs.Timeout(h)
		} else {
			s.markEOF(EOFAuthTimeout)
		}
	}
}
