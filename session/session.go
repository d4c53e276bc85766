package session

import (
	"net/netip"

	"github.com/kagesvr/kage/fifo"
)

// EOFCode 标记连接的终止原因。非零即待回收，reactor 在 tick 末统一清理。
type EOFCode int

const (
	EOFNone         EOFCode = 0
	EOFGraceful     EOFCode = 1 // 主动正常关闭
	EOFWriteError   EOFCode = 2 // 写失败或缓冲无法增长
	EOFReadError    EOFCode = 3 // 读/传输层错误
	EOFPeerClosed   EOFCode = 4 // 对端关闭
	EOFProtocol     EOFCode = 5 // 协议违例（越界 skip、坏标记）
	EOFNullIdentity EOFCode = 6 // 未认证连接被拒
	EOFAuthTimeout  EOFCode = 7 // 认证/空闲超时
)

func (c EOFCode) String() string {
	switch c {
	case EOFNone:
		return "none"
	case EOFGraceful:
		return "graceful"
	case EOFWriteError:
		return "write-error"
	case EOFReadError:
		return "read-error"
	case EOFPeerClosed:
		return "peer-closed"
	case EOFProtocol:
		return "protocol-violation"
	case EOFNullIdentity:
		return "null-identity"
	case EOFAuthTimeout:
		return "auth-timeout"
	}
	return "unknown"
}

// Callbacks 是角色层挂在连接上的回调槽。nil 槽取内建缺省行为：
// parse 为 nil 时入站数据被整段丢弃（未认证连接的 null_parse 语义），
// timeout 为 nil 时空闲超时直接打 EOFAuthTimeout。
// 所有回调都在 reactor tick 内同步执行，不得阻塞。
type Callbacks struct {
	Accept   func(h int)
	Parse    func(h int)
	Timeout  func(h int)
	Shutdown func(h int)
}

// Session 是一条连接的全部状态。只在 reactor tick 内被访问，无锁。
type Session struct {
	handle int
	fd     int
	addr   netip.AddrPort

	rfifo *fifo.Buffer
	wfifo *fifo.Buffer

	eof       EOFCode
	increment byte // 每包递增计数，模 256 回绕

	// decrypted 是 rfifo 读游标之后已解密的字节数，
	// 防止跨 tick 对同一段数据二次变换。
	decrypted int

	lastActivity int64 // tick

	// identity 由游戏层在认证后挂上，本核心不解引用。
	identity any
	// encHash 是身份散列表，动态密钥派生的输入。
	encHash []byte

	cbs Callbacks
}

// Handle 返回会话句柄。
func (s *Session) Handle() int { return s.handle }

// Addr 返回对端地址。
func (s *Session) Addr() netip.AddrPort { return s.addr }

// EOF 返回终止码，0 表示存活。
func (s *Session) EOF() EOFCode { return s.eof }

// markEOF 幂等：已终止的连接忽略后续终止请求，保留首因。
func (s *Session) markEOF(code EOFCode) {
	if s.eof == EOFNone && code != EOFNone {
		s.eof = code
	}
}

// onActivity 刷新空闲计时。
func (s *Session) onActivity(tick int64) {
	s.lastActivity = tick
}
