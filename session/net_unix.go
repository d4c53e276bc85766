//go:build linux || darwin

package session

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kagesvr/kage/internal/netutil"
	"github.com/kagesvr/kage/poller"
)

const readChunk = 4096

// Listen 建立监听套接字并挂到 poller。只在启动期调用，
// 失败属于进程级致命错误，由调用方决定退出。
func (m *Manager) Listen(address string) error {
	sa, err := resolveSockaddr(address)
	if err != nil {
		return err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("session: socket: %w", err)
	}
	_ = netutil.SetReuseAddr(fd, true)
	_ = netutil.SetReusePort(fd, true)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("session: bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return fmt.Errorf("session: listen %s: %w", address, err)
	}
	if err := netutil.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}
	if m.poll != nil {
		if err := m.poll.Register(fd, true, false); err != nil {
			unix.Close(fd)
			return err
		}
	}
	m.listenFD = fd
	log.WithField("address", address).Info("session: listening")
	return nil
}

// ConnectOut 建立出站连接（服务器间互联）。connect 阶段阻塞，
// 成功后转非阻塞进 reactor。失败时不占用句柄。
func (m *Manager) ConnectOut(address string) (int, error) {
	sa, err := resolveSockaddr(address)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("session: socket: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("session: connect %s: %w", address, err)
	}
	h, err := m.adopt(fd, sockaddrToAddrPort(sa))
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	log.WithFields(log.Fields{"handle": h, "address": address}).Info("session: outbound connected")
	return h, nil
}

// AdoptFD 将一个已建立的 fd 纳入连接表（测试与进程内管道用）。
func (m *Manager) AdoptFD(fd int, addr netip.AddrPort) (int, error) {
	return m.adopt(fd, addr)
}

func (m *Manager) adopt(fd int, addr netip.AddrPort) (int, error) {
	if err := netutil.ApplyConnOpts(fd); err != nil {
		return -1, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	s, err := m.alloc()
	if err != nil {
		return -1, err
	}
	s.fd = fd
	s.addr = addr
	m.byFD[fd] = s.handle
	if m.poll != nil {
		if err := m.poll.Register(fd, true, false); err != nil {
			m.release(s)
			return -1, fmt.Errorf("%w: %v", ErrTransportError, err)
		}
	}
	if s.cbs.Accept != nil {
		s.cbs.Accept(s.handle)
	}
	return s.handle, nil
}

// HandleEvents 消化一个 tick 的就绪事件。
func (m *Manager) HandleEvents(events []poller.Event) {
	for _, ev := range events {
		if ev.FD == m.listenFD {
			m.acceptPending()
			continue
		}
		h, ok := m.byFD[ev.FD]
		if !ok {
			continue
		}
		s := m.table[h]
		if ev.Readable || ev.Closed {
			m.handleReadable(s)
		}
		if ev.Closed && s.eof == EOFNone {
			s.markEOF(EOFPeerClosed)
		}
	}
}

// acceptPending 把监听队列收空。锁定地址与 ACL 拒绝的连接
// 直接关闭，不分配任何缓冲。
func (m *Manager) acceptPending() {
	for {
		fd, sa, err := unix.Accept(m.listenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			log.WithError(err).Warn("session: accept failed")
			return
		}
		addr := sockaddrToAddrPort(sa)

		if !m.permitAccept(addr.Addr()) {
			unix.Close(fd)
			continue
		}

		h, err := m.adopt(fd, addr)
		if err != nil {
			log.WithError(err).WithField("addr", addr).Warn("session: accept dropped")
			unix.Close(fd)
			continue
		}
		log.WithFields(log.Fields{"handle": h, "addr": addr}).Debug("session: accepted")
	}
}

// handleReadable 把内核缓冲读空进 rfifo，然后解密到齐的包。
// 读 FIFO 触顶按分配失败撕连接（进程不退出）。
func (m *Manager) handleReadable(s *Session) {
	if s.eof != EOFNone {
		return
	}
	var chunk [readChunk]byte
	for {
		n, err := unix.Read(s.fd, chunk[:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				break
			}
			s.markEOF(EOFReadError)
			log.WithFields(log.Fields{"handle": s.handle, "err": err}).Debug("session: read error")
			break
		}
		if n == 0 {
			s.markEOF(EOFPeerClosed)
			break
		}
		if werr := s.rfifo.Write(chunk[:n]); werr != nil {
			s.markEOF(EOFWriteError)
			log.WithField("handle", s.handle).Warn("session: recv buffer limit exceeded")
			break
		}
		s.onActivity(m.tick)
		if n < readChunk {
			break
		}
	}
	m.decryptCompleted(s)
}

// FlushPending 对所有有待发数据的连接做一轮非阻塞写。
// 内核收多少算多少，剩余字节下个 tick 续写。
// 断管只影响本连接：打 EOF，绝不波及进程或其它连接。
func (m *Manager) FlushPending() {
	for h := 0; h < len(m.table); h++ {
		s := m.table[h]
		if s == nil || s.eof != EOFNone {
			continue
		}
		pending := s.wfifo.Pending()
		if len(pending) == 0 {
			continue
		}
		n, err := unix.Write(s.fd, pending)
		if n > 0 {
			_ = s.wfifo.Skip(n)
			s.onActivity(m.tick)
		}
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			s.markEOF(EOFWriteError)
			log.WithFields(log.Fields{"handle": h, "err": err}).Debug("session: write error")
		}
	}
}

// Reap 回收所有已打 EOF 的连接：跑 shutdown 回调、摘下 poller、
// 关 fd、释放缓冲、句柄回到空闲表。
func (m *Manager) Reap() {
	for h := 0; h < len(m.table); h++ {
		s := m.table[h]
		if s == nil || s.eof == EOFNone {
			continue
		}
		if s.cbs.Shutdown != nil {
			s.cbs.Shutdown(h)
		}
		log.WithFields(log.Fields{
			"handle": h,
			"addr":   s.addr,
			"code":   s.eof.String(),
		}).Info("session: closed")
		if s.fd >= 0 {
			if m.poll != nil {
				_ = m.poll.Unregister(s.fd)
			}
			unix.Close(s.fd)
		}
		m.release(s)
	}
}

// ShutdownAll 给所有存活连接打正常关闭码并立即回收，关掉监听。
// 套接字不被粗暴丢弃：SO_LINGER 设置保证内核把残余数据发完。
func (m *Manager) ShutdownAll() {
	m.FlushPending()
	for h := 0; h < len(m.table); h++ {
		if s := m.table[h]; s != nil {
			s.markEOF(EOFGraceful)
		}
	}
	m.Reap()
	if m.listenFD >= 0 {
		if m.poll != nil {
			_ = m.poll.Unregister(m.listenFD)
		}
		unix.Close(m.listenFD)
		m.listenFD = -1
	}
}

// ── 地址工具 ────────────────────────────────────────────────────────────────

func resolveSockaddr(address string) (unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("session: bad address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 0xFFFF {
		return nil, fmt.Errorf("session: bad port %q", portStr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// 允许主机名，走解析器。
		ips, lerr := net.LookupIP(host)
		if lerr != nil || len(ips) == 0 {
			return nil, fmt.Errorf("session: resolve %q: %w", host, err)
		}
		a, ok := netip.AddrFromSlice(ips[0].To4())
		if !ok {
			return nil, fmt.Errorf("session: no ipv4 address for %q", host)
		}
		addr = a
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("session: ipv4 required, got %q", host)
	}
	sa := &unix.SockaddrInet4{Port: port}
	sa.Addr = addr.As4()
	return sa, nil
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr).Unmap(), uint16(v.Port))
	}
	return netip.AddrPort{}
}
