package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func SetNonblock(fd int, nonblock bool) error {
	return unix.SetNonblock(fd, nonblock)
}

func SetReusePort(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, v)
}

func SetReuseAddr(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v)
}

func SetNoDelay(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

func SetRecvBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n)
}
func SetSendBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n)
}

// SetLingerGraceful 关闭 SO_LINGER，close 时交给内核把残余数据发完。
func SetLingerGraceful(fd int) error {
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER,
		&unix.Linger{Onoff: 0, Linger: 0})
}

func SetKeepAlive(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
}

// ApplyConnOpts 给已建立的连接 fd 打上协议核心需要的套接字选项。
// 只有非阻塞是硬性要求；NODELAY/LINGER 尽力而为
// （unix 域套接字等不支持的 fd 上静默跳过）。
func ApplyConnOpts(fd int) error {
	if err := SetNonblock(fd, true); err != nil {
		return err
	}
	_ = SetNoDelay(fd, true)
	_ = SetLingerGraceful(fd)
	return nil
}

// GetFD 从 net.Listener 或 net.Conn 中抽取 fd。
func GetFDFromConn(c net.Conn) (int, error) {
	// 依赖 net.TCPConn 的 SyscallConn
	if sc, ok := c.(interface{ SyscallConn() syscall.RawConn }); ok {
		var fd int
		var err error
		e := sc.SyscallConn()
		e.Control(func(rawfd uintptr) {
			fd = int(rawfd)
		})
		return fd, err
	}
	return -1, syscall.EINVAL
}
