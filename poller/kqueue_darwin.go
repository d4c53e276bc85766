//go:build darwin

package poller

import "golang.org/x/sys/unix"

type kqueuePoller struct {
	kq  int
	wfd int // 管道写端，唤醒用
	rfd int // 管道读端，挂在 kqueue 上
	raw []unix.Kevent_t
}

func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	var pipefd [2]int
	if err := unix.Pipe(pipefd[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	rfd, wfd := pipefd[0], pipefd[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	kev := unix.Kevent_t{Ident: uint64(rfd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, err
	}
	return &kqueuePoller{kq: kq, wfd: wfd, rfd: rfd}, nil
}

// 水平触发（不带 EV_CLEAR），与 epoll 侧语义一致。
func changes(fd FD, readable, writable bool) []unix.Kevent_t {
	out := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	if readable {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	}
	if writable {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	}
	return out
}

func apply(kq int, ch []unix.Kevent_t) error {
	// 删除未注册过滤器会报 ENOENT，逐条下发并忽略之。
	for _, kev := range ch {
		if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) Register(fd FD, readable, writable bool) error {
	return apply(p.kq, changes(fd, readable, writable))
}

func (p *kqueuePoller) Mod(fd FD, readable, writable bool) error {
	return apply(p.kq, changes(fd, readable, writable))
}

func (p *kqueuePoller) Unregister(fd FD) error {
	return apply(p.kq, changes(fd, false, false))
}

func (p *kqueuePoller) Wait(events []Event, timeoutMs int) (int, error) {
	// 内核事件缓冲常驻复用，Wait 每 tick 调用一次，不在热路径上分配。
	if len(p.raw) < len(events) {
		p.raw = make([]unix.Kevent_t, len(events))
	}
	raw := p.raw[:len(events)]
	ts := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
	n, err := unix.Kevent(p.kq, nil, raw, &ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	out := 0
	var buf [16]byte
	for i := 0; i < n; i++ {
		ev := raw[i]
		fd := int(ev.Ident)
		if fd == p.rfd {
			for {
				if _, rerr := unix.Read(p.rfd, buf[:]); rerr != nil {
					break
				}
			}
			continue
		}
		events[out] = Event{
			FD:       fd,
			Readable: ev.Filter == unix.EVFILT_READ,
			Writable: ev.Filter == unix.EVFILT_WRITE,
			Closed:   ev.Flags&unix.EV_EOF != 0,
		}
		out++
	}
	return out, nil
}

func (p *kqueuePoller) Wake() error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}
