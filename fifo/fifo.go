package fifo

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrOverflow 表示缓冲增长超过硬上限（视为该连接的分配失败）。
	ErrOverflow = errors.New("fifo: buffer limit exceeded")

	// ErrUnderflow 表示读取/跳过超出可用字节（协议违规）。
	ErrUnderflow = errors.New("fifo: access past available data")
)

// Buffer 是单连接的字节队列：写游标 size、读游标 pos。
// 不变量：0 <= pos <= size <= cap。仅在 reactor 单线程中访问，无锁。
type Buffer struct {
	data []byte
	pos  int
	size int
	max  int
}

// New 返回初始容量 initial、硬上限 max 的缓冲。
func New(initial, max int) *Buffer {
	if initial < 0 {
		initial = 0
	}
	if max > 0 && initial > max {
		initial = max
	}
	return &Buffer{data: make([]byte, initial), max: max}
}

func (b *Buffer) Cap() int { return len(b.data) }

// Size 返回写游标位置（已提交字节总量，含已消费部分）。
func (b *Buffer) Size() int { return b.size }

// Pos 返回读游标位置。
func (b *Buffer) Pos() int { return b.pos }

// Available 返回未消费字节数（size - pos）。
func (b *Buffer) Available() int { return b.size - b.pos }

// Reserve 保证写区域还能容纳 n 字节；超过硬上限返回 ErrOverflow。
// 按 1KB 粒度增长，避免逐字节 realloc。
func (b *Buffer) Reserve(n int) error {
	if n < 0 {
		return ErrOverflow
	}
	need := b.size + n
	if b.max > 0 && need > b.max {
		return ErrOverflow
	}
	if need > len(b.data) {
		grow := need + 1024
		if b.max > 0 && grow > b.max {
			grow = b.max
		}
		nd := make([]byte, grow)
		copy(nd, b.data[:b.size])
		b.data = nd
	}
	return nil
}

// Head 返回从写游标起 n 字节的可写区域；调用方写入后需 Commit。
func (b *Buffer) Head(n int) ([]byte, error) {
	if err := b.Reserve(n); err != nil {
		return nil, err
	}
	return b.data[b.size : b.size+n], nil
}

// Commit 将写游标前移 n 字节。写入区域必须先经 Reserve/Head 保证。
func (b *Buffer) Commit(n int) error {
	if n < 0 || b.size+n > len(b.data) {
		return ErrOverflow
	}
	b.size += n
	return nil
}

// Write 追加 p 并立即提交。
func (b *Buffer) Write(p []byte) error {
	dst, err := b.Head(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	b.size += len(p)
	return nil
}

// Peek 返回读游标偏移 off 起 n 字节的只读视图，不前移游标。
func (b *Buffer) Peek(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > b.Available() {
		return nil, ErrUnderflow
	}
	return b.data[b.pos+off : b.pos+off+n], nil
}

func (b *Buffer) PeekU8(off int) (byte, error) {
	p, err := b.Peek(off, 1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) PeekU16(off int) (uint16, error) {
	p, err := b.Peek(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) PeekU32(off int) (uint32, error) {
	p, err := b.Peek(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// Skip 将读游标前移 n 字节。越界时返回 ErrUnderflow 且游标不变。
// 全部消费后自动压缩；消费过半时机会性压缩，防止慢消费者下无界增长。
func (b *Buffer) Skip(n int) error {
	if n < 0 || n > b.Available() {
		return ErrUnderflow
	}
	b.pos += n
	if b.pos == b.size {
		b.pos = 0
		b.size = 0
	} else if b.pos > b.size/2 {
		b.Compact()
	}
	return nil
}

// Compact 将未消费字节搬到缓冲起始，读游标归零。
func (b *Buffer) Compact() {
	if b.pos == 0 {
		return
	}
	if b.pos == b.size {
		b.pos = 0
		b.size = 0
		return
	}
	copy(b.data, b.data[b.pos:b.size])
	b.size -= b.pos
	b.pos = 0
}

// Reset 清空缓冲（保留底层存储）。
func (b *Buffer) Reset() {
	b.pos = 0
	b.size = 0
}

// Pending 返回全部未消费字节的视图（发送路径用）。
func (b *Buffer) Pending() []byte {
	return b.data[b.pos:b.size]
}
