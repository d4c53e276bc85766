package fifo

import (
	"bytes"
	"testing"
)

func TestWritePeekSkip(t *testing.T) {
	b := New(16, 0)
	if err := b.Write([]byte{0x34, 0x12, 0x78, 0x56, 0x34, 0x12, 0xFF}); err != nil {
		t.Fatal(err)
	}
	if got := b.Available(); got != 7 {
		t.Fatalf("Available = %d, want 7", got)
	}
	if v, _ := b.PeekU16(0); v != 0x1234 {
		t.Errorf("PeekU16 = %04x, want 1234", v)
	}
	if v, _ := b.PeekU32(2); v != 0x12345678 {
		t.Errorf("PeekU32 = %08x, want 12345678", v)
	}
	if err := b.Skip(2); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.PeekU8(0); v != 0x78 {
		t.Errorf("PeekU8 after skip = %02x, want 78", v)
	}
}

func TestSkipUnderflowLeavesCursor(t *testing.T) {
	b := New(16, 0)
	_ = b.Write([]byte{1, 2, 3})
	_ = b.Skip(1)
	pos, size := b.Pos(), b.Size()

	if err := b.Skip(10); err != ErrUnderflow {
		t.Fatalf("Skip(10) err = %v, want ErrUnderflow", err)
	}
	if b.Pos() != pos || b.Size() != size {
		t.Errorf("cursor moved on failed skip: pos %d->%d size %d->%d", pos, b.Pos(), size, b.Size())
	}
}

func TestSkipFullDrainCompacts(t *testing.T) {
	b := New(16, 0)
	_ = b.Write([]byte{1, 2, 3, 4})
	if err := b.Skip(4); err != nil {
		t.Fatal(err)
	}
	if b.Pos() != 0 || b.Size() != 0 {
		t.Errorf("not compacted after full drain: pos=%d size=%d", b.Pos(), b.Size())
	}
}

func TestCompactMovesRemaining(t *testing.T) {
	b := New(16, 0)
	_ = b.Write([]byte{1, 2, 3, 4, 5, 6})
	_ = b.Skip(2)
	b.Compact()
	if b.Pos() != 0 || b.Available() != 4 {
		t.Fatalf("compact: pos=%d avail=%d", b.Pos(), b.Available())
	}
	if got, _ := b.Peek(0, 4); !bytes.Equal(got, []byte{3, 4, 5, 6}) {
		t.Errorf("compact kept wrong bytes: %v", got)
	}
}

func TestReserveOverLimit(t *testing.T) {
	b := New(8, 32)
	if err := b.Reserve(16); err != nil {
		t.Fatalf("Reserve(16) within limit: %v", err)
	}
	if err := b.Reserve(64); err != ErrOverflow {
		t.Fatalf("Reserve(64) err = %v, want ErrOverflow", err)
	}
}

func TestHeadCommit(t *testing.T) {
	b := New(4, 0)
	dst, err := b.Head(10)
	if err != nil {
		t.Fatal(err)
	}
	copy(dst, "0123456789")
	if err := b.Commit(10); err != nil {
		t.Fatal(err)
	}
	if got, _ := b.Peek(0, 10); string(got) != "0123456789" {
		t.Errorf("committed bytes = %q", got)
	}
}

func TestOpportunisticCompactBoundsGrowth(t *testing.T) {
	b := New(64, 256)
	chunk := make([]byte, 32)
	// 写-读交替推进；机会性压缩应保持在上限之内。
	for i := 0; i < 100; i++ {
		if err := b.Write(chunk); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if err := b.Skip(32); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}
	if b.Cap() > 256 {
		t.Errorf("cap grew past limit: %d", b.Cap())
	}
}
