package protocol

import "errors"

// 线缆格式：
//   [0]    0xAA 帧标记
//   [1..2] 长度字段（大端），计量标记与长度之外的全部字节
//   [3]    操作码
//   [4]    每连接递增计数（模 256 回绕）
//   [5..]  负载
// 长度字段覆盖操作码、计数、负载与加密索引尾部。

const (
	// Marker 是每个包的首字节。
	Marker = 0xAA

	// HeaderSize 是完整包头字节数（标记 + 长度 + 操作码 + 计数）。
	HeaderSize = 5

	// PrefixSize 是长度字段不计量的前缀（标记 + 长度）。
	PrefixSize = 3

	// TrailerSize 是加密索引尾部字节数。
	TrailerSize = 3

	// MaxBodyLen 是长度字段的上限。
	MaxBodyLen = 0xFFFF
)

var (
	ErrBadMarker   = errors.New("protocol: missing 0xAA marker")
	ErrShortHeader = errors.New("protocol: header truncated")
	ErrBodyTooLong = errors.New("protocol: body length out of range")
)

// Header 是解析后的包头。Length 为长度字段原值（bodyLen）。
type Header struct {
	Length int
	Opcode byte
	Inc    byte
}

// PutHeader 将 5 字节包头写入 dst。bodyLen 为长度字段值。
func PutHeader(dst []byte, bodyLen int, opcode, inc byte) error {
	if len(dst) < HeaderSize {
		return ErrShortHeader
	}
	if bodyLen < 0 || bodyLen > MaxBodyLen {
		return ErrBodyTooLong
	}
	dst[0] = Marker
	dst[1] = byte(bodyLen >> 8)
	dst[2] = byte(bodyLen)
	dst[3] = opcode
	dst[4] = inc
	return nil
}

// ParseHeader 校验标记并解析包头。
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if b[0] != Marker {
		return Header{}, ErrBadMarker
	}
	return Header{
		Length: int(b[1])<<8 | int(b[2]),
		Opcode: b[3],
		Inc:    b[4],
	}, nil
}

// Complete 报告 b 开头是否已累积一个完整包，并返回该包总字节数。
// 前缀不足 3 字节时返回 (0, false)；标记错误交由上层决定如何终止。
func Complete(b []byte) (total int, ok bool) {
	if len(b) < PrefixSize {
		return 0, false
	}
	total = PrefixSize + (int(b[1])<<8 | int(b[2]))
	return total, len(b) >= total
}
