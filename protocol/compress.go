package protocol

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// 服务器间大负载（角色快照等）在入队前做 zlib 压缩。
// 编解码器按池复用，避免每包一次分配。

var (
	zwPool = sync.Pool{New: func() any {
		zw, _ := zlib.NewWriterLevel(io.Discard, zlib.DefaultCompression)
		return zw
	}}
	zrPool = sync.Pool{New: func() any { return new(bytes.Reader) }}
)

// CompressBound 返回压缩 n 字节的最坏输出大小，用于预留发送缓冲。
func CompressBound(n int) int {
	return n + n/1000 + 12
}

// Compress 将 p 压缩为 zlib 流。
func Compress(p []byte) ([]byte, error) {
	zw := zwPool.Get().(*zlib.Writer)
	defer zwPool.Put(zw)

	var out bytes.Buffer
	out.Grow(CompressBound(len(p)) / 2)
	zw.Reset(&out)
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Decompress 解出 zlib 流的原始字节。
func Decompress(p []byte) ([]byte, error) {
	br := zrPool.Get().(*bytes.Reader)
	defer zrPool.Put(br)
	br.Reset(p)

	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
