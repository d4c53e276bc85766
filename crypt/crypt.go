package crypt

import (
	"crypto/md5"
	"encoding/hex"
)

// 静态 key1 方案的操作码表；不在表内的操作码走动态方案。
// 两张表决定两个方向各自的加密选择，需与线上客户端完全一致。
var (
	clKey1Packets = []byte{2, 3, 4, 11, 21, 38, 58, 66, 67, 75, 80, 87, 98, 113, 115, 123}
	svKey1Packets = []byte{2, 3, 10, 64, 68, 94, 96, 98, 102, 111}
)

// TableSize 是身份表的字节数：1024 可寻址字节 + 末尾 NUL。
const TableSize = 0x401

// KeySize 是会话 key 的字节数：9 有效字节 + 末尾 NUL。
const KeySize = 10

func contains(list []byte, op byte) bool {
	for _, v := range list {
		if v == op {
			return true
		}
	}
	return false
}

// IsKeyClient 报告客户端方向的操作码是否使用动态 key。
// 表内操作码使用静态 key，返回 false。
func IsKeyClient(opcode byte) bool { return !contains(clKey1Packets, opcode) }

// IsKeyServer 报告服务端方向的操作码是否使用动态 key。
func IsKeyServer(opcode byte) bool { return !contains(svKey1Packets, opcode) }

// HashValues 将 input 的 MD5 十六进制串写入 out 前 33 字节（32 字符 + NUL）。
func HashValues(input []byte, out []byte) bool {
	if len(out) < 33 {
		return false
	}
	sum := md5.Sum(input)
	hex.Encode(out[:32], sum[:])
	out[32] = 0
	return true
}

// HashString 返回 name 的 MD5 十六进制串（口令散列等处复用）。
func HashString(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

// PopulateTable 由名字生成 1025 字节的身份表：
// 名字连续散列两次得到前 32 字节，此后 31 轮对已生成前缀再散列续接，
// 共 1024 字节（DeriveDynamicKey 经 &0x3FF 只会访问 0..1023），末尾补 NUL。
func PopulateTable(name []byte) []byte {
	table := make([]byte, TableSize)
	var hash [64]byte
	HashValues(name, hash[:])
	h1 := make([]byte, 32)
	copy(h1, hash[:32])
	HashValues(h1, hash[:])
	copy(table[:32], hash[:32])
	cur := 32

	for i := 0; i < 31; i++ {
		prev := make([]byte, cur)
		copy(prev, table[:cur])
		HashValues(prev, hash[:])
		copy(table[cur:cur+32], hash[:32])
		cur += 32
	}
	table[cur] = 0
	return table
}

// SetPacketIndexes 在包尾追加 3 个索引字节并更新长度字段，返回新的 psize+3。
// packet 布局：[0]=0xAA [1..2]=大端长度 [3]=操作码 [4]=递增计数 [5..]=负载。
// 索引常量为固定值（与非随机索引构建一致）。
func SetPacketIndexes(packet []byte) int {
	k1 := byte(0x1337&(0x7FFF%0x9B+0x64)) ^ 0x21
	k2 := uint16(0x1337&0x7FFF+0x100) ^ 0x7424

	psize := int(packet[1])<<8 | int(packet[2])
	psize += 3

	packet[psize] = byte(k2)
	packet[psize+1] = k1
	packet[psize+2] = byte(k2 >> 8)
	packet[1] = byte(psize >> 8)
	packet[2] = byte(psize)

	return psize + 3
}

// DeriveDynamicKey 从包尾索引与身份表混合出 10 字节会话 key。
// fromClient 选择两组方向常量之一；key 依赖当前包字节，逐包不同。
// 字节混合顺序必须与线上客户端保持一致，任何偏差都会破坏互通。
func DeriveDynamicKey(packet, table []byte, fromClient bool) [KeySize]byte {
	psize := int(packet[1])<<8 | int(packet[2])
	k1 := uint32(packet[psize+1])
	k2 := uint32(packet[psize+2])<<8 | uint32(packet[psize])

	if fromClient {
		k1 ^= 0x25
		k2 ^= 0x2361
	} else {
		k1 ^= 0x21
		k2 ^= 0x7424
	}

	k1 *= k1

	var key [KeySize]byte
	for i := uint32(0); i < 9; i++ {
		key[i] = table[(k1*i+k2)&0x3FF]
		k1 += 3
	}
	key[9] = 0
	return key
}

// DynamicTransform 用 9 字节 key 原地异或包负载（加解密同一过程）。
// 负载为 buf[5..5+len-5]，len 取自大端长度字段；分组计数每 9 字节进位，
// 与递增计数相等的分组字节跳过一次异或。
func DynamicTransform(buf, key []byte) {
	if len(buf) < 5 {
		return
	}
	n := int(buf[1])<<8 | int(buf[2])
	packetLen := n - 5
	if packetLen < 0 {
		packetLen = 0
	}
	packetInc := buf[4]

	if packetLen > 65535 || len(buf) < 5+packetLen {
		return
	}

	data := buf[5 : 5+packetLen]
	var group, groupCount uint32

	for i := 0; i < packetLen; i++ {
		data[i] ^= key[i%9]
		keyVal := byte(group % 256)
		if keyVal != packetInc {
			data[i] ^= keyVal
		}
		data[i] ^= packetInc

		groupCount++
		if groupCount == 9 {
			group++
			groupCount = 0
		}
	}
}

// StaticTransform 用进程级静态 key 原地变换，流程与动态方案相同。
func StaticTransform(buf, xorKey []byte) {
	DynamicTransform(buf, xorKey)
}
