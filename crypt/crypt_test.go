package crypt

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"testing"
)

func TestKeySelectors(t *testing.T) {
	cases := []struct {
		opcode byte
		client bool
		server bool
	}{
		{2, false, false},
		{3, false, false},
		{4, false, true},
		{10, true, false},
		{64, true, false},
		{99, true, true},
		{113, false, true},
	}
	for _, c := range cases {
		if got := IsKeyClient(c.opcode); got != c.client {
			t.Errorf("IsKeyClient(%d) = %v, want %v", c.opcode, got, c.client)
		}
		if got := IsKeyServer(c.opcode); got != c.server {
			t.Errorf("IsKeyServer(%d) = %v, want %v", c.opcode, got, c.server)
		}
	}
}

func TestHashValues(t *testing.T) {
	var out [33]byte
	if !HashValues([]byte("hello"), out[:]) {
		t.Fatal("HashValues failed")
	}
	if string(out[:32]) != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("digest = %s", out[:32])
	}
	if out[32] != 0 {
		t.Error("missing NUL terminator")
	}
}

func TestPopulateTableChaining(t *testing.T) {
	table := PopulateTable([]byte("testkey"))
	if len(table) != TableSize {
		t.Fatalf("table len = %d", len(table))
	}

	// 前 32 字节 = 名字二次散列的十六进制串。
	first := md5.Sum([]byte("testkey"))
	second := md5.Sum([]byte(hex.EncodeToString(first[:])))
	want := hex.EncodeToString(second[:])
	if string(table[:32]) != want {
		t.Errorf("table[:32] = %s, want %s", table[:32], want)
	}

	// 续接块 = 已生成前缀的散列。
	next := md5.Sum(table[:32])
	if string(table[32:64]) != hex.EncodeToString(next[:]) {
		t.Error("table[32:64] chain mismatch")
	}

	if table[1024] != 0 {
		t.Error("table not NUL-terminated at 1024")
	}

	for i, b := range table[:1024] {
		if !(b >= '0' && b <= '9' || b >= 'a' && b <= 'f') {
			t.Fatalf("non-hex byte %02x at %d", b, i)
		}
	}

	if !bytes.Equal(table, PopulateTable([]byte("testkey"))) {
		t.Error("table not deterministic")
	}
}

func TestSetPacketIndexes(t *testing.T) {
	// psize=2 的最小包 + 3 字节预留尾部。
	packet := []byte{0xAA, 0x00, 0x02, 0x01, 0x05, 0, 0, 0}
	n := SetPacketIndexes(packet)
	if n != 8 {
		t.Fatalf("returned %d, want 8", n)
	}
	if packet[1] != 0x00 || packet[2] != 0x05 {
		t.Errorf("length field = %02x%02x, want 0005", packet[1], packet[2])
	}
	// 固定索引常量：k1=0x03, k2=0x6013。
	if packet[5] != 0x13 || packet[6] != 0x03 || packet[7] != 0x60 {
		t.Errorf("trailer = % 02x, want 13 03 60", packet[5:8])
	}
}

func TestDeriveDynamicKeyZeroTable(t *testing.T) {
	table := make([]byte, TableSize)
	packet := []byte{0xAA, 0x00, 0x04, 0x01, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	key := DeriveDynamicKey(packet, table, false)
	for i, b := range key {
		if b != 0 {
			t.Fatalf("key[%d] = %02x, want 0", i, b)
		}
	}
}

func TestDeriveDynamicKeyIndexOrder(t *testing.T) {
	// table[j] = byte(j)：key 字节直接暴露索引序列，钉死混合顺序。
	table := make([]byte, TableSize)
	for j := range table {
		table[j] = byte(j)
	}
	packet := []byte{0xAA, 0x00, 0x04, 0x01, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}

	server := DeriveDynamicKey(packet, table, false)
	want := [KeySize]byte{36, 40, 50, 66, 88, 116, 150, 190, 236, 0}
	if server != want {
		t.Errorf("server key = %v, want %v", server, want)
	}

	client := DeriveDynamicKey(packet, table, true)
	if client == server {
		t.Error("client and server directions derived the same key")
	}
}

func TestLegacyVectorRoundTrip(t *testing.T) {
	// 钉死的旧实现向量：全零身份表 + 长度字段 4 的包。
	// 负载区为空（len-5 <= 0），密文必须与原文逐字节一致。
	table := make([]byte, TableSize)
	original := []byte{0xAA, 0x00, 0x04, 0x01, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	packet := append([]byte(nil), original...)

	encKey := DeriveDynamicKey(packet, table, false)
	DynamicTransform(packet, encKey[:])
	if !bytes.Equal(packet, original) {
		t.Errorf("ciphertext = % 02x, want unchanged % 02x", packet, original)
	}

	decKey := DeriveDynamicKey(packet, table, true)
	DynamicTransform(packet, decKey[:])
	if !bytes.Equal(packet, original) {
		t.Errorf("decrypted = % 02x, want % 02x", packet, original)
	}
}

func TestDynamicTransformRoundTrip(t *testing.T) {
	table := PopulateTable([]byte("roundtrip"))

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46}
	packet := make([]byte, 5+len(payload)+3)
	packet[0] = 0xAA
	lenField := len(payload) + 2
	packet[1] = byte(lenField >> 8)
	packet[2] = byte(lenField)
	packet[3] = 99 // 动态方案操作码
	packet[4] = 7
	copy(packet[5:], payload)
	SetPacketIndexes(packet)

	original := append([]byte(nil), packet...)
	key := DeriveDynamicKey(packet, table, false)
	DynamicTransform(packet, key[:])
	if bytes.Equal(packet[5:5+len(payload)], payload) {
		t.Fatal("payload unchanged after transform")
	}
	if packet[0] != 0xAA || packet[3] != 99 || packet[4] != 7 {
		t.Error("header bytes must not be transformed")
	}

	// 同一 key 再变换一次应还原（纯异或）。
	DynamicTransform(packet, key[:])
	if !bytes.Equal(packet, original) {
		t.Errorf("round trip mismatch:\n got % 02x\nwant % 02x", packet, original)
	}
}

func TestStaticTransformMatchesDynamic(t *testing.T) {
	key := []byte("testkey\x00\x00\x00")
	a := []byte{0xAA, 0x00, 0x09, 0x02, 0x00, 1, 2, 3, 4, 5, 6, 7}
	b := append([]byte(nil), a...)
	StaticTransform(a, key)
	DynamicTransform(b, key)
	if !bytes.Equal(a, b) {
		t.Error("static and dynamic transforms diverge")
	}
}
