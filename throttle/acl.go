package throttle

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// IP 访问控制表，沿用旧实现 access_ipmask 的文本格式与字节序：
// IPv4 按 a|b<<8|c<<16|d<<24 打包（小端）。

// AccessControl 是一条 IP+掩码 规则。mask=0 表示匹配一切。
type AccessControl struct {
	IP   uint32
	Mask uint32
}

// Order 决定 allow/deny 两张表的判定次序。
type Order int

const (
	// DenyAllow：命中 deny 即拒绝，否则放行。
	DenyAllow Order = iota
	// AllowDeny：命中 allow 即放行，否则拒绝。
	AllowDeny
	// MutualFailure：必须命中 allow 且未命中 deny。
	MutualFailure
)

// ParseIPMask 解析规则文本。接受四种形式：
//
//	"all"              匹配一切
//	"a.b.c.d"          精确主机
//	"a.b.c.d/bits"     CIDR 前缀
//	"a.b.c.d/e.f.g.h"  点分掩码
func ParseIPMask(s string) (AccessControl, error) {
	if s == "all" {
		return AccessControl{}, nil
	}

	addrPart, maskPart, hasMask := strings.Cut(s, "/")
	ip, err := parseIPv4(addrPart)
	if err != nil {
		return AccessControl{}, err
	}
	if !hasMask {
		return AccessControl{IP: ip, Mask: 0xFFFFFFFF}, nil
	}

	if strings.Contains(maskPart, ".") {
		mask, err := parseIPv4(maskPart)
		if err != nil {
			return AccessControl{}, err
		}
		return AccessControl{IP: ip, Mask: mask}, nil
	}

	bits, err := strconv.Atoi(maskPart)
	if err != nil || bits < 0 || bits > 32 {
		return AccessControl{}, fmt.Errorf("throttle: bad prefix length %q", maskPart)
	}
	return AccessControl{IP: ip, Mask: prefixToMask(bits)}, nil
}

// Matches 报告 ip（小端打包）是否落在规则内。
func (a AccessControl) Matches(ip uint32) bool {
	return a.Mask == 0 || ip&a.Mask == a.IP&a.Mask
}

// ACL 是一组 allow/deny 规则与判定次序。
type ACL struct {
	Order Order
	Allow []AccessControl
	Deny  []AccessControl
}

// ParseACL 解析逗号分隔的 allow/deny 规则串。空串得到空表。
func ParseACL(order Order, allow, deny string) (*ACL, error) {
	a := &ACL{Order: order}
	var err error
	if a.Allow, err = parseList(allow); err != nil {
		return nil, err
	}
	if a.Deny, err = parseList(deny); err != nil {
		return nil, err
	}
	return a, nil
}

func parseList(s string) ([]AccessControl, error) {
	if s == "" {
		return nil, nil
	}
	var out []AccessControl
	for _, part := range strings.Split(s, ",") {
		ac, err := ParseIPMask(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, nil
}

// Permits 按次序模式判定地址能否接入。非 IPv4 地址一律拒绝
// （旧协议只走 IPv4）。
func (l *ACL) Permits(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.Is4() {
		return false
	}
	ip := PackAddr(addr)

	inAllow := matchAny(l.Allow, ip)
	inDeny := matchAny(l.Deny, ip)

	switch l.Order {
	case DenyAllow:
		return !inDeny
	case AllowDeny:
		return inAllow
	default: // MutualFailure
		return inAllow && !inDeny
	}
}

func matchAny(rules []AccessControl, ip uint32) bool {
	for _, r := range rules {
		if r.Matches(ip) {
			return true
		}
	}
	return false
}

// PackAddr 将 IPv4 地址按旧字节序打包（a|b<<8|c<<16|d<<24）。
func PackAddr(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func parseIPv4(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("throttle: bad address %q", s)
	}
	var ip uint32
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return 0, fmt.Errorf("throttle: bad address %q", s)
		}
		ip |= uint32(v) << (8 * i)
	}
	return ip, nil
}

// 前缀长度转小端掩码：先构造大端掩码再字节翻转，
// 与旧实现在小端主机上的 ntohl 结果一致。
func prefixToMask(bits int) uint32 {
	if bits == 0 {
		return 0
	}
	be := uint32(0xFFFFFFFF)
	if bits < 32 {
		be <<= 32 - bits
	}
	return be>>24 | be>>8&0xFF00 | be<<8&0xFF0000 | be<<24
}
