package _type

import (
	"encoding/binary"
	"fmt"
)

// Uint128 承载 LCT 线上最宽的字段（CCI / TOI 最多 112 bit）
type Uint128 struct {
	High uint64
	Low  uint64
}

// 构造/转换
func FromUint64(v uint64) Uint128 { return Uint128{High: 0, Low: v} }

func (u Uint128) ToBytesBE() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], u.High)
	binary.BigEndian.PutUint64(buf[8:], u.Low)
	return buf
}

func FromBytesBE(b []byte) Uint128 {
	if len(b) != 16 {
		panic("FromBytesBE requires 16 bytes")
	}
	return Uint128{
		High: binary.BigEndian.Uint64(b[:8]),
		Low:  binary.BigEndian.Uint64(b[8:]),
	}
}

// Equal 判断是否相等
func (u Uint128) Equal(v Uint128) bool {
	return u.High == v.High && u.Low == v.Low
}

// Less 判断 u < v
func (u Uint128) Less(v Uint128) bool {
	if u.High != v.High {
		return u.High < v.High
	}
	return u.Low < v.Low
}

// IsZero 高低位都为 0
func (u Uint128) IsZero() bool {
	return u.High == 0 && u.Low == 0
}

// ToUint64 截断到 64bit
func (u Uint128) ToUint64() uint64 {
	return u.Low
}

// ToUint32 截断到 32bit（对象表按 u32 TSI/TOI 索引）
func (u Uint128) ToUint32() uint32 {
	return uint32(u.Low)
}

func (u Uint128) String() string { return fmt.Sprintf("%016x%016x", u.High, u.Low) }
