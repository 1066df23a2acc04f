package object

import (
	"encoding/binary"
	"errors"

	"Route_go/pkg/oti"
)

// PayloadID LCT 头之后、载荷之前的 FEC Payload ID
type PayloadID struct {
	// ROUTE：载荷在对象内的起始字节偏移
	StartOffset uint32
	// FLUTE：源块编号 / 编码符号编号
	Sbn uint32
	Esi uint32
}

// ParseRoutePayloadID ROUTE 的 payload id 是 4 字节 start_offset
func ParseRoutePayloadID(data []byte, off int) (PayloadID, int, error) {
	if off+4 > len(data) {
		return PayloadID{}, 0, errors.New("short ROUTE payload id")
	}
	return PayloadID{StartOffset: binary.BigEndian.Uint32(data[off : off+4])}, off + 4, nil
}

// ParseFlutePayloadID Compact No-Code: SBN(16) | ESI(16)
func ParseFlutePayloadID(data []byte, off int) (PayloadID, int, error) {
	if off+4 > len(data) {
		return PayloadID{}, 0, errors.New("short FLUTE payload id")
	}
	x := binary.BigEndian.Uint32(data[off : off+4])
	return PayloadID{Sbn: x >> 16, Esi: x & 0xFFFF}, off + 4, nil
}

// PushRoutePayloadID / PushFlutePayloadID 测试与工具侧的构建半边
func PushRoutePayloadID(buf *[]byte, startOffset uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], startOffset)
	*buf = append(*buf, b[:]...)
}

func PushFlutePayloadID(buf *[]byte, sbn, esi uint16) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(sbn)<<16|uint32(esi))
	*buf = append(*buf, b[:]...)
}

// ByteOffset 把 (SBN, ESI) 映射为对象内的字节偏移。
// 块划分遵循 RFC 5052 §9.1；对称划分下 aLarge == aSmall。
func (p PayloadID) ByteOffset(o *oti.Oti, transferLength uint64) (uint64, error) {
	if o == nil || o.EncodingSymbolLength == 0 || o.MaximumSourceBlockLength == 0 {
		return 0, errors.New("missing OTI for FLUTE payload id")
	}
	aLarge, aSmall, nbALarge, nbBlocks := BlockPartitioning(
		uint64(o.MaximumSourceBlockLength), transferLength, uint64(o.EncodingSymbolLength))
	if nbBlocks == 0 || uint64(p.Sbn) >= nbBlocks {
		return 0, errors.New("SBN out of range")
	}

	e := uint64(o.EncodingSymbolLength)
	var base uint64
	if uint64(p.Sbn) <= nbALarge {
		base = uint64(p.Sbn) * aLarge * e
	} else {
		base = nbALarge*aLarge*e + (uint64(p.Sbn)-nbALarge)*aSmall*e
	}
	return base + uint64(p.Esi)*e, nil
}
