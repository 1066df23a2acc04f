package lct

import (
	t "Route_go/pkg/type"
	"encoding/binary"
	"errors"
	"fmt"
)

// Cenc 内容编码方式
type Cenc uint8

const (
	CencNull Cenc = iota
	CencZlib
	CencDeflate
	CencGzip
)

func (c Cenc) String() string {
	switch c {
	case CencNull:
		return "Null"
	case CencZlib:
		return "Zlib"
	case CencDeflate:
		return "Deflate"
	case CencGzip:
		return "Gzip"
	default:
		return "Unknown"
	}
}

// Ext 扩展头类型 (HET)
type Ext uint8

const (
	ExtNop   Ext = 0
	ExtAuth  Ext = 1
	ExtTime  Ext = 2
	ExtFti   Ext = 64
	ExtTol48 Ext = 67 // ROUTE TOL, HEL + 48bit 载荷
	ExtFdt   Ext = 192
	ExtCenc  Ext = 193
	ExtTol24 Ext = 194 // ROUTE TOL, 24bit 载荷
)

func (e Ext) String() string {
	switch e {
	case ExtNop:
		return "NOP"
	case ExtAuth:
		return "AUTH"
	case ExtTime:
		return "TIME"
	case ExtFti:
		return "FTI"
	case ExtTol48:
		return "TOL48"
	case ExtFdt:
		return "FDT"
	case ExtCenc:
		return "CENC"
	case ExtTol24:
		return "TOL24"
	default:
		return "Unknown"
	}
}

var ErrUnsupportedVersion = errors.New("unsupported LCT version")

// TOI_FDT FLUTE 中 TOI=0 保留给 FDT
var TOI_FDT = t.Uint128{}

// Header 单个数据包的 LCT 头
type Header struct {
	Len             uint32    // 头部长度(字节)，含扩展头
	Cci             t.Uint128 // 拥塞控制信息
	Tsi             uint64    // 传输会话标识符
	Toi             t.Uint128 // 传输对象标识符
	Psi             uint8     // 协议相关指示位
	Cp              uint8     // codepoint
	CloseObject     bool      // B 位
	CloseSession    bool      // A 位
	HeaderExtOffset uint32    // 扩展头起始偏移
}

// FtiInfo EXT_FTI 携带的传输参数
type FtiInfo struct {
	TransferLength           uint64
	EncodingSymbolLength     uint16
	MaximumSourceBlockLength uint32
	MaxNumberOfSymbols       uint32
}

// FdtInfo EXT_FDT 携带的 FLUTE 信令参数
type FdtInfo struct {
	Version       uint32
	FdtInstanceID uint32
}

// HeaderExt 闭合扩展头变体：Kind 决定哪个字段有效。
// 未知 HET 只保留 Kind 与 Raw，按声明长度跳过，永不致命。
type HeaderExt struct {
	Kind           Ext
	Fti            *FtiInfo
	Fdt            *FdtInfo
	Cenc           *Cenc
	TransferLength *uint64 // TOL24/TOL48 归一化到 64bit
	SCT            *uint64 // EXT_TIME 的 NTP 时间戳
	Raw            []byte  // NOP/AUTH/未知类型的原始字节
}

// nbBytes128 计算 u128 字段编码需要的最小字节数（2 字节对齐）
func nbBytes128(v t.Uint128, min uint32) uint32 {
	if v.High&0xFFFF000000000000 != 0 {
		return 16
	}
	if v.High&0xFFFF00000000 != 0 {
		return 14
	}
	if v.High&0xFFFF != 0 {
		return 12
	}
	return nbBytes64(v.Low, min)
}

func nbBytes64(n uint64, min uint32) uint32 {
	switch {
	case n&0xFFFF000000000000 != 0:
		return 8
	case n&0xFFFF00000000 != 0:
		return 6
	case n&0xFFFF0000 != 0:
		return 4
	case n&0xFFFF != 0:
		return 2
	}
	return min
}

// PushHeader 构建 LCT 头并追加到 data
func PushHeader(
	data *[]byte,
	psi uint8,
	cci t.Uint128,
	tsi uint64,
	toi t.Uint128,
	codepoint uint8,
	closeObject bool,
	closeSession bool,
) {
	cciSize := nbBytes128(cci, 0)
	tsiSize := nbBytes64(tsi, 2)
	toiSize := nbBytes128(toi, 2)

	hTsi := (tsiSize & 2) >> 1 // TSI 是否带半字
	hToi := (toiSize & 2) >> 1 // TOI 是否带半字
	h := hTsi | hToi

	var b, a uint32
	if closeObject {
		b = 1
	}
	if closeSession {
		a = 1
	}
	o := (toiSize >> 2) & 0x3
	s := (tsiSize >> 2) & 1
	var c uint32
	switch {
	case cciSize <= 4:
		c = 0
	case cciSize <= 8:
		c = 1
	case cciSize <= 12:
		c = 2
	default:
		c = 3
	}

	// 头长以 32bit 字为单位
	hdrLen := 2 + o + s + h + c
	v := uint32(1)

	word := uint32(codepoint) |
		(hdrLen << 8) |
		(b << 16) |
		(a << 17) |
		(h << 20) |
		(o << 21) |
		(s << 23) |
		(uint32(psi) << 24) |
		(c << 26) |
		(v << 28)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], word)
	*data = append(*data, buf[:]...)

	// CCI
	cciNet := cci.ToBytesBE()
	*data = append(*data, cciNet[len(cciNet)-int((c+1)<<2):]...)

	// TSI
	var tsiBuf [8]byte
	binary.BigEndian.PutUint64(tsiBuf[:], tsi)
	*data = append(*data, tsiBuf[len(tsiBuf)-int((s<<2)+(h<<1)):]...)

	// TOI
	toiNet := toi.ToBytesBE()
	*data = append(*data, toiNet[len(toiNet)-int((o<<2)+(h<<1)):]...)
}

// IncHdrLen 扩展头追加后修正头长字段（单位 32bit 字）
func IncHdrLen(data []byte, val uint8) {
	data[2] += val
}

// ParseHeader 解析 LCT 头。失败即丢包，不做部分信任。
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < 4 {
		return nil, errors.New("fail to read lct header size")
	}

	lenHdr := int(data[2]) << 2
	if lenHdr > len(data) {
		return nil, fmt.Errorf("lct header size is %d whereas pkt size is %d", lenHdr, len(data))
	}

	cp := data[3]
	flags1 := data[0]
	flags2 := data[1]

	s := (flags2 >> 7) & 0x1
	o := (flags2 >> 5) & 0x3
	h := (flags2 >> 4) & 0x1
	c := (flags1 >> 2) & 0x3
	psi := flags1 & 0x3
	a := (flags2 >> 1) & 0x1
	b := flags2 & 0x1
	version := flags1 >> 4

	if version != 1 && version != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	cciLen := (uint32(c) + 1) << 2
	tsiLen := (uint32(s) << 2) + (uint32(h) << 1)
	toiLen := (uint32(o) << 2) + (uint32(h) << 1)

	cciFrom := 4
	cciTo := cciFrom + int(cciLen)
	tsiTo := cciTo + int(tsiLen)
	toiTo := tsiTo + int(toiLen)

	if toiTo > len(data) || cciLen > 16 || tsiLen > 8 || toiLen > 16 {
		return nil, fmt.Errorf("toi ends at offset %d whereas pkt size is %d", toiTo, len(data))
	}
	if toiTo > lenHdr {
		return nil, errors.New("EXT offset outside LCT header")
	}

	// 变长字段靠右对齐到定长缓冲
	var cciBuf [16]byte
	var tsiBuf [8]byte
	var toiBuf [16]byte
	copy(cciBuf[16-cciLen:], data[cciFrom:cciTo])
	copy(tsiBuf[8-tsiLen:], data[cciTo:tsiTo])
	copy(toiBuf[16-toiLen:], data[tsiTo:toiTo])

	return &Header{
		Len:             uint32(lenHdr),
		Cci:             t.FromBytesBE(cciBuf[:]),
		Tsi:             binary.BigEndian.Uint64(tsiBuf[:]),
		Toi:             t.FromBytesBE(toiBuf[:]),
		Psi:             psi,
		Cp:              cp,
		CloseObject:     b != 0,
		CloseSession:    a != 0,
		HeaderExtOffset: uint32(toiTo),
	}, nil
}

// ParseExtensions 遍历全部扩展头并返回类型化列表。
// 任一扩展声明的长度越过头尾都按坏包处理。
func ParseExtensions(data []byte, hdr *Header) ([]HeaderExt, error) {
	if hdr.HeaderExtOffset > hdr.Len {
		return nil, fmt.Errorf("invalid header_ext_offset=%d len=%d", hdr.HeaderExtOffset, hdr.Len)
	}

	var exts []HeaderExt
	rem := data[hdr.HeaderExtOffset:hdr.Len]
	for len(rem) >= 4 {
		het := rem[0]

		var hel int
		if het >= 128 {
			hel = 4
		} else {
			hel = int(rem[1]) << 2
		}
		if hel == 0 || hel > len(rem) {
			return nil, fmt.Errorf("bad LCT EXT size %d/%d het=%d", hel, len(rem), het)
		}

		ext, err := parseExt(Ext(het), rem[:hel])
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
		rem = rem[hel:]
	}
	return exts, nil
}

func parseExt(kind Ext, raw []byte) (HeaderExt, error) {
	ext := HeaderExt{Kind: kind}
	switch kind {
	case ExtFti:
		fti, err := parseFti(raw)
		if err != nil {
			return ext, err
		}
		ext.Fti = fti
	case ExtFdt:
		if len(raw) != 4 {
			return ext, fmt.Errorf("wrong FDT ext len %d", len(raw))
		}
		val := binary.BigEndian.Uint32(raw)
		ext.Fdt = &FdtInfo{
			Version:       (val >> 20) & 0xF,
			FdtInstanceID: val & 0xFFFFF,
		}
	case ExtCenc:
		if len(raw) != 4 {
			return ext, errors.New("wrong CENC ext len")
		}
		c := Cenc(raw[1])
		if c > CencGzip {
			return ext, fmt.Errorf("unsupported Cenc=%d", raw[1])
		}
		ext.Cenc = &c
	case ExtTol24:
		// HET(8) + 24bit 对象总长
		if len(raw) != 4 {
			return ext, errors.New("wrong TOL24 ext len")
		}
		tl := uint64(raw[1])<<16 | uint64(raw[2])<<8 | uint64(raw[3])
		ext.TransferLength = &tl
	case ExtTol48:
		// HET(8) + HEL(8) + 48bit 对象总长
		if len(raw) != 8 {
			return ext, errors.New("wrong TOL48 ext len")
		}
		tl := binary.BigEndian.Uint64(raw) & 0xFFFFFFFFFFFF
		ext.TransferLength = &tl
	case ExtTime:
		sct, err := parseSCT(raw)
		if err != nil {
			return ext, err
		}
		ext.SCT = sct
	default:
		// NOP / AUTH / 未知：按长度跳过
		ext.Raw = raw
	}
	return ext, nil
}

// parseFti 解析 EXT_FTI。12 字节为 ROUTE/RS28 布局，其余长度只取 48bit 总长。
func parseFti(raw []byte) (*FtiInfo, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("wrong FTI extension size: %d", len(raw))
	}
	x := binary.BigEndian.Uint64(raw[0:8])
	fti := &FtiInfo{TransferLength: x & 0xFFFFFFFFFFFF}

	if len(raw) >= 12 {
		/*
			|   HET = 64    |    HEL        |     Transfer Length (48)    ...
			|   Encoding Symbol Length (E)  | MaxBlkLen (B) |     max_n     |
		*/
		fti.EncodingSymbolLength = binary.BigEndian.Uint16(raw[8:10])
		fti.MaximumSourceBlockLength = uint32(raw[10])
		fti.MaxNumberOfSymbols = uint32(raw[11])
	}
	return fti, nil
}

func parseSCT(raw []byte) (*uint64, error) {
	if len(raw) < 4 {
		return nil, errors.New("sct too short")
	}
	use := raw[2]
	sctHi := (use >> 7) & 1
	sctLo := (use >> 6) & 1
	ert := (use >> 5) & 1
	slc := (use >> 4) & 1

	expected := int((sctHi + sctLo + ert + slc + 1) * 4)
	if len(raw) != expected {
		return nil, fmt.Errorf("wrong sct length: expect=%d, got=%d", expected, len(raw))
	}
	if sctHi == 0 {
		return nil, nil
	}

	sec := binary.BigEndian.Uint32(raw[4:8])
	fra := uint32(0)
	if sctLo == 1 && len(raw) >= 12 {
		fra = binary.BigEndian.Uint32(raw[8:12])
	}
	ntp := uint64(sec)<<32 | uint64(fra)
	return &ntp, nil
}

// 扩展头构建（测试与工具侧使用）

// PushFdt 追加 EXT_FDT
func PushFdt(buf *[]byte, version uint8, fdtID uint32) {
	ext := (uint32(ExtFdt) << 24) | (uint32(version) << 20) | (fdtID & 0xFFFFF)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ext)
	*buf = append(*buf, b[:]...)
	IncHdrLen(*buf, 1)
}

// PushCenc 追加 EXT_CENC
func PushCenc(buf *[]byte, cenc Cenc) {
	ext := (uint32(ExtCenc) << 24) | (uint32(cenc) << 16)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ext)
	*buf = append(*buf, b[:]...)
	IncHdrLen(*buf, 1)
}

// PushFti 追加 12 字节 EXT_FTI (ROUTE/RS28 布局)
func PushFti(buf *[]byte, transferLength uint64, symbolLength uint16, maxBlkLen uint8, maxN uint8) {
	ext := (uint64(ExtFti) << 56) | (uint64(3) << 48) | (transferLength & 0xFFFFFFFFFFFF)
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], ext)
	*buf = append(*buf, b8[:]...)

	eBn := (uint32(symbolLength) << 16) | (uint32(maxBlkLen) << 8) | uint32(maxN)
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], eBn)
	*buf = append(*buf, b4[:]...)
	IncHdrLen(*buf, 3)
}

// PushTol24 追加 24bit TOL
func PushTol24(buf *[]byte, transferLength uint32) {
	ext := (uint32(ExtTol24) << 24) | (transferLength & 0xFFFFFF)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ext)
	*buf = append(*buf, b[:]...)
	IncHdrLen(*buf, 1)
}

// PushTol48 追加 48bit TOL
func PushTol48(buf *[]byte, transferLength uint64) {
	ext := (uint64(ExtTol48) << 56) | (uint64(2) << 48) | (transferLength & 0xFFFFFFFFFFFF)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], ext)
	*buf = append(*buf, b[:]...)
	IncHdrLen(*buf, 2)
}

// PushNop 追加一个 NOP 扩展（对齐/测试用）
func PushNop(buf *[]byte) {
	*buf = append(*buf, byte(ExtNop), 1, 0, 0)
	IncHdrLen(*buf, 1)
}

// PushSCT 追加 EXT_TIME，只携带 SCT 高低字
func PushSCT(buf *[]byte, ntp uint64) {
	header := (uint32(ExtTime) << 24) | (3 << 16) | (1 << 15) | (1 << 14)
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], header)
	*buf = append(*buf, b4[:]...)
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], ntp)
	*buf = append(*buf, b8[:]...)
	IncHdrLen(*buf, 3)
}
