package lct

import (
	"errors"
	"testing"

	t128 "Route_go/pkg/type"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf []byte
	PushHeader(&buf, 2, t128.Uint128{}, 5, t128.FromUint64(7), 9, true, false)

	hdr, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if hdr.Tsi != 5 {
		t.Errorf("expected tsi=5, got %d", hdr.Tsi)
	}
	if hdr.Toi.ToUint64() != 7 {
		t.Errorf("expected toi=7, got %v", hdr.Toi)
	}
	if hdr.Cp != 9 {
		t.Errorf("expected codepoint=9, got %d", hdr.Cp)
	}
	if hdr.Psi != 2 {
		t.Errorf("expected psi=2, got %d", hdr.Psi)
	}
	if !hdr.CloseObject || hdr.CloseSession {
		t.Errorf("expected B=1 A=0, got B=%v A=%v", hdr.CloseObject, hdr.CloseSession)
	}
	if int(hdr.Len) != len(buf) {
		t.Errorf("header length %d does not cover buffer %d", hdr.Len, len(buf))
	}
}

func TestHeaderWideFields(t *testing.T) {
	// TSI/TOI 超出 16bit 时头部自动扩宽
	var buf []byte
	PushHeader(&buf, 0, t128.FromUint64(0xAABBCCDD), 0x123456789A, t128.FromUint64(0xFFFFFFFF), 0, false, false)

	hdr, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if hdr.Tsi != 0x123456789A {
		t.Errorf("expected tsi=0x123456789A, got %x", hdr.Tsi)
	}
	if hdr.Toi.ToUint64() != 0xFFFFFFFF {
		t.Errorf("expected toi=0xFFFFFFFF, got %v", hdr.Toi)
	}
	if hdr.Cci.ToUint64() != 0xAABBCCDD {
		t.Errorf("expected cci=0xAABBCCDD, got %v", hdr.Cci)
	}
}

func TestExtensions(t *testing.T) {
	var buf []byte
	PushHeader(&buf, 0, t128.Uint128{}, 1, t128.FromUint64(2), 0, false, false)
	PushFdt(&buf, 1, 0x12345)
	PushCenc(&buf, CencGzip)
	PushFti(&buf, 150, 1424, 64, 80)
	PushTol48(&buf, 150)
	PushNop(&buf)

	hdr, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	exts, err := ParseExtensions(buf, hdr)
	if err != nil {
		t.Fatalf("ParseExtensions failed: %v", err)
	}
	if len(exts) != 5 {
		t.Fatalf("expected 5 extensions, got %d", len(exts))
	}

	if exts[0].Fdt == nil || exts[0].Fdt.Version != 1 || exts[0].Fdt.FdtInstanceID != 0x12345 {
		t.Errorf("bad FDT ext: %+v", exts[0].Fdt)
	}
	if exts[1].Cenc == nil || *exts[1].Cenc != CencGzip {
		t.Errorf("bad CENC ext: %+v", exts[1].Cenc)
	}
	fti := exts[2].Fti
	if fti == nil || fti.TransferLength != 150 || fti.EncodingSymbolLength != 1424 ||
		fti.MaximumSourceBlockLength != 64 || fti.MaxNumberOfSymbols != 80 {
		t.Errorf("bad FTI ext: %+v", fti)
	}
	if exts[3].TransferLength == nil || *exts[3].TransferLength != 150 {
		t.Errorf("bad TOL48 ext: %+v", exts[3].TransferLength)
	}
	if exts[4].Kind != ExtNop {
		t.Errorf("expected NOP, got %v", exts[4].Kind)
	}
}

func TestTol24(t *testing.T) {
	var buf []byte
	PushHeader(&buf, 0, t128.Uint128{}, 1, t128.FromUint64(2), 0, false, false)
	PushTol24(&buf, 0xABCDE)

	hdr, _ := ParseHeader(buf)
	exts, err := ParseExtensions(buf, hdr)
	if err != nil {
		t.Fatalf("ParseExtensions failed: %v", err)
	}
	if len(exts) != 1 || exts[0].TransferLength == nil || *exts[0].TransferLength != 0xABCDE {
		t.Fatalf("bad TOL24: %+v", exts)
	}
}

func TestUnknownExtensionSkipped(t *testing.T) {
	var buf []byte
	PushHeader(&buf, 0, t128.Uint128{}, 1, t128.FromUint64(2), 0, false, false)
	// HET=99 未定义，长度 1 字（HET < 128 带 HEL）
	buf = append(buf, 99, 1, 0, 0)
	IncHdrLen(buf, 1)

	hdr, _ := ParseHeader(buf)
	exts, err := ParseExtensions(buf, hdr)
	if err != nil {
		t.Fatalf("unknown ext must not be fatal: %v", err)
	}
	if len(exts) != 1 || exts[0].Kind != Ext(99) || exts[0].Raw == nil {
		t.Fatalf("expected raw unknown ext, got %+v", exts)
	}
}

func TestExtensionOverflow(t *testing.T) {
	var buf []byte
	PushHeader(&buf, 0, t128.Uint128{}, 1, t128.FromUint64(2), 0, false, false)
	// 声明 10 个字但只有 1 个字的数据
	buf = append(buf, 99, 10, 0, 0)
	IncHdrLen(buf, 1)

	hdr, _ := ParseHeader(buf)
	if _, err := ParseExtensions(buf, hdr); err == nil {
		t.Fatal("expected error for overflowing extension length")
	}
}

func TestBadVersion(t *testing.T) {
	data := []byte{0x30, 0x00, 0x01, 0x00}
	if _, err := ParseHeader(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestTruncatedHeader(t *testing.T) {
	if _, err := ParseHeader([]byte{0x10, 0x00}); err == nil {
		t.Fatal("expected error for short packet")
	}
	// 头长声明 9 个字但包只有 4 字节
	if _, err := ParseHeader([]byte{0x10, 0x00, 0x09, 0x00}); err == nil {
		t.Fatal("expected error for header longer than packet")
	}
}

func TestSCTRoundTrip(t *testing.T) {
	var buf []byte
	PushHeader(&buf, 0, t128.Uint128{}, 1, t128.FromUint64(2), 0, false, false)
	ntp := uint64(0xE000000080000000)
	PushSCT(&buf, ntp)

	hdr, _ := ParseHeader(buf)
	exts, err := ParseExtensions(buf, hdr)
	if err != nil {
		t.Fatalf("ParseExtensions failed: %v", err)
	}
	if len(exts) != 1 || exts[0].SCT == nil || *exts[0].SCT != ntp {
		t.Fatalf("bad SCT: %+v", exts)
	}
}
