package object

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"Route_go/pkg/oti"
	"Route_go/pkg/tools"
)

// FdtInstance FLUTE 文件描述表（接收方向：按 TOI 查文件属性）
type FdtInstance struct {
	XMLName xml.Name `xml:"FDT-Instance"`

	Expires         string  `xml:"Expires,attr"` // NTP 高 32 位十进制字符串
	Complete        *bool   `xml:"Complete,attr,omitempty"`
	ContentType     *string `xml:"Content-Type,attr,omitempty"`
	ContentEncoding *string `xml:"Content-Encoding,attr,omitempty"`

	// 顶层 FEC OTI
	FECEncID      *uint8  `xml:"FEC-OTI-FEC-Encoding-ID,attr,omitempty"`
	FECInstanceID *uint64 `xml:"FEC-OTI-FEC-Instance-ID,attr,omitempty"`
	FECMaxSBL     *uint64 `xml:"FEC-OTI-Maximum-Source-Block-Length,attr,omitempty"`
	FECESL        *uint64 `xml:"FEC-OTI-Encoding-Symbol-Length,attr,omitempty"`
	FECMaxN       *uint64 `xml:"FEC-OTI-Max-Number-of-Encoding-Symbols,attr,omitempty"`

	Files []FdtFile `xml:"File"`
}

// FdtFile 单个文件项
type FdtFile struct {
	ContentLocation string  `xml:"Content-Location,attr"`
	TOI             string  `xml:"TOI,attr"`
	ContentLength   *uint64 `xml:"Content-Length,attr,omitempty"`
	TransferLength  *uint64 `xml:"Transfer-Length,attr,omitempty"`

	ContentType     *string `xml:"Content-Type,attr,omitempty"`
	ContentEncoding *string `xml:"Content-Encoding,attr,omitempty"`
	ContentMD5      *string `xml:"Content-MD5,attr,omitempty"`

	// 文件级 FEC OTI
	FECEncID      *uint8  `xml:"FEC-OTI-FEC-Encoding-ID,attr,omitempty"`
	FECInstanceID *uint64 `xml:"FEC-OTI-FEC-Instance-ID,attr,omitempty"`
	FECMaxSBL     *uint64 `xml:"FEC-OTI-Maximum-Source-Block-Length,attr,omitempty"`
	FECESL        *uint64 `xml:"FEC-OTI-Encoding-Symbol-Length,attr,omitempty"`
	FECMaxN       *uint64 `xml:"FEC-OTI-Max-Number-of-Encoding-Symbols,attr,omitempty"`
}

// ParseFdtInstance 从 XML 字节解析 FDT-Instance
func ParseFdtInstance(buf []byte) (*FdtInstance, error) {
	var inst FdtInstance
	if err := xml.Unmarshal(buf, &inst); err != nil {
		return nil, fmt.Errorf("parse FDT failed: %w", err)
	}
	return &inst, nil
}

// GetExpirationDate 把 Expires(高32秒) 转成 time.Time
func (f *FdtInstance) GetExpirationDate() *time.Time {
	sec, err := strconv.ParseUint(f.Expires, 10, 32)
	if err != nil {
		return nil
	}
	tm, err := tools.NTPToSystemTime(sec << 32)
	if err != nil {
		return nil
	}
	return &tm
}

// GetFile 按 TOI 查找文件项
func (f *FdtInstance) GetFile(toi uint32) *FdtFile {
	want := strconv.FormatUint(uint64(toi), 10)
	for i := range f.Files {
		if f.Files[i].TOI == want {
			return &f.Files[i]
		}
	}
	return nil
}

// GetOtiForFile 优先文件级 OTI，否则回退顶层
func (f *FdtInstance) GetOtiForFile(file *FdtFile) *oti.Oti {
	if o := buildOti(file.FECEncID, file.FECInstanceID, file.FECMaxSBL, file.FECESL, file.FECMaxN); o != nil {
		return o
	}
	return buildOti(f.FECEncID, f.FECInstanceID, f.FECMaxSBL, f.FECESL, f.FECMaxN)
}

func buildOti(encID *uint8, instID, maxSBL, esl, maxN *uint64) *oti.Oti {
	if encID == nil || maxSBL == nil || esl == nil {
		return nil
	}
	n := maxN
	if n == nil {
		n = maxSBL
	}
	parity := uint32(0)
	if *n >= *maxSBL {
		parity = uint32(*n - *maxSBL)
	}
	o := &oti.Oti{
		FecEncodingID:            oti.FECEncodingID(*encID),
		MaximumSourceBlockLength: uint32(*maxSBL),
		EncodingSymbolLength:     uint16(*esl),
		MaxNumberOfParitySymbols: parity,
		InBandFti:                false,
	}
	if instID != nil {
		o.FecInstanceID = uint16(*instID)
	}
	return o
}

// GetTransferLength Transfer-Length 优先，退化到 Content-Length
func (f *FdtFile) GetTransferLength() uint64 {
	if f.TransferLength != nil {
		return *f.TransferLength
	}
	if f.ContentLength != nil {
		return *f.ContentLength
	}
	return 0
}

// GetContentType mime 类型，未知返回空串
func (f *FdtFile) GetContentType() string {
	if f.ContentType != nil {
		return *f.ContentType
	}
	return ""
}
