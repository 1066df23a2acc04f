package oti

import (
	"errors"
	"fmt"
)

type FECEncodingID uint8

const (
	NoCode FECEncodingID = iota
	ReedSolomonGF2M
	ReedSolomonGF28
	ReedSolomonGF28UnderSpecified
)

func (f FECEncodingID) String() string {
	switch f {
	case NoCode:
		return "NoCode"
	case ReedSolomonGF2M:
		return "ReedSolomonGF2M"
	case ReedSolomonGF28:
		return "ReedSolomonGF28"
	case ReedSolomonGF28UnderSpecified:
		return "ReedSolomonGF28UnderSpecified"
	default:
		return fmt.Sprintf("Unknown FECEncodingID (%d)", uint8(f))
	}
}

func FECEncodingIDFromByte(v byte) (FECEncodingID, error) {
	switch v {
	case 0:
		return NoCode, nil
	case 1:
		return ReedSolomonGF2M, nil
	case 2:
		return ReedSolomonGF28, nil
	case 3:
		return ReedSolomonGF28UnderSpecified, nil
	default:
		return 0, errors.New("invalid FECEncodingID")
	}
}

// Oti 传输参数，来自 FTI 扩展或 FDT 的 FEC-OTI-* 属性
type Oti struct {
	FecEncodingID            FECEncodingID
	FecInstanceID            uint16
	MaximumSourceBlockLength uint32
	EncodingSymbolLength     uint16
	MaxNumberOfParitySymbols uint32
	InBandFti                bool
}

func NewOti() *Oti {
	return &Oti{
		FecEncodingID:            NoCode,
		FecInstanceID:            0,
		MaximumSourceBlockLength: 64,
		EncodingSymbolLength:     1424,
		InBandFti:                true,
	}
}

func NewNoCode(encodingSymbolLength uint16, maximumSourceBlockLength uint32) *Oti {
	return &Oti{
		FecEncodingID:            NoCode,
		MaximumSourceBlockLength: maximumSourceBlockLength,
		EncodingSymbolLength:     encodingSymbolLength,
		InBandFti:                true,
	}
}

func NewReedSolomonRS28(encodingSymbolLength uint16, maximumSourceBlockLength uint32, maxNumberOfParitySymbols uint8) *Oti {
	return &Oti{
		FecEncodingID:            ReedSolomonGF28,
		MaximumSourceBlockLength: maximumSourceBlockLength,
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: uint32(maxNumberOfParitySymbols),
		InBandFti:                true,
	}
}

// MaxTransferLength FTI 的 Transfer Length 字段宽度为 48bit
func (o *Oti) MaxTransferLength() uint64 {
	switch o.FecEncodingID {
	case NoCode, ReedSolomonGF2M, ReedSolomonGF28:
		return 0xFFFFFFFFFFFF
	default:
		return 0
	}
}

// BlockSize 一个完整源块的字节数
func (o *Oti) BlockSize() uint64 {
	return uint64(o.MaximumSourceBlockLength) * uint64(o.EncodingSymbolLength)
}
