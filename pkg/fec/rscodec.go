package fec

import (
	"errors"
	"fmt"

	rs "github.com/klauspost/reedsolomon"
)

type RsCodecParam struct {
	NbSourceSymbols      uint
	NbParitySymbols      uint
	EncodingSymbolLength uint
}

// RSGalois8Codec GF(2^8) Reed-Solomon 编解码器。
// 修复子系统用它从收到的符号中重建缺失的源符号，
// 重建结果经 patch 接口回写，解复用核心不参与。
type RSGalois8Codec struct {
	Params       RsCodecParam
	Rs           rs.Encoder
	DecodeShards [][]byte
	nbReceived   uint
	decoded      bool
}

func NewRSGalois8Codec(nbSourceSymbols, nbParitySymbols, encodingSymbolLength uint) (*RSGalois8Codec, error) {
	if nbSourceSymbols == 0 || encodingSymbolLength == 0 {
		return nil, errors.New("invalid RS parameters")
	}
	enc, err := rs.New(int(nbSourceSymbols), int(nbParitySymbols))
	if err != nil {
		return nil, fmt.Errorf("create RS encoder: %w", err)
	}
	return &RSGalois8Codec{
		Params: RsCodecParam{
			NbSourceSymbols:      nbSourceSymbols,
			NbParitySymbols:      nbParitySymbols,
			EncodingSymbolLength: encodingSymbolLength,
		},
		Rs:           enc,
		DecodeShards: make([][]byte, nbSourceSymbols+nbParitySymbols),
	}, nil
}

// createShards 把源数据切成定长符号，末符号补零
func (param *RsCodecParam) createShards(data []byte) [][]byte {
	total := param.NbSourceSymbols + param.NbParitySymbols
	shards := make([][]byte, total)
	e := param.EncodingSymbolLength
	for i := uint(0); i < param.NbSourceSymbols; i++ {
		shard := make([]byte, e)
		from := i * e
		if from < uint(len(data)) {
			copy(shard, data[from:])
		}
		shards[i] = shard
	}
	for i := param.NbSourceSymbols; i < total; i++ {
		shards[i] = make([]byte, e)
	}
	return shards
}

// Encode 产生全部编码符号（源符号在前，ESI 连续编号）
func (codec *RSGalois8Codec) Encode(data []byte) ([]FecShard, error) {
	maxLen := codec.Params.NbSourceSymbols * codec.Params.EncodingSymbolLength
	if uint(len(data)) > maxLen {
		return nil, fmt.Errorf("data of %d bytes exceeds source block of %d", len(data), maxLen)
	}
	shards := codec.Params.createShards(data)
	if err := codec.Rs.Encode(shards); err != nil {
		return nil, err
	}
	out := make([]FecShard, 0, len(shards))
	for i, s := range shards {
		out = append(out, NewDataFecShard(s, uint32(i)))
	}
	return out, nil
}

// PushSymbol 喂入一个收到的编码符号
func (codec *RSGalois8Codec) PushSymbol(encodingSymbol []byte, esi uint32) {
	if uint(esi) >= uint(len(codec.DecodeShards)) {
		return
	}
	if codec.DecodeShards[esi] != nil {
		return // 重传，忽略
	}
	shard := make([]byte, codec.Params.EncodingSymbolLength)
	copy(shard, encodingSymbol)
	codec.DecodeShards[esi] = shard
	codec.nbReceived++
}

// CanDecode 凑够 k 个符号即可重建
func (codec *RSGalois8Codec) CanDecode() bool {
	return codec.nbReceived >= codec.Params.NbSourceSymbols
}

// Decode 重建缺失符号，成功返回 true
func (codec *RSGalois8Codec) Decode() bool {
	if !codec.CanDecode() {
		return false
	}
	if err := codec.Rs.ReconstructData(codec.DecodeShards); err != nil {
		return false
	}
	codec.decoded = true
	return true
}

// SourceBlock 拼接重建后的源符号
func (codec *RSGalois8Codec) SourceBlock() ([]byte, error) {
	if !codec.decoded {
		return nil, errors.New("source block not decoded")
	}
	out := make([]byte, 0, codec.Params.NbSourceSymbols*codec.Params.EncodingSymbolLength)
	for i := uint(0); i < codec.Params.NbSourceSymbols; i++ {
		if codec.DecodeShards[i] == nil {
			return nil, fmt.Errorf("source symbol %d still missing", i)
		}
		out = append(out, codec.DecodeShards[i]...)
	}
	return out, nil
}
