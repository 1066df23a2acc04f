package object

import (
	"Route_go/pkg/tools"
)

// BlockPartitioning RFC 5052 §9.1 的块划分算法。
//
//	b: 每个源块的最大符号数
//	l: 传输总长（字节）
//	e: 编码符号长度（字节）
//
// 返回 (aLarge, aSmall, nbALarge, nbBlocks)
func BlockPartitioning(b, l, e uint64) (uint64, uint64, uint64, uint64) {
	if b == 0 || e == 0 {
		return 0, 0, 0, 0
	}

	t := tools.DivCeil(l, e)
	n := tools.DivCeil(t, b)
	if n == 0 {
		return 0, 0, 0, 0
	}

	aLarge := tools.DivCeil(t, n)
	aSmall := tools.DivFloor(t, n)
	nbALarge := t - (aSmall * n)
	return aLarge, aSmall, nbALarge, n
}

// BlockLength 第 sbn 个源块的字节长度
func BlockLength(aLarge, aSmall, nbALarge, l, e uint64, sbn uint32) uint64 {
	sbn64 := uint64(sbn)

	largeBlockSize := aLarge * e
	smallBlockSize := aSmall * e

	if sbn64+1 < nbALarge {
		return largeBlockSize
	}

	if sbn64+1 == nbALarge {
		return largeBlockSize
	}

	// 小块区域，最后一块可能不满
	l -= nbALarge * largeBlockSize
	sbn64 -= nbALarge
	if (sbn64+1)*smallBlockSize <= l {
		return smallBlockSize
	}
	return l - sbn64*smallBlockSize
}
