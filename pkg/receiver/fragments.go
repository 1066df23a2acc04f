package receiver

import "sort"

// FragTable 维护一个对象的已接收字节范围，
// 有序、互不重叠，插入时合并相邻/重叠区间。
type FragTable struct {
	frags []Frag
}

// Insert 记录 [offset, offset+size) 已接收。
// 返回覆盖范围是否增长；重复插入同一范围不改变任何状态。
func (t *FragTable) Insert(offset, size uint32) bool {
	if size == 0 {
		return false
	}
	end := uint64(offset) + uint64(size)

	// 第一个结束位置 >= offset 的区间
	i := sort.Search(len(t.frags), func(k int) bool {
		return uint64(t.frags[k].Offset)+uint64(t.frags[k].Size) >= uint64(offset)
	})

	if i == len(t.frags) {
		t.frags = append(t.frags, Frag{Offset: offset, Size: size})
		return true
	}

	// 已被单个区间完全覆盖
	f := t.frags[i]
	if f.Offset <= offset && uint64(f.Offset)+uint64(f.Size) >= end {
		return false
	}

	// 合并所有与 [offset, end) 重叠或相邻的区间
	newOff := offset
	if f.Offset < newOff && uint64(f.Offset)+uint64(f.Size) >= uint64(offset) {
		newOff = f.Offset
	}
	j := i
	newEnd := end
	for j < len(t.frags) && uint64(t.frags[j].Offset) <= end {
		fe := uint64(t.frags[j].Offset) + uint64(t.frags[j].Size)
		if fe > newEnd {
			newEnd = fe
		}
		j++
	}
	if uint64(t.frags[i].Offset) > end {
		// 与任何区间都不相接，纯插入
		t.frags = append(t.frags, Frag{})
		copy(t.frags[i+1:], t.frags[i:])
		t.frags[i] = Frag{Offset: offset, Size: size}
		return true
	}

	merged := Frag{Offset: newOff, Size: uint32(newEnd - uint64(newOff))}
	t.frags[i] = merged
	t.frags = append(t.frags[:i+1], t.frags[j:]...)
	return true
}

// ContiguousPrefix 返回最大的 n 使 [0, n) 被完全覆盖
func (t *FragTable) ContiguousPrefix() uint32 {
	if len(t.frags) == 0 || t.frags[0].Offset != 0 {
		return 0
	}
	return t.frags[0].Size
}

// IsComplete 覆盖范围恰好等于 [0, total)。total 未知(0)时恒为 false。
func (t *FragTable) IsComplete(total uint32) bool {
	if total == 0 {
		return false
	}
	return len(t.frags) == 1 && t.frags[0].Offset == 0 && t.frags[0].Size == total
}

// Covered 已覆盖的总字节数
func (t *FragTable) Covered() uint64 {
	var n uint64
	for _, f := range t.frags {
		n += uint64(f.Size)
	}
	return n
}

// MaxEnd 覆盖范围的最大结束位置
func (t *FragTable) MaxEnd() uint64 {
	if len(t.frags) == 0 {
		return 0
	}
	last := t.frags[len(t.frags)-1]
	return uint64(last.Offset) + uint64(last.Size)
}

// Contains [offset, offset+size) 是否已被覆盖
func (t *FragTable) Contains(offset, size uint32) bool {
	end := uint64(offset) + uint64(size)
	for _, f := range t.frags {
		if f.Offset <= offset && uint64(f.Offset)+uint64(f.Size) >= end {
			return true
		}
	}
	return false
}

// Frags 共享视图，调用方不得修改
func (t *FragTable) Frags() []Frag {
	return t.frags
}

// NbFrags 当前区间个数
func (t *FragTable) NbFrags() int {
	return len(t.frags)
}

// Reset 清空
func (t *FragTable) Reset() {
	t.frags = t.frags[:0]
}
