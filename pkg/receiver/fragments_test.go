package receiver

import "testing"

func TestFragTableMerge(t *testing.T) {
	var ft FragTable

	if !ft.Insert(0, 10) {
		t.Fatal("first insert must grow coverage")
	}
	// 重叠区间合并成一段
	if !ft.Insert(5, 10) {
		t.Fatal("overlapping insert extends coverage")
	}
	if ft.NbFrags() != 1 {
		t.Fatalf("expected 1 merged frag, got %d", ft.NbFrags())
	}
	if ft.ContiguousPrefix() != 15 {
		t.Fatalf("expected prefix 15, got %d", ft.ContiguousPrefix())
	}
}

func TestFragTableIdempotent(t *testing.T) {
	var ft FragTable
	ft.Insert(0, 10)
	if ft.Insert(0, 10) {
		t.Fatal("duplicate insert must not grow coverage")
	}
	if ft.Insert(2, 4) {
		t.Fatal("covered insert must not grow coverage")
	}
	if ft.Covered() != 10 || ft.NbFrags() != 1 {
		t.Fatalf("covered=%d frags=%d", ft.Covered(), ft.NbFrags())
	}
}

func TestFragTableGapAndFill(t *testing.T) {
	var ft FragTable
	ft.Insert(100, 50)
	ft.Insert(0, 40)
	if ft.NbFrags() != 2 {
		t.Fatalf("expected 2 disjoint frags, got %d", ft.NbFrags())
	}
	if ft.ContiguousPrefix() != 40 {
		t.Fatalf("expected prefix 40, got %d", ft.ContiguousPrefix())
	}
	if ft.IsComplete(150) {
		t.Fatal("must not be complete with a hole")
	}

	// 填洞后三段合一
	ft.Insert(40, 60)
	if ft.NbFrags() != 1 {
		t.Fatalf("expected 1 frag after hole fill, got %d", ft.NbFrags())
	}
	if !ft.IsComplete(150) {
		t.Fatal("expected complete coverage of [0,150)")
	}
	if ft.IsComplete(0) {
		t.Fatal("unknown total size is never complete")
	}
}

func TestFragTableAdjacentMerge(t *testing.T) {
	var ft FragTable
	ft.Insert(0, 10)
	ft.Insert(10, 10)
	if ft.NbFrags() != 1 || ft.ContiguousPrefix() != 20 {
		t.Fatalf("adjacent ranges must merge: frags=%d prefix=%d", ft.NbFrags(), ft.ContiguousPrefix())
	}
}

func TestFragTableSpanningInsert(t *testing.T) {
	var ft FragTable
	ft.Insert(10, 5)
	ft.Insert(30, 5)
	ft.Insert(50, 5)
	// 一次插入吞掉多个已有区间
	ft.Insert(5, 55)
	if ft.NbFrags() != 1 {
		t.Fatalf("expected single frag, got %d: %+v", ft.NbFrags(), ft.Frags())
	}
	if ft.MaxEnd() != 60 {
		t.Fatalf("expected max end 60, got %d", ft.MaxEnd())
	}
}

func TestFragTableContains(t *testing.T) {
	var ft FragTable
	ft.Insert(10, 20)
	if !ft.Contains(12, 5) {
		t.Fatal("expected [12,17) covered")
	}
	if ft.Contains(25, 10) {
		t.Fatal("[25,35) is not fully covered")
	}
}
