package hash

import "testing"

func TestBuilderIsCanonical(t *testing.T) {
	a, err := NewBuilder().PutString("u1").PutI64(10).PutHex("0xABC")
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	b, _ := NewBuilder().PutString("u1").PutI64(10).PutHex("0abc")
	if a.Sum() != b.Sum() {
		t.Fatalf("hex normalization differs")
	}

	// length prefix keeps concatenations apart
	x := NewBuilder().PutString("ab").PutString("c").Sum()
	y := NewBuilder().PutString("a").PutString("bc").Sum()
	if x == y {
		t.Fatalf("ambiguous string encoding")
	}
}

func TestPutHexRejectsGarbage(t *testing.T) {
	if _, err := NewBuilder().PutHex("0xzz"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReset(t *testing.T) {
	d := NewBuilder().PutU64(1)
	d.Reset()
	if len(d.Bytes()) != 0 || d.Sum() != NewBuilder().Sum() {
		t.Fatalf("reset left state")
	}
	if SumU64(1, 2) == SumU64(2, 1) {
		t.Fatalf("order ignored")
	}
}
