package arena

import (
	"errors"
	"testing"
)

type node struct {
	a, b, c, d int64
}

func TestAllocWithinBudget(t *testing.T) {
	a := New(1024)
	n, err := Alloc[node](a)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if n.a != 0 || n.d != 0 {
		t.Fatalf("allocation not zeroed: %+v", n)
	}
	if a.Used() != 32 {
		t.Fatalf("used=%d, want 32", a.Used())
	}
	if a.Objects() != 1 {
		t.Fatalf("objects=%d, want 1", a.Objects())
	}
}

func TestAllocExhausted(t *testing.T) {
	a := New(64)
	if _, err := AllocSlice[byte](a, 60); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	_, err := Alloc[node](a)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err=%v, want ErrExhausted", err)
	}
	if a.Used() != 64 {
		t.Fatalf("failed allocation changed usage: %d", a.Used())
	}
}

func TestReleaseRejectsFurtherAllocation(t *testing.T) {
	a := New(0)
	if a.Limit() != DefaultLimit {
		t.Fatalf("limit=%d, want %d", a.Limit(), DefaultLimit)
	}
	a.Release()
	if _, err := Alloc[int](a); !errors.Is(err, ErrReleased) {
		t.Fatalf("err=%v, want ErrReleased", err)
	}
}

func TestCopyBytes(t *testing.T) {
	a := New(128)
	src := []byte("hello")
	dst, err := CopyBytes(a, src)
	if err != nil {
		t.Fatalf("CopyBytes: %v", err)
	}
	src[0] = 'j'
	if string(dst) != "hello" {
		t.Fatalf("dst=%q, want hello", dst)
	}
}
