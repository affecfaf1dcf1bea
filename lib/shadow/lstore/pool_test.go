package lstore

import (
	"testing"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		size  int
		class int
		ok    bool
	}{
		{0, 0, true},
		{1, 0, true},
		{8, 0, true},
		{9, 1, true},
		{16, 1, true},
		{17, 2, true},
		{4096, numClasses - 1, true},
		{4097, 0, false},
	}

	for _, c := range cases {
		class, ok := classOf(c.size)
		if ok != c.ok || (ok && class != c.class) {
			t.Errorf("classOf(%d) = (%d, %v), expected (%d, %v)", c.size, class, ok, c.class, c.ok)
		}
	}
}

func TestPoolReturnsZeroedBuffers(t *testing.T) {
	var p bufferPool

	for i := 0; i < 100; i++ {
		buf := p.get(100)
		if len(buf) != 100 || cap(buf) != 128 {
			t.Fatalf("Expected len 100 / cap 128, got %d / %d", len(buf), cap(buf))
		}
		for j, b := range buf {
			if b != 0 {
				t.Fatalf("Byte %d of a pooled buffer is %d, expected 0", j, b)
			}
		}
		for j := range buf {
			buf[j] = 0xff
		}
		p.put(buf)
	}

	large := p.get(10000)
	if len(large) != 10000 {
		t.Errorf("Expected len 10000, got %d", len(large))
	}
	p.put(large) // ignored

	empty := p.get(0)
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected an empty non-nil buffer, got %v", empty)
	}
}
