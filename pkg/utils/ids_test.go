package utils

import (
	"strings"
	"testing"
)

func TestGenIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := GenID()
		if !strings.HasPrefix(id, "msg-") {
			t.Fatalf("unexpected prefix: %s", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenCallIDPrefix(t *testing.T) {
	if id := GenCallID(); !strings.HasPrefix(id, "call-") {
		t.Fatalf("unexpected prefix: %s", id)
	}
}

func TestSortKeyOrdered(t *testing.T) {
	prev := ""
	for i := 0; i < 1000; i++ {
		k := SortKey()
		if k <= prev {
			t.Fatalf("keys not strictly increasing: %s then %s", prev, k)
		}
		prev = k
	}
}
