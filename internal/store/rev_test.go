package store

import (
	"regexp"
	"testing"
)

var revPattern = regexp.MustCompile(`^[0-9]+-[0-9a-f]{32}$`)

func TestNewRevFirst(t *testing.T) {
	rev := NewRev("")
	if !revPattern.MatchString(rev) {
		t.Fatalf("malformed revision: %q", rev)
	}
	if RevSeq(rev) != 1 {
		t.Errorf("first revision should have sequence 1, got %d (%q)", RevSeq(rev), rev)
	}
}

func TestNewRevIncrementsSequence(t *testing.T) {
	rev := ""
	for i := int64(1); i <= 5; i++ {
		rev = NewRev(rev)
		if RevSeq(rev) != i {
			t.Fatalf("step %d: got sequence %d (%q)", i, RevSeq(rev), rev)
		}
	}
}

func TestNewRevUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		rev := NewRev("5-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
		if seen[rev] {
			t.Fatalf("duplicate revision generated: %q", rev)
		}
		seen[rev] = true
	}
}

func TestRevSeqMalformed(t *testing.T) {
	for _, rev := range []string{"", "garbage", "-abc", "x-abc", "12"} {
		if got := RevSeq(rev); got != 0 {
			t.Errorf("RevSeq(%q) = %d, want 0", rev, got)
		}
	}
}
