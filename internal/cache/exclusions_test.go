package cache

import (
	"testing"
)

func TestExclusionList_NilSafe(t *testing.T) {
	var el *ExclusionList
	if el.Matches("AI202") {
		t.Fatal("nil ExclusionList must never match")
	}
	if el.Len() != 0 {
		t.Fatal("nil ExclusionList Len must be 0")
	}
}

func TestExclusionList_ExactMatch(t *testing.T) {
	el, err := NewExclusionList([]string{"ai202", " UK955 ", ""}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if el.Len() != 2 {
		t.Fatalf("Len = %d, want 2", el.Len())
	}

	cases := []struct {
		number string
		want   bool
	}{
		{"AI202", true},
		{"ai202", true},
		{"UK955", true},
		{"AI2020", false},
		{"AI20", false},
		{"6E2134", false},
	}
	for _, c := range cases {
		if got := el.Matches(c.number); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.number, got, c.want)
		}
	}
}

func TestExclusionList_PatternMatch(t *testing.T) {
	el, err := NewExclusionList(nil, []string{`^6E`, `^AI1\d\d$`})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		number string
		want   bool
	}{
		{"6E2134", true},
		{"6e2134", true},
		{"AI101", true},
		{"AI202", false},
		{"AI1011", false},
		{"UK955", false},
	}
	for _, c := range cases {
		if got := el.Matches(c.number); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.number, got, c.want)
		}
	}
}

func TestExclusionList_InvalidPattern(t *testing.T) {
	if _, err := NewExclusionList(nil, []string{`[unclosed`}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}
