package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestClampPage(t *testing.T) {
	cases := []struct {
		page, size string
		want       Page
	}{
		{"", "", Page{1, 50}},
		{"-3", "9999", Page{1, 200}},
		{"2", "0", Page{2, 1}},
		{"x", "25", Page{1, 25}},
	}
	for _, tc := range cases {
		if got := ClampPage(tc.page, tc.size, 50, 200); got != tc.want {
			t.Fatalf("ClampPage(%q, %q) = %+v; want %+v", tc.page, tc.size, got, tc.want)
		}
	}
}

func TestPage_OffsetAndTotalPages(t *testing.T) {
	p := Page{Page: 3, PageSize: 20}
	if p.Offset() != 40 {
		t.Fatalf("Offset = %d", p.Offset())
	}
	for total, want := range map[int64]int{0: 0, 1: 1, 20: 1, 21: 2, 100: 5} {
		if got := p.TotalPages(total); got != want {
			t.Fatalf("TotalPages(%d) = %d; want %d", total, got, want)
		}
	}
}
