package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParsePoints(t *testing.T) {
	cases := []struct {
		in   string
		want Points
	}{
		{"5", 500},
		{"2.5", 250},
		{"7.42", 742},
		{"-2.5", -250},
		{"+3", 300},
		{".5", 50},
		{" 10.00 ", 1000},
		{"92233720368547757.99", Points(9223372036854775799)},
	}
	for _, c := range cases {
		got, err := ParsePoints(c.in)
		if err != nil {
			t.Fatalf("ParsePoints(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParsePoints(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParsePointsRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"-",
		".",
		"1.",
		"1.234",
		"abc",
		"1.+5",
		"1.-5",
		"--5",
		"-+5",
		"1e3",
		"184467440737095517",
		"92233720368547758",
		"99999999999999999999",
	} {
		p, err := ParsePoints(in)
		if err == nil {
			t.Fatalf("ParsePoints(%q) = %s, expected an error", in, p)
		}
		var verr ValidationError
		if !errors.As(err, &verr) || verr.Field != "amount" {
			t.Fatalf("ParsePoints(%q) returned %T %v, want ValidationError on amount", in, err, err)
		}
	}
}

func TestPointsJSON(t *testing.T) {
	var p Points
	if err := json.Unmarshal([]byte(`3.456`), &p); err != nil || p != 346 {
		t.Fatalf("expected rounding to 3.46, got %s err=%v", p, err)
	}
	if err := json.Unmarshal([]byte(`1e30`), &p); err == nil {
		t.Fatalf("expected out of range amount to fail, got %s", p)
	}
	b, err := json.Marshal(Points(-705))
	if err != nil || string(b) != "-7.05" {
		t.Fatalf("marshal: %s err=%v", b, err)
	}
}
