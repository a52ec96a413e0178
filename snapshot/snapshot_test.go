package snapshot

import (
	"bytes"
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	ok := List{
		List:      "MALWARE",
		Version:   "v1",
		Groups:    []Group{{Size: 4, Prefixes: []byte("aaaabbbb")}, {Size: 5, Prefixes: []byte("ccccc")}},
		Confirmed: []Confirmed{{Prefix: []byte("aaaa"), Hashes: bytes.Repeat([]byte{7}, 32)}},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid snapshot: %v", err)
	}
	if ok.Count() != 3 {
		t.Fatalf("Count = %d want 3", ok.Count())
	}

	cases := []struct {
		name   string
		mutate func(*List)
	}{
		{"no list", func(s *List) { s.List = "" }},
		{"no version", func(s *List) { s.Version = "" }},
		{"short size", func(s *List) { s.Groups[0].Size = 3 }},
		{"long size", func(s *List) { s.Groups[1].Size = 33 }},
		{"group order", func(s *List) { s.Groups[0], s.Groups[1] = s.Groups[1], s.Groups[0] }},
		{"empty group", func(s *List) { s.Groups[1].Prefixes = nil }},
		{"ragged group", func(s *List) { s.Groups[0].Prefixes = []byte("aaaabbb") }},
		{"unsorted", func(s *List) { s.Groups[0].Prefixes = []byte("bbbbaaaa") }},
		{"duplicate", func(s *List) { s.Groups[0].Prefixes = []byte("aaaaaaaa") }},
		{"confirmed prefix", func(s *List) { s.Confirmed[0].Prefix = []byte("aa") }},
		{"confirmed hashes", func(s *List) { s.Confirmed[0].Hashes = s.Confirmed[0].Hashes[:31] }},
	}
	for _, tc := range cases {
		s := ok
		s.Groups = append([]Group(nil), ok.Groups...)
		s.Confirmed = append([]Confirmed(nil), ok.Confirmed...)
		tc.mutate(&s)
		if err := s.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: err = %v want ErrInvalid", tc.name, err)
		}
	}
}
