package utils

import "testing"

func TestGenerateIdIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id, err := GenerateId()
		if err != nil {
			t.Fatal(err)
		}
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateIdIsURLSafe(t *testing.T) {
	id, err := GenerateId()
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			t.Fatalf("id %q contains unsafe rune %q", id, r)
		}
	}
}
