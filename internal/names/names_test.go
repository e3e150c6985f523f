package names

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Alice", "alice"},
		{"  Alice   Smith ", "alice smith"},
		{"Café Müller", "cafe muller"},
		{"MONDAY Planning Meeting", "monday planning meeting"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSimilarityIdentity(t *testing.T) {
	if got := Similarity("alice", "alice"); got != 1.0 {
		t.Errorf("identical names: got %f, want 1.0", got)
	}
	if got := Similarity("", ""); got != 0.0 {
		t.Errorf("empty names: got %f, want 0.0", got)
	}
}

func TestSimilarityOrdering(t *testing.T) {
	// A near-identical name must score higher than an unrelated one.
	near := Similarity("jonathan", "jonathon")
	far := Similarity("jonathan", "quarterly report")
	if near <= far {
		t.Errorf("expected near (%f) > far (%f)", near, far)
	}
	if near < 0.85 {
		t.Errorf("expected near-identical names above match threshold, got %f", near)
	}
	if far > 0.6 {
		t.Errorf("expected unrelated names to score low, got %f", far)
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	a, b := "bob martin", "bob marley"
	if Similarity(a, b) != Similarity(b, a) {
		t.Error("similarity must be symmetric")
	}
}
