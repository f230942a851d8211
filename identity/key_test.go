package identity

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"123 West 4th Street", "123 w 4th st"},
		{"123 w 4th st", "123 w 4th st"},
		{"  45 Ocean Avenue, Apt 2B  ", "45 ocean ave apt 2b"},
		{"789 Grand Boulevard", "789 grand blvd"},
		{"10 Main St.", "10 main st"},
		{"", ""},
	}

	for _, c := range cases {
		got := NormalizeAddress(c.in)
		if got != c.want {
			t.Fatalf("NormalizeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeAddressNoSubstringReplacement(t *testing.T) {
	// "Weststreet" contains "west" and "street" as substrings; only whole
	// words should be abbreviated.
	got := NormalizeAddress("12 Weststreet Ct")
	if got != "12 weststreet ct" {
		t.Fatalf("got %q, want %q", got, "12 weststreet ct")
	}
}

func TestPriceBucket(t *testing.T) {
	if PriceBucket(2400) != PriceBucket(2495) {
		t.Fatalf("2400 and 2495 should share a bucket")
	}
	if PriceBucket(2499) == PriceBucket(2500) {
		t.Fatalf("2499 and 2500 should not share a bucket")
	}
	if PriceBucket(-100) != 0 {
		t.Fatalf("negative prices should clamp to bucket 0, got %d", PriceBucket(-100))
	}
}

func TestCanonicalKeyMatchesAcrossFormatting(t *testing.T) {
	a := CanonicalKey("123 West 4th Street", 2, 2400)
	b := CanonicalKey("123 w 4th st", 2, 2450)
	if a != b {
		t.Fatalf("same unit should produce same key: %s vs %s", a, b)
	}
}

func TestCanonicalKeyDiffers(t *testing.T) {
	base := CanonicalKey("123 West 4th Street", 2, 2400)

	if CanonicalKey("125 West 4th Street", 2, 2400) == base {
		t.Fatalf("different address should produce different key")
	}
	if CanonicalKey("123 West 4th Street", 3, 2400) == base {
		t.Fatalf("different bed count should produce different key")
	}
	if CanonicalKey("123 West 4th Street", 2, 3400) == base {
		t.Fatalf("different price bucket should produce different key")
	}
}

func TestCanonicalKeyStable(t *testing.T) {
	if CanonicalKey("55 Hudson Yards", 1, 3000) != CanonicalKey("55 Hudson Yards", 1, 3000) {
		t.Fatalf("key should be deterministic")
	}
	if len(CanonicalKey("55 Hudson Yards", 1, 3000)) != 32 {
		t.Fatalf("key should be 32 hex chars")
	}
}
