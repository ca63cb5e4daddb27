package digest

import (
	"bytes"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	d1, err := Hash(bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Hash(bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("Hash not deterministic: %s != %s", d1, d2)
	}
}

func TestHashDistinguishesContent(t *testing.T) {
	d1 := HashBytes([]byte("a"))
	d2 := HashBytes([]byte("b"))
	if d1 == d2 {
		t.Fatalf("distinct content hashed equal: %s", d1)
	}
}

func TestParseRoundTrip(t *testing.T) {
	d := HashBytes([]byte("round trip me"))
	parsed, err := Parse(d.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != d {
		t.Fatalf("Parse(String()) = %s, want %s", parsed, d)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "not hex", "deadbeef"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error, got none", s)
		}
	}
}

func TestMissingIsNotZero(t *testing.T) {
	var zero Digest
	if Missing == zero {
		t.Fatal("Missing must not equal the zero Digest")
	}
	if !Missing.IsMissing() {
		t.Fatal("Missing.IsMissing() = false")
	}
	if zero.IsMissing() {
		t.Fatal("zero Digest reported as Missing")
	}
}

func TestPrefixRest(t *testing.T) {
	d := HashBytes([]byte("shard me"))
	full := d.String()
	if got := d.Prefix() + d.Rest(); got != full {
		t.Fatalf("Prefix()+Rest() = %s, want %s", got, full)
	}
	if len(d.Prefix()) != 2 {
		t.Fatalf("Prefix() length = %d, want 2", len(d.Prefix()))
	}
}
