package internal

import "testing"

func TestIPPrefix(t *testing.T) {
	cases := []struct {
		ip   string
		want string
	}{
		{"203.0.113.7", "203.0.113"},
		{"203.0.113.99", "203.0.113"},
		{"10.0.0.1", "10.0.0"},
		{"2001:db8:85a3::8a2e:370:7334", "2001:db8:85a3::8a2e:370"},
		{"::1", ":"},
		{"garbage", "garbage"},
		{"1.2.3", "1.2.3"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := IPPrefix(tc.ip); got != tc.want {
			t.Fatalf("IPPrefix(%q) = %q, want %q", tc.ip, got, tc.want)
		}
	}
}

func TestFingerprintStableAcrossSameNetwork(t *testing.T) {
	const agent = "Mozilla/5.0 Chrome/126.0"

	a := Fingerprint(agent, "203.0.113.7")
	b := Fingerprint(agent, "203.0.113.200")
	if a != b {
		t.Fatal("fingerprints must match across one /24")
	}

	if c := Fingerprint(agent, "198.51.100.7"); c == a {
		t.Fatal("different networks must fingerprint differently")
	}
	if d := Fingerprint("other agent", "203.0.113.7"); d == a {
		t.Fatal("different agents must fingerprint differently")
	}
}

func TestSecretTextRoundTrip(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}

	text := EncodeSecret(secret)
	decoded, ok := DecodeSecret(text)
	if !ok || decoded != secret {
		t.Fatal("encoded secret must decode to itself")
	}

	hash, ok := HashSecretText(text)
	if !ok || hash != HashSecret(secret) {
		t.Fatal("text hash must match the raw secret hash")
	}
}

func TestHashSecretTextRejectsMalformed(t *testing.T) {
	for _, text := range []string{"", "!!!!", "c2hvcnQ", "this has spaces"} {
		if _, ok := HashSecretText(text); ok {
			t.Fatalf("input %q must not hash", text)
		}
	}
}
