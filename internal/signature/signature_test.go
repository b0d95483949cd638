package signature

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{"ok":true}`),
		[]byte(""),
		[]byte("plain text, not json"),
		{0x00, 0xff, 0x10},
	}
	for _, body := range bodies {
		sig := Sign(body, "s3cr3t")
		if !Validate(body, sig, "s3cr3t") {
			t.Fatalf("round-trip failed for body %q", body)
		}
	}
}

func TestKnownVector(t *testing.T) {
	// HMAC-SHA256 of {"ok":true} with key s3cr3t.
	body := []byte(`{"ok":true}`)
	sig := Sign(body, "s3cr3t")
	if !Validate(body, sig, "s3cr3t") {
		t.Fatalf("known vector did not validate: %s", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Fatalf("unexpected signature length: %d", len(sig))
	}
}

func TestSingleByteMutationFlipsResult(t *testing.T) {
	body := []byte(`{"ok":true}`)
	sig := Sign(body, "s3cr3t")

	mutated := append([]byte(nil), body...)
	mutated[2] ^= 0x01
	if Validate(mutated, sig, "s3cr3t") {
		t.Fatal("mutated body validated")
	}

	badSig := []byte(sig)
	// Flip a hex digit past the prefix.
	if badSig[8] == 'a' {
		badSig[8] = 'b'
	} else {
		badSig[8] = 'a'
	}
	if Validate(body, string(badSig), "s3cr3t") {
		t.Fatal("mutated signature validated")
	}
}

func TestFailsClosed(t *testing.T) {
	body := []byte(`{"ok":true}`)
	sig := Sign(body, "s3cr3t")

	if Validate(body, sig, "") {
		t.Fatal("empty secret validated")
	}
	if Validate(body, "", "s3cr3t") {
		t.Fatal("empty header validated")
	}
	if Validate(body, "sha1=deadbeef", "s3cr3t") {
		t.Fatal("wrong scheme validated")
	}
	if Validate(body, "sha256=not-hex!", "s3cr3t") {
		t.Fatal("non-hex signature validated")
	}
	if Validate(body, sig, "wrong") {
		t.Fatal("wrong secret validated")
	}
}
