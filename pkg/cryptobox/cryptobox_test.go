package cryptobox

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	box := New(key)

	plaintext := "the quick brown fox"
	sealed, err := box.SealString(plaintext)
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}
	if string(sealed) == plaintext {
		t.Fatal("sealed output must not equal plaintext")
	}

	opened, err := box.OpenString(sealed)
	if err != nil {
		t.Fatalf("OpenString: %v", err)
	}
	if opened != plaintext {
		t.Fatalf("OpenString = %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	box := New(key)

	sealed, err := box.SealString("secret content")
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := box.Open(sealed); err == nil {
		t.Fatal("expected tampered ciphertext to fail to decrypt")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	keyA, _ := GenerateKey()
	keyB, _ := GenerateKey()

	sealed, err := New(keyA).SealString("secret content")
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}
	if _, err := New(keyB).Open(sealed); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

func TestOpenRejectsShortBlob(t *testing.T) {
	key, _ := GenerateKey()
	box := New(key)
	if _, err := box.Open([]byte("short")); err == nil {
		t.Fatal("expected short blob to be rejected")
	}
}

func TestKeyFromBytesValidatesLength(t *testing.T) {
	if _, err := KeyFromBytes([]byte("too short")); err == nil {
		t.Fatal("expected error for key shorter than 32 bytes")
	}
	full := make([]byte, 32)
	if _, err := KeyFromBytes(full); err != nil {
		t.Fatalf("KeyFromBytes: %v", err)
	}
}
