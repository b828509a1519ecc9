package crypto

import "testing"

func TestSigner_SignVerifyRecordHash(t *testing.T) {
	signer, err := NewEd25519Signer("gw-key-1")
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	recordHash := "a1b2c3d4e5f6"

	sig, err := signer.SignRecordHash(recordHash)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if sig == "" {
		t.Fatal("signature empty")
	}

	if !signer.VerifyRecordHash(recordHash, sig) {
		t.Error("valid record hash signature rejected")
	}

	if signer.VerifyRecordHash("tampered-hash", sig) {
		t.Error("tampered record hash accepted")
	}
}

func TestSigner_FromSeed(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	s1, err := NewEd25519SignerFromSeed(seed, "gw-key-1")
	if err != nil {
		t.Fatalf("from seed failed: %v", err)
	}
	s2, err := NewEd25519SignerFromSeed(seed, "gw-key-1")
	if err != nil {
		t.Fatalf("from seed failed: %v", err)
	}

	if s1.PublicKey() != s2.PublicKey() {
		t.Error("same seed should produce same public key")
	}

	_, err = NewEd25519SignerFromSeed([]byte("too-short"), "gw-key-1")
	if err == nil {
		t.Error("expected error for invalid seed length")
	}
}
