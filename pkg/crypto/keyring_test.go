package crypto

import "testing"

func TestKeyRing_ActiveKeyIsLexicographicallyLast(t *testing.T) {
	kr := NewKeyRing()

	k1, _ := NewEd25519Signer("gw-2024-01")
	k2, _ := NewEd25519Signer("gw-2024-06")
	k3, _ := NewEd25519Signer("gw-2024-03")

	kr.AddKey(k1)
	kr.AddKey(k2)
	kr.AddKey(k3)

	if kr.ActiveKeyID() != "gw-2024-06" {
		t.Errorf("expected active key gw-2024-06, got %s", kr.ActiveKeyID())
	}

	sig, keyID, err := kr.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if keyID != "gw-2024-06" {
		t.Errorf("expected signature from gw-2024-06, got %s", keyID)
	}

	ok, err := kr.VerifyKey(keyID, []byte("payload"), sig)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Error("expected valid signature to verify")
	}
}

func TestKeyRing_VerifyHistoricalKeyAfterRotation(t *testing.T) {
	kr := NewKeyRing()
	old, _ := NewEd25519Signer("gw-2024-01")
	kr.AddKey(old)

	sig, keyID, err := kr.Sign([]byte("record-hash"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	newKey, _ := NewEd25519Signer("gw-2024-06")
	kr.AddKey(newKey)

	if kr.ActiveKeyID() != "gw-2024-06" {
		t.Fatalf("expected rotation to gw-2024-06, got %s", kr.ActiveKeyID())
	}

	ok, err := kr.VerifyKey(keyID, []byte("record-hash"), sig)
	if err != nil {
		t.Fatalf("verify of historical key failed: %v", err)
	}
	if !ok {
		t.Error("expected historical signature to still verify against rotated-out key")
	}
}

func TestKeyRing_VerifyUnknownKey(t *testing.T) {
	kr := NewKeyRing()
	k1, _ := NewEd25519Signer("gw-2024-01")
	kr.AddKey(k1)

	_, err := kr.VerifyKey("unknown", []byte("x"), "00")
	if err == nil {
		t.Error("expected error for unknown key ID")
	}
}

func TestKeyRing_RevokeKeyPromotesNextActive(t *testing.T) {
	kr := NewKeyRing()
	k1, _ := NewEd25519Signer("gw-2024-01")
	k2, _ := NewEd25519Signer("gw-2024-06")
	kr.AddKey(k1)
	kr.AddKey(k2)

	kr.RevokeKey("gw-2024-06")

	if kr.ActiveKeyID() != "gw-2024-01" {
		t.Errorf("expected active key to fall back to gw-2024-01, got %s", kr.ActiveKeyID())
	}
}
