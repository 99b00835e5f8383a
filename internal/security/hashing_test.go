package security

import "testing"

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4) // min cost keeps the test fast

	hash, err := h.Hash([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("correct horse battery staple")); err != nil {
		t.Errorf("Compare with right password: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong password")); err == nil {
		t.Error("Compare with wrong password should fail")
	}
}

func TestNewHasher_CostClamped(t *testing.T) {
	if h := NewHasher(0); h.Cost < 4 {
		t.Errorf("zero cost should fall back to a usable default, got %d", h.Cost)
	}
	if h := NewHasher(99); h.Cost > 31 {
		t.Errorf("cost should be clamped to bcrypt max, got %d", h.Cost)
	}
}
