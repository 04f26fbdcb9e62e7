package pwhash

import "testing"

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := Verify(hash, "hunter2")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Errorf("Verify(correct password) = false, want true")
	}

	ok, err = Verify(hash, "wrong")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Errorf("Verify(wrong password) = true, want false")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	if _, err := Verify("not-a-valid-hash", "anything"); err == nil {
		t.Errorf("Verify with malformed hash: expected error, got nil")
	}
}
