package session

import "testing"

func TestTextNonceMonotonicity(t *testing.T) {
	s := New(nil)

	if _, ok := s.TextNonce(); ok {
		t.Fatal("expected no text nonce before first begin")
	}

	s.SetTextNonce(0)
	s.AdvanceTextReadCursor(10)
	if cursor := s.TextReadCursor(); cursor != 10 {
		t.Fatalf("cursor = %d, want 10", cursor)
	}

	s.SetTextNonce(1)
	nonce, ok := s.TextNonce()
	if !ok || nonce != 1 {
		t.Fatalf("nonce = %d, ok = %v, want 1, true", nonce, ok)
	}
	if cursor := s.TextReadCursor(); cursor != 0 {
		t.Fatalf("cursor after new begin = %d, want reset to 0", cursor)
	}
}

func TestImageNonceIndependentOfText(t *testing.T) {
	s := New(nil)
	s.SetTextNonce(5)
	s.SetImageNonce(0)

	textNonce, _ := s.TextNonce()
	imageNonce, _ := s.ImageNonce()
	if textNonce != 5 || imageNonce != 0 {
		t.Fatalf("text=%d image=%d, want 5 and 0", textNonce, imageNonce)
	}
}
