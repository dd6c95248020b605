package gateway

import "testing"

func TestReplayBuffer_Since(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte{byte('0' + i%10)})
	}

	got := rb.Since(7)
	if len(got) != 3 {
		t.Fatalf("Since(7): expected 3, got %d", len(got))
	}
	if string(got[0]) != "8" || string(got[2]) != "0" {
		t.Errorf("unexpected entries %q", got)
	}
	if rb.Oldest() != 1 {
		t.Errorf("Oldest() = %d, want 1", rb.Oldest())
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)

	// 8 pushes into 5 slots evicts seqs 1-3
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	if rb.Oldest() != 4 {
		t.Errorf("Oldest() = %d, want 4", rb.Oldest())
	}
	if got := rb.Since(0); len(got) != 5 {
		t.Errorf("Since(0): expected 5, got %d", len(got))
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'

	if got := rb.Since(0); string(got[0]) != "abc" {
		t.Errorf("buffer aliased caller slice: %q", got[0])
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(0)
	if got := rb.Since(0); len(got) != 0 {
		t.Fatalf("empty buffer Since should return 0, got %d", len(got))
	}
	if rb.Oldest() != 0 {
		t.Errorf("Oldest() on empty = %d", rb.Oldest())
	}
}
