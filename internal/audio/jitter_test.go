package audio

import "testing"

func TestJitterPushPopOrder(t *testing.T) {
	j := NewJitter()
	var a, b Frame
	a[0] = 0.1
	b[0] = 0.2
	j.Push(a)
	j.Push(b)
	got, ok := j.Pop()
	if !ok || got[0] != 0.1 {
		t.Fatalf("expected first-pushed frame first, got %v ok=%v", got[0], ok)
	}
	got, ok = j.Pop()
	if !ok || got[0] != 0.2 {
		t.Fatalf("expected second frame, got %v ok=%v", got[0], ok)
	}
	if _, ok := j.Pop(); ok {
		t.Fatal("expected empty buffer to report ok=false")
	}
}

func TestJitterCapacityDropsNewest(t *testing.T) {
	j := NewJitter()
	for i := 0; i < JitterCapacity; i++ {
		var f Frame
		f[0] = float32(i)
		j.Push(f)
	}
	if j.Len() != JitterCapacity {
		t.Fatalf("Len() = %d, want %d", j.Len(), JitterCapacity)
	}
	var overflow Frame
	overflow[0] = 999
	j.Push(overflow)
	if j.Len() != JitterCapacity {
		t.Fatalf("Len() after overflow = %d, want %d (drop-newest)", j.Len(), JitterCapacity)
	}
	first, _ := j.Pop()
	if first[0] != 0 {
		t.Fatalf("expected oldest frame retained, got %v", first[0])
	}
}

func TestJitterReadyFloor(t *testing.T) {
	j := NewJitter()
	if j.Ready() {
		t.Fatal("empty buffer must not be ready")
	}
	j.Push(Frame{})
	if j.Ready() {
		t.Fatal("one frame must be below the jitter floor")
	}
	j.Push(Frame{})
	if !j.Ready() {
		t.Fatal("two frames must satisfy the jitter floor")
	}
}
