package wsgateway

import "testing"

func TestBindExactlyOnce(t *testing.T) {
	c := &Channel{closed: make(chan struct{})}
	if err := c.Bind("s1"); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	err := c.Bind("s2")
	if err == nil {
		t.Fatal("second Bind should fail")
	}
	var bindErr *ChannelError
	if bindErr, _ = err.(*ChannelError); bindErr == nil || bindErr.Kind != KindBindError {
		t.Fatalf("expected BindError, got %v", err)
	}
	if c.BoundSessionID() != "s1" {
		t.Fatalf("BoundSessionID() = %q, want s1", c.BoundSessionID())
	}
}

func TestTryEnqueueRejectsOverBudget(t *testing.T) {
	c := &Channel{
		outboundByte: make(chan queuedFrame, 10),
		byteBudget:   10,
		closed:       make(chan struct{}),
	}
	if !c.TryEnqueueOutput([]byte("12345")) {
		t.Fatal("first enqueue within budget should succeed")
	}
	// A chunk is weighed by its raw length, not its JSON-wrapped size: 5
	// bytes are queued, and a further 6 would bring the total to 11,
	// over the 10-byte budget.
	if c.TryEnqueueOutput([]byte("abcdef")) {
		t.Fatal("second enqueue should be rejected once budget is exhausted")
	}
}

func TestTryEnqueueFreesBudgetAfterDrain(t *testing.T) {
	c := &Channel{
		outboundByte: make(chan queuedFrame, 10),
		byteBudget:   5,
		closed:       make(chan struct{}),
	}
	if !c.TryEnqueueOutput([]byte("12345")) {
		t.Fatal("enqueue within budget should succeed")
	}
	if c.TryEnqueueOutput([]byte("x")) {
		t.Fatal("enqueue should be rejected while budget is fully consumed")
	}

	qf := <-c.outboundByte
	if qf.weight != 5 {
		t.Fatalf("dequeued weight = %d, want 5", qf.weight)
	}
	// Accounting must be released manually here since WritePump isn't
	// running in this unit test; this mirrors the decrement it performs.
	c.outstanding -= int64(qf.weight)

	if !c.TryEnqueueOutput([]byte("y")) {
		t.Fatal("enqueue should succeed once prior frame's budget is released")
	}
}
