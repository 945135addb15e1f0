package redis

import "testing"

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("evt:processed:payments.order-created", "abc"); got != "orderflow:idempotency:evt:processed:payments.order-created:abc" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.buildKey(); got != "orderflow" {
		t.Fatalf("unexpected bare key %s", got)
	}
	if got := client.buildKey("a", "", "b"); got != "orderflow:a:b" {
		t.Fatalf("empty parts must be skipped, got %s", got)
	}
}
