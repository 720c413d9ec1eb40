package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no headers", nil, 0},
		{"int32", amqp.Table{retryHeader: int32(2)}, 2},
		{"int64", amqp.Table{retryHeader: int64(3)}, 3},
		{"string", amqp.Table{retryHeader: "4"}, 4},
		{"garbage", amqp.Table{retryHeader: []byte("x")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryCount(amqp.Delivery{Headers: tt.headers}); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	base, limit := time.Second, 10*time.Second
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, w := range want {
		if got := Backoff(attempt, base, limit); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, w, got)
		}
	}
}
