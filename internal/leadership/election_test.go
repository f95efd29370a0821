package leadership

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestNewWithClientNormalizesConfig(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	e := NewWithClient(client, Config{LeaseDuration: 9 * time.Second, RetryInterval: 30 * time.Second}, zerolog.Nop())
	if e.config.RetryInterval != 3*time.Second {
		t.Fatalf("retry interval = %v, want a third of the lease", e.config.RetryInterval)
	}
	if e.config.Key != defaultElectionKey || e.InstanceID() == "" {
		t.Fatalf("config = %+v", e.config)
	}
}

func TestUnreachableRedisNeverLeads(t *testing.T) {
	e := NewWithClient(unreachableClient(), Config{
		InstanceID:    "dome-a",
		LeaseDuration: 300 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
	}, zerolog.Nop())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("second start succeeded")
	}
	time.Sleep(100 * time.Millisecond)
	if e.IsLeader() {
		t.Fatal("instance leads without a lease")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
