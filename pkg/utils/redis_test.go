package utils

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestOpenRedis_PingsServer(t *testing.T) {
	srv := miniredis.RunT(t)

	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestOpenRedis_FailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	if _, err := OpenRedis(context.Background(), RedisConfig{Addr: addr}); err == nil {
		t.Fatalf("expected ping failure")
	}
}
