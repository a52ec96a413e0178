package redis

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
)

// client never dials until a command is sent.
func client() *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err != ErrNilClient {
		t.Fatalf("err = %v want ErrNilClient", err)
	}
	if _, err := New(Config{Client: client(), MaxValueBytes: -1}); err == nil {
		t.Fatalf("want error for negative MaxValueBytes")
	}
}

func TestOversizedSnapshotRefusedLocally(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Client: client(), MaxValueBytes: 4, CloseClient: true})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.Set(ctx, "sbl:ns:MALWARE", []byte("12345"), 0, 0)
	if ok || err != nil {
		t.Fatalf("Set = %v, %v want false, nil", ok, err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	s, err := New(Config{Client: client(), KeyPrefix: "edge:"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.key("sbl:ns:MALWARE"); got != "edge:sbl:ns:MALWARE" {
		t.Fatalf("key = %q", got)
	}
}
