package memcached

import (
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	a := New("gateway-a", time.Minute, 0, "127.0.0.1:11211").(*cacher)
	b := New("gateway-b", time.Minute, 0, "127.0.0.1:11211").(*cacher)

	if a.key("users") == b.key("users") {
		t.Errorf("expected keys of different namespaces to differ")
	}
	if a.key("users") != a.key("users") {
		t.Errorf("expected key to be stable")
	}

	long := a.key(strings.Repeat("k", 4096))
	if len(long) >= 250 {
		t.Errorf("expected key shorter than 250 bytes, got %d", len(long))
	}
	if strings.ContainsAny(long, " \n\t") {
		t.Errorf("expected key without whitespace, got %q", long)
	}
}

func TestExpiration(t *testing.T) {
	c := New("gateway", 5*time.Minute, time.Second, "127.0.0.1:11211").(*cacher)
	if c.expiration != 300 {
		t.Errorf("want expiration of 300 seconds, got %d", c.expiration)
	}
	if c.client.Timeout != time.Second {
		t.Errorf("want client timeout of 1s, got %s", c.client.Timeout)
	}
}
