package cache

import (
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := New[string](5 * time.Minute)

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected %q, got %q", "value1", val)
	}
}

func TestGetMiss(t *testing.T) {
	c := New[string](5 * time.Minute)

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestExpiration(t *testing.T) {
	c := New[string](50 * time.Millisecond)

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestDelete(t *testing.T) {
	c := New[int](5 * time.Minute)

	c.Set("key1", 42)
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestSetRefreshesTTL(t *testing.T) {
	c := New[string](80 * time.Millisecond)

	c.Set("key1", "v1")
	time.Sleep(50 * time.Millisecond)
	c.Set("key1", "v2")
	time.Sleep(50 * time.Millisecond)

	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected refreshed entry to still be live")
	}
	if val != "v2" {
		t.Errorf("expected %q, got %q", "v2", val)
	}
}
