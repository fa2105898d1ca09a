package cache

import "testing"

func TestOptions(t *testing.T) {
	opts, err := Options("redis://:secret@cache.internal:6380/3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache.internal:6380" {
		t.Errorf("expected addr cache.internal:6380, got %s", opts.Addr)
	}
	if opts.DB != 3 {
		t.Errorf("expected db 3, got %d", opts.DB)
	}
	if opts.Password != "secret" {
		t.Errorf("expected password to be parsed")
	}
	if opts.DialTimeout == 0 {
		t.Error("expected a dial timeout")
	}
}

func TestOptions_Invalid(t *testing.T) {
	if _, err := Options("http://not-redis"); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}
