package demangle

import (
	"testing"
)

func TestDemangle(t *testing.T) {
	d := New()
	for _, tc := range []struct {
		name string
		want string
	}{
		{"_Z3fooi", "foo(int)"},
		{"_RNvC6_123foo3bar", "123foo::bar"},
		{"_ZN4core3fmt9Formatter3pad17h1c9cf8888cdde3a2E", "core::fmt::Formatter::pad"},
		{
			"_ZN71_$LT$Test$u20$as$u20$mycrate..Trait$GT$4test17h1234567890abcdefE",
			"<Test as mycrate::Trait>::test",
		},
		// Unrecognized names pass through.
		{"main", "main"},
		{"_start", "_start"},
		{"", ""},
	} {
		if got := d.Demangle(tc.name); got != tc.want {
			t.Errorf("Demangle(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRustLegacyGate(t *testing.T) {
	d := New()
	// A C++ name without the hash element must not be touched by the
	// legacy Rust polish.
	got := d.Demangle("_ZN2ns4funcEv")
	if got != "ns::func()" {
		t.Errorf("Demangle = %q, want ns::func()", got)
	}
}

type countingDemangler struct {
	calls int
}

func (c *countingDemangler) Demangle(name string) string {
	c.calls++
	return "seen:" + name
}

func TestNewCached(t *testing.T) {
	inner := &countingDemangler{}
	d := NewCached(inner, 8)

	if got := d.Demangle("a"); got != "seen:a" {
		t.Fatalf("Demangle(a) = %q", got)
	}
	if got := d.Demangle("a"); got != "seen:a" {
		t.Fatalf("repeat Demangle(a) = %q", got)
	}
	if inner.calls != 1 {
		t.Errorf("inner demangler called %d times, want 1", inner.calls)
	}
	d.Demangle("b")
	if inner.calls != 2 {
		t.Errorf("inner demangler called %d times after new name, want 2", inner.calls)
	}
}

func TestNewCachedBadSize(t *testing.T) {
	inner := &countingDemangler{}
	d := NewCached(inner, -1)
	if got := d.Demangle("x"); got != "seen:x" {
		t.Errorf("Demangle(x) = %q", got)
	}
}
