package demangle

import "testing"

func TestCacheDemangles(t *testing.T) {
	cases := map[string]string{
		"_Z3fooi":        "foo(int)",
		"_ZN3rtl4InitEv": "rtl::Init()",
		"not_mangled":    "not_mangled",
		"_Z3addii":       "add(int, int)",
	}

	c := NewCache()
	for in, want := range cases {
		if got := c.Demangle(in); got != want {
			t.Errorf("Demangle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCacheMemoizes(t *testing.T) {
	c := NewCache()
	a := c.Demangle("_Z3fooi")
	b := c.Demangle("_Z3fooi")
	if a != b {
		t.Errorf("expected cached result to be stable")
	}
	if a != "foo(int)" {
		t.Errorf("unexpected demangled name: %q", a)
	}
}
