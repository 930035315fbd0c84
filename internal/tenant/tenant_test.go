package tenant

import (
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"  Alice ", "alice"},
		{"BOB_7-x", "bob_7-x"},
		{"", ""},
		{"a b", ""},
		{"joão", ""},
		{"drop;table", ""},
		{"\"quoted\"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIdentify_HeaderPriority(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/km?username=carol", nil)
	r.Header.Set("Usuario", "bob")
	r.Header.Set("X-Usuario", "Alice")
	if got := Identify(r, "dave"); got != "alice" {
		t.Fatalf("expected primary header to win, got %q", got)
	}

	r2 := httptest.NewRequest("GET", "/api/km?username=carol", nil)
	r2.Header.Set("X-User", "Bob")
	if got := Identify(r2, ""); got != "bob" {
		t.Fatalf("expected alias header, got %q", got)
	}
}

func TestIdentify_BodyThenQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/km?username=Carol", nil)
	if got := Identify(r, "dave"); got != "dave" {
		t.Fatalf("expected body username, got %q", got)
	}
	if got := Identify(r, ""); got != "carol" {
		t.Fatalf("expected query username, got %q", got)
	}
}

func TestIdentify_InvalidValuesIgnored(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/km", nil)
	r.Header.Set("X-Usuario", "not valid!")
	if got := Identify(r, ""); got != "" {
		t.Fatalf("expected empty identity, got %q", got)
	}
}

func TestResolve(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/km", nil)
	r.Header.Set("X-Usuario", "alice")
	table, err := Resolve(r, "", true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if table != "trip_records_alice" {
		t.Fatalf("unexpected partition %q", table)
	}

	anon := httptest.NewRequest("GET", "/api/km", nil)
	table, err = Resolve(anon, "", false)
	if err != nil || table != SharedPartition {
		t.Fatalf("read fallback: table=%q err=%v", table, err)
	}

	if _, err := Resolve(anon, "", true); err != ErrUnauthenticated {
		t.Fatalf("anonymous write must be rejected, got %v", err)
	}
}
