package acl

import (
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("compiles valid rules", func(t *testing.T) {
		p, err := New([]Rule{
			{When: `ip startsWith "10."`, Action: ActionAllow},
			{When: `host == "blocked.example.com"`, Action: ActionDeny},
		}, ActionAllow, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Len() != 2 {
			t.Errorf("Len = %d, want 2", p.Len())
		}
	})

	t.Run("rejects broken expression", func(t *testing.T) {
		if _, err := New([]Rule{{When: `ip startsWith`, Action: ActionDeny}}, ActionAllow, nil); err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("rejects non-boolean expression", func(t *testing.T) {
		if _, err := New([]Rule{{When: `host`, Action: ActionDeny}}, ActionAllow, nil); err == nil {
			t.Error("expected compile error for string-typed rule")
		}
	})

	t.Run("rejects unknown action", func(t *testing.T) {
		if _, err := New([]Rule{{When: `true`, Action: "drop"}}, ActionAllow, nil); err == nil {
			t.Error("expected error for unknown action")
		}
	})

	t.Run("rejects unknown identifier", func(t *testing.T) {
		if _, err := New([]Rule{{When: `scheme == "https"`, Action: ActionDeny}}, ActionAllow, nil); err == nil {
			t.Error("expected compile error for unknown identifier")
		}
	})
}

func TestPolicyAllow(t *testing.T) {
	p, err := New([]Rule{
		{When: `ip startsWith "127."`, Action: ActionAllow},
		{When: `host endsWith ".internal"`, Action: ActionDeny},
		{When: `method == "CONNECT" && port == "25"`, Action: ActionDeny},
	}, ActionAllow, nil)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"loopback allowed", Request{IP: "127.0.0.1", Host: "db.internal"}, true},
		{"internal host denied", Request{IP: "192.0.2.7", Host: "db.internal"}, false},
		{"smtp tunnel denied", Request{IP: "192.0.2.7", Host: "mail.example.com", Port: "25", Method: "CONNECT"}, false},
		{"no match uses default", Request{IP: "192.0.2.7", Host: "example.com", Method: "GET", Path: "/"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Allow(tc.req); got != tc.want {
				t.Errorf("Allow(%+v) = %v, want %v", tc.req, got, tc.want)
			}
		})
	}
}

func TestPolicyFirstMatchWins(t *testing.T) {
	// Both rules match; the earlier one decides.
	p, err := New([]Rule{
		{When: `host == "x"`, Action: ActionDeny},
		{When: `host == "x"`, Action: ActionAllow},
	}, ActionAllow, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Allow(Request{Host: "x"}) {
		t.Error("second rule shadowed the first")
	}
}

func TestPolicyDefaultDeny(t *testing.T) {
	p, err := New(nil, ActionDeny, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Allow(Request{IP: "192.0.2.1"}) {
		t.Error("empty policy with default deny allowed a request")
	}
}
