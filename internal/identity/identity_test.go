package identity

import "testing"

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		key  string
		want string
	}{
		{name: "composed", raw: "alice", key: "app1", want: "alice:app1"},
		{name: "self addressed collapses", raw: "app1", key: "app1", want: "app1"},
		{name: "different sender same user", raw: "alice", key: "app2", want: "alice:app2"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.raw, tt.key); got != tt.want {
				t.Fatalf("Resolve(%q, %q) = %q, want %q", tt.raw, tt.key, got, tt.want)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		canonical string
		want      ID
	}{
		{name: "composed", canonical: "alice:app1", want: ID{User: "alice", Sender: "app1"}},
		{name: "collapsed", canonical: "app1", want: ID{User: "app1", Sender: "app1"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Split(tt.canonical); got != tt.want {
				t.Fatalf("Split(%q) = %+v, want %+v", tt.canonical, got, tt.want)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		session string
		target  string
		want    bool
	}{
		{name: "exact", session: "alice:app1", target: "alice:app1", want: true},
		{name: "different sender", session: "alice:app1", target: "alice:app2", want: false},
		{name: "different user", session: "alice:app1", target: "bob:app1", want: false},
		{name: "prefix is not a match", session: "alice:app1", target: "alice", want: false},
		{name: "shared prefix users", session: "ali:app1", target: "alice:app1", want: false},
		{name: "collapsed equals composed self", session: "app1", target: "app1:app1", want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.session, tt.target); got != tt.want {
				t.Fatalf("Match(%q, %q) = %v, want %v", tt.session, tt.target, got, tt.want)
			}
		})
	}
}

func TestValidateRaw(t *testing.T) {
	t.Parallel()
	if err := ValidateRaw("alice"); err != nil {
		t.Fatalf("ValidateRaw(alice) error: %v", err)
	}
	if err := ValidateRaw(""); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if err := ValidateRaw("  "); err == nil {
		t.Fatal("expected error for blank user id")
	}
	if err := ValidateRaw("alice:app1"); err == nil {
		t.Fatal("expected error for user id containing the separator")
	}
}
