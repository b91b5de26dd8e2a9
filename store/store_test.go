package store_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/swfrench/aerospike-session/store"
)

type fakeSession struct {
	SID  string `json:"sid"`
	User string `json:"user"`
}

func TestJSONCodec(t *testing.T) {
	var c store.Codec[*fakeSession] = store.JSONCodec[fakeSession]{}
	b, err := c.Encode(&fakeSession{SID: "boop", User: "alice"})
	if err != nil {
		t.Fatalf("Encode() returned unexpected error: %v", err)
	}
	if got, want := string(b), `{"sid":"boop","user":"alice"}`; got != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}
	s, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode() returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(&fakeSession{SID: "boop", User: "alice"}, s); diff != "" {
		t.Errorf("Decode() returned incorrect content (+got, -want):\n%s", diff)
	}
	if _, err := c.Decode([]byte(`invalid`)); err == nil {
		t.Error("Decode() of malformed data unexpectedly succeeded")
	}
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sid := store.NewSessionID()
		if _, err := uuid.Parse(sid); err != nil {
			t.Fatalf("NewSessionID() returned non-UUID %q: %v", sid, err)
		}
		if seen[sid] {
			t.Fatalf("NewSessionID() returned duplicate %q", sid)
		}
		seen[sid] = true
	}
}
