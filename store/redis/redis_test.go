package redis_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/swfrench/aerospike-session/internal/testutil"
	"github.com/swfrench/aerospike-session/store"
	"github.com/swfrench/aerospike-session/store/redis"
)

type fakeSession struct {
	SID  string `json:"sid"`
	User string `json:"user"`
}

func (fs *fakeSession) SessionID() string          { return fs.SID }
func (fs *fakeSession) AssignSessionID(sid string) { fs.SID = sid }

const (
	fakeSessionData = `{"sid":"boop","user":"alice"}`
	fakeSessionID   = "boop"
	fakeSessionKey  = "session:boop"
)

func fakeSessionValue() *fakeSession {
	return &fakeSession{SID: fakeSessionID, User: "alice"}
}

func mustCreateStore(t *testing.T) (*testutil.RedisBundle, *redis.Store[*fakeSession]) {
	rb := testutil.MustCreateRedisBundle(t)
	rs := redis.New[*fakeSession](rb.Client(), store.JSONCodec[fakeSession]{}, "session", time.Hour)
	rs.NewID = func() string { return fakeSessionID }
	return rb, rs
}

func seed(t *testing.T, rc *goredis.Client, key, val string) {
	if err := rc.Set(context.Background(), key, []byte(val), time.Hour).Err(); err != nil {
		t.Fatalf("Unexpected error initializing Redis: %v", err)
	}
}

func TestStoreCreate(t *testing.T) {
	testCases := []struct {
		name    string
		arrange func(t *testing.T, rc *goredis.Client)
		assert  func(t *testing.T, rb *testutil.RedisBundle)
		err     error
	}{
		{
			name:    "succeeds",
			arrange: func(t *testing.T, rc *goredis.Client) {},
			assert: func(t *testing.T, rb *testutil.RedisBundle) {
				r := rb.Client().Get(context.Background(), fakeSessionKey)
				if r.Err() != nil {
					t.Errorf("Get() returned unexpected error during verification: %v", r.Err())
				} else if diff := cmp.Diff(fakeSessionData, r.Val()); diff != "" {
					t.Errorf("Get() returned unexpected value during verification (+got, -want):\n%s", diff)
				}
				if got, want := rb.TTL(fakeSessionKey), time.Hour; got != want {
					t.Errorf("TTL() = %v, want %v", got, want)
				}
			},
		},
		{
			name: "exists",
			arrange: func(t *testing.T, rc *goredis.Client) {
				seed(t, rc, fakeSessionKey, fakeSessionData)
			},
			err: store.ErrSessionExists,
		},
		{
			name: "redis error",
			arrange: func(t *testing.T, rc *goredis.Client) {
				rc.Close()
			},
			err: redis.ErrRedisClient,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rb, rs := mustCreateStore(t)
			tc.arrange(t, rb.Client())
			sid, err := rs.Create(context.Background(), &fakeSession{User: "alice"})
			if gotErr, wantErr := err != nil, tc.err != nil; gotErr != wantErr {
				t.Fatalf("Create() returned unexpected error - got error: %t, want error: %t", gotErr, wantErr)
			}
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("Create() returned unexpected error type - got: %v, want: %v", err, tc.err)
				}
				return
			}
			if got, want := sid, fakeSessionID; got != want {
				t.Errorf("Create() returned SID %q, want %q", got, want)
			}
			tc.assert(t, rb)
		})
	}
}

func TestStoreRead(t *testing.T) {
	testCases := []struct {
		name    string
		arrange func(t *testing.T, rb *testutil.RedisBundle)
		sid     string
		want    *fakeSession
		err     error
	}{
		{
			name: "found",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				seed(t, rb.Client(), fakeSessionKey, fakeSessionData)
			},
			sid:  fakeSessionID,
			want: fakeSessionValue(),
		},
		{
			name: "not found",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				seed(t, rb.Client(), fakeSessionKey, fakeSessionData)
			},
			sid: "beep",
			err: store.ErrSessionNotFound,
		},
		{
			name: "expired",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				seed(t, rb.Client(), fakeSessionKey, fakeSessionData)
				rb.FastForward(90 * time.Minute)
			},
			sid: fakeSessionID,
			err: store.ErrSessionNotFound,
		},
		{
			name: "malformed",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				seed(t, rb.Client(), fakeSessionKey, `invalid`)
			},
			sid: fakeSessionID,
			err: store.ErrInvalidStoredSessionData,
		},
		{
			name: "redis error",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				rb.Client().Close()
			},
			sid: fakeSessionID,
			err: redis.ErrRedisClient,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rb, rs := mustCreateStore(t)
			tc.arrange(t, rb)
			fs, err := rs.Read(context.Background(), tc.sid)
			if gotErr, wantErr := err != nil, tc.err != nil; gotErr != wantErr {
				t.Fatalf("Read() returned unexpected error - got error: %t, want error: %t", gotErr, wantErr)
			}
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("Read() returned unexpected error type - got: %v, want: %v", err, tc.err)
				}
				return
			}
			if diff := cmp.Diff(tc.want, fs); diff != "" {
				t.Errorf("Read() returned incorrect content (+got, -want):\n%s", diff)
			}
		})
	}
}

func TestStoreReadRefreshesTTL(t *testing.T) {
	rb, rs := mustCreateStore(t)
	if _, err := rs.Create(context.Background(), &fakeSession{User: "alice"}); err != nil {
		t.Fatalf("Create() returned unexpected error: %v", err)
	}
	rb.FastForward(45 * time.Minute)
	if _, err := rs.Read(context.Background(), fakeSessionID); err != nil {
		t.Fatalf("Read() returned unexpected error: %v", err)
	}
	if got, want := rb.TTL(fakeSessionKey), time.Hour; got != want {
		t.Errorf("TTL() after Read() = %v, want %v", got, want)
	}
	rb.FastForward(45 * time.Minute)
	if _, err := rs.Read(context.Background(), fakeSessionID); err != nil {
		t.Errorf("Read() past the original expiration returned unexpected error: %v", err)
	}
}

func TestStoreUpdate(t *testing.T) {
	testCases := []struct {
		name    string
		arrange func(t *testing.T, rb *testutil.RedisBundle)
		err     error
	}{
		{
			name: "succeeds",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				seed(t, rb.Client(), fakeSessionKey, fakeSessionData)
			},
		},
		{
			name:    "not found",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {},
			err:     store.ErrSessionNotFound,
		},
		{
			name: "expired",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				seed(t, rb.Client(), fakeSessionKey, fakeSessionData)
				rb.FastForward(90 * time.Minute)
			},
			err: store.ErrSessionNotFound,
		},
		{
			name: "redis error",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				rb.Client().Close()
			},
			err: redis.ErrRedisClient,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rb, rs := mustCreateStore(t)
			tc.arrange(t, rb)
			err := rs.Update(context.Background(), &fakeSession{SID: fakeSessionID, User: "bob"})
			if gotErr, wantErr := err != nil, tc.err != nil; gotErr != wantErr {
				t.Fatalf("Update() returned unexpected error - got error: %t, want error: %t", gotErr, wantErr)
			}
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("Update() returned unexpected error type - got: %v, want: %v", err, tc.err)
				}
				if errors.Is(err, store.ErrSessionNotFound) && rb.Exists(fakeSessionKey) {
					t.Errorf("Update() of missing session recreated %q", fakeSessionKey)
				}
				return
			}
			r := rb.Client().Get(context.Background(), fakeSessionKey)
			if r.Err() != nil {
				t.Errorf("Get() returned unexpected error during verification: %v", r.Err())
			} else if diff := cmp.Diff(`{"sid":"boop","user":"bob"}`, r.Val()); diff != "" {
				t.Errorf("Get() returned unexpected value during verification (+got, -want):\n%s", diff)
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	testCases := []struct {
		name    string
		arrange func(t *testing.T, rb *testutil.RedisBundle)
		err     error
	}{
		{
			name: "found",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				seed(t, rb.Client(), fakeSessionKey, fakeSessionData)
			},
		},
		{
			name:    "not found",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {},
		},
		{
			name: "redis error",
			arrange: func(t *testing.T, rb *testutil.RedisBundle) {
				rb.Client().Close()
			},
			err: redis.ErrRedisClient,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rb, rs := mustCreateStore(t)
			tc.arrange(t, rb)
			err := rs.Delete(context.Background(), fakeSessionValue())
			if gotErr, wantErr := err != nil, tc.err != nil; gotErr != wantErr {
				t.Fatalf("Delete() returned unexpected error - got error: %t, want error: %t", gotErr, wantErr)
			}
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Errorf("Delete() returned unexpected error type - got: %v, want: %v", err, tc.err)
				}
				return
			}
			if rb.Exists(fakeSessionKey) {
				t.Errorf("Delete() left %q in place", fakeSessionKey)
			}
		})
	}
}

func TestStoreActive(t *testing.T) {
	rb, rs := mustCreateStore(t)
	rs.NewID = store.NewSessionID
	for _, user := range []string{"alice", "bob", "carol"} {
		if _, err := rs.Create(context.Background(), &fakeSession{User: user}); err != nil {
			t.Fatalf("Create() returned unexpected error: %v", err)
		}
	}
	seed(t, rb.Client(), "session:corrupt", `invalid`)
	seed(t, rb.Client(), "other:elsewhere", `{"sid":"elsewhere","user":"mallory"}`)

	var users []string
	for _, s := range rs.Active(context.Background()) {
		if s.SID == "" {
			t.Errorf("Active() returned session for %q without SID", s.User)
		}
		users = append(users, s.User)
	}
	sort.Strings(users)
	if diff := cmp.Diff([]string{"alice", "bob", "carol"}, users); diff != "" {
		t.Errorf("Active() returned incorrect sessions (+got, -want):\n%s", diff)
	}

	rb.Client().Close()
	if got := rs.Active(context.Background()); len(got) != 0 {
		t.Errorf("Active() with failed client returned %d sessions, want 0", len(got))
	}
}
