package memory

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sidsOf(ds []*deadline) []string {
	var sids []string
	for _, d := range ds {
		sids = append(sids, d.sid)
	}
	return sids
}

func TestEvictionQueueDue(t *testing.T) {
	now := time.Now()
	type schedule struct {
		sid string
		at  time.Time
	}
	testCases := []struct {
		name     string
		schedule []schedule
		at       time.Time
		want     []string
		wantLeft int
	}{
		{
			name: "in order",
			schedule: []schedule{
				{sid: "a", at: now.Add(time.Minute)},
				{sid: "b", at: now.Add(2 * time.Minute)},
				{sid: "c", at: now.Add(3 * time.Minute)},
			},
			at:   now.Add(4 * time.Minute),
			want: []string{"a", "b", "c"},
		},
		{
			name: "out of order",
			schedule: []schedule{
				{sid: "b", at: now.Add(2 * time.Minute)},
				{sid: "c", at: now.Add(3 * time.Minute)},
				{sid: "a", at: now.Add(time.Minute)},
			},
			at:   now.Add(4 * time.Minute),
			want: []string{"a", "b", "c"},
		},
		{
			name: "partially due",
			schedule: []schedule{
				{sid: "c", at: now.Add(3 * time.Minute)},
				{sid: "a", at: now.Add(time.Minute)},
				{sid: "b", at: now.Add(2 * time.Minute)},
			},
			at:       now.Add(90 * time.Second),
			want:     []string{"a"},
			wantLeft: 2,
		},
		{
			name: "due at deadline",
			schedule: []schedule{
				{sid: "c", at: now.Add(3 * time.Minute)},
				{sid: "a", at: now.Add(time.Minute)},
				{sid: "b", at: now.Add(2 * time.Minute)},
			},
			at:       now.Add(2 * time.Minute),
			want:     []string{"a", "b"},
			wantLeft: 1,
		},
		{
			name: "nothing due",
			schedule: []schedule{
				{sid: "a", at: now.Add(time.Minute)},
			},
			at:       now,
			wantLeft: 1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			eq := newEvictionQueue()
			for _, s := range tc.schedule {
				eq.schedule(s.sid, s.at)
			}
			if diff := cmp.Diff(tc.want, sidsOf(eq.due(tc.at))); diff != "" {
				t.Errorf("due() returned incorrect SID sequence (+got, -want):\n%s", diff)
			}
			if got, want := eq.len(), tc.wantLeft; got != want {
				t.Errorf("len() after due() = %d, want %d", got, want)
			}
		})
	}
}
