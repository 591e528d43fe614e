package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/omochice/canvas-presence/pkg/protocol"
)

func TestClientRecord_Client(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   protocol.Client
		wantOK bool
	}{
		{
			name:   "record with cursor",
			data:   `{"id":"a","user":{"id":"u1","username":"sam"},"meta":{"cursor":{"start_line":1,"start":2,"end_line":3,"end":4}}}`,
			want:   protocol.Client{ID: "a", User: protocol.User{ID: "u1", Username: "sam"}, Cursor: &protocol.Cursor{StartLine: 1, Start: 2, EndLine: 3, End: 4}},
			wantOK: true,
		},
		{
			name:   "record without meta",
			data:   `{"id":"a","user":{"id":"u1"}}`,
			want:   protocol.Client{ID: "a", User: protocol.User{ID: "u1"}},
			wantOK: true,
		},
		{name: "missing id", data: `{"user":{"id":"u1"}}`},
		{name: "missing user", data: `{"id":"a"}`},
		{name: "user without id", data: `{"id":"a","user":{"username":"sam"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec protocol.ClientRecord
			if err := json.Unmarshal([]byte(tt.data), &rec); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, ok := rec.Client()
			if ok != tt.wantOK {
				t.Fatalf("Client() ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Client() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUser_Equal(t *testing.T) {
	a := protocol.User{ID: "u1", Username: "sam"}
	b := protocol.User{ID: "u1", Username: "samuel", AvatarURL: "https://example.com/a.png"}
	c := protocol.User{ID: "u2", Username: "sam"}

	if !a.Equal(b) {
		t.Error("users with the same id should be equal")
	}
	if a.Equal(c) {
		t.Error("users with different ids should not be equal")
	}
}

func TestCursorEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b *protocol.Cursor
		want bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", &protocol.Cursor{}, nil, false},
		{"same value", &protocol.Cursor{Start: 1, End: 2}, &protocol.Cursor{Start: 1, End: 2}, true},
		{"different value", &protocol.Cursor{Start: 1}, &protocol.Cursor{Start: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := protocol.CursorEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("CursorEqual() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReplyPayload_Clients(t *testing.T) {
	var withRoster, ack protocol.ReplyPayload
	if err := json.Unmarshal([]byte(`{"status":"ok","response":{"clients":[]}}`), &withRoster); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"status":"ok","response":{}}`), &ack); err != nil {
		t.Fatal(err)
	}

	if withRoster.Response.Clients == nil {
		t.Error("an empty roster should be distinguishable from a missing one")
	}
	if ack.Response.Clients != nil {
		t.Error("an acknowledgement without clients should leave Clients nil")
	}
}

func TestRefSources(t *testing.T) {
	fixed := protocol.FixedRefs{}
	for event, want := range map[protocol.Event]string{
		protocol.EventJoin:       "1",
		protocol.EventPing:       "2",
		protocol.EventUpdateMeta: "3",
		protocol.EventLeave:      "4",
	} {
		if got := fixed.Ref(event); got != want {
			t.Errorf("FixedRefs.Ref(%s) = %q, want %q", event, got, want)
		}
	}

	var counter protocol.CounterRefs
	first := counter.Ref(protocol.EventJoin)
	second := counter.Ref(protocol.EventJoin)
	if first != "1" || second != "2" {
		t.Errorf("CounterRefs = %q, %q, want 1, 2", first, second)
	}
}
