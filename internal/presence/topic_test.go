package presence

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/omochice/canvas-presence/pkg/protocol"
)

var (
	self  = protocol.User{ID: "me", Username: "me"}
	alice = protocol.User{ID: "u1", Username: "alice"}
	bob   = protocol.User{ID: "u2", Username: "bob"}
)

func newMessage(t *testing.T, event protocol.Event, canvasID string, payload any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(event, canvasID, payload, "")
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	return msg
}

func record(clientID string, user protocol.User, cursor *protocol.Cursor) protocol.ClientRecord {
	return protocol.NewClientRecord(protocol.Client{ID: clientID, User: user, Cursor: cursor})
}

func roster(records ...protocol.ClientRecord) protocol.ReplyPayload {
	var p protocol.ReplyPayload
	p.Status = "ok"
	p.Response.Clients = &records
	return p
}

func TestTopic_Apply(t *testing.T) {
	cursorA := &protocol.Cursor{StartLine: 1, Start: 2, EndLine: 1, End: 4}
	cursorB := &protocol.Cursor{StartLine: 3, Start: 0, EndLine: 5, End: 1}

	type step struct {
		event   protocol.Event
		payload any
		want    []Notification
	}
	tests := []struct {
		name       string
		steps      []step
		wantRoster []protocol.User
	}{
		{
			name: "reply listing the same user twice",
			steps: []step{{
				event:   protocol.EventReply,
				payload: roster(record("c1", alice, nil), record("c2", alice, cursorA)),
				want:    []Notification{{Kind: NotifyJoin, CanvasID: "canvas", User: alice}},
			}},
			wantRoster: []protocol.User{alice},
		},
		{
			name: "reply keeps roster order",
			steps: []step{{
				event:   protocol.EventReply,
				payload: roster(record("c2", bob, cursorB), record("c1", alice, nil)),
				want: []Notification{
					{Kind: NotifyJoin, CanvasID: "canvas", User: bob, Cursor: cursorB},
					{Kind: NotifyJoin, CanvasID: "canvas", User: alice},
				},
			}},
			wantRoster: []protocol.User{bob, alice},
		},
		{
			name: "reply drops users no longer listed",
			steps: []step{
				{
					event:   protocol.EventReply,
					payload: roster(record("c1", alice, nil), record("c2", bob, nil)),
					want: []Notification{
						{Kind: NotifyJoin, CanvasID: "canvas", User: alice},
						{Kind: NotifyJoin, CanvasID: "canvas", User: bob},
					},
				},
				{
					event:   protocol.EventReply,
					payload: roster(record("c2", bob, nil)),
					want:    []Notification{{Kind: NotifyLeave, CanvasID: "canvas", User: alice}},
				},
			},
			wantRoster: []protocol.User{bob},
		},
		{
			name: "acknowledgement without roster",
			steps: []step{
				{
					event:   protocol.EventReply,
					payload: roster(record("c1", alice, nil)),
					want:    []Notification{{Kind: NotifyJoin, CanvasID: "canvas", User: alice}},
				},
				{
					event:   protocol.EventReply,
					payload: map[string]any{"status": "ok", "response": map[string]any{}},
				},
			},
			wantRoster: []protocol.User{alice},
		},
		{
			name: "reply filters self",
			steps: []step{{
				event:   protocol.EventReply,
				payload: roster(record("mine", self, nil), record("c1", alice, nil)),
				want:    []Notification{{Kind: NotifyJoin, CanvasID: "canvas", User: alice}},
			}},
			wantRoster: []protocol.User{alice},
		},
		{
			name: "second client of a present user is silent",
			steps: []step{
				{
					event:   protocol.EventRemoteJoin,
					payload: record("c1", alice, nil),
					want:    []Notification{{Kind: NotifyJoin, CanvasID: "canvas", User: alice}},
				},
				{
					event:   protocol.EventRemoteJoin,
					payload: record("c2", alice, cursorA),
				},
				{
					event:   protocol.EventRemoteLeave,
					payload: record("c1", alice, nil),
				},
				{
					event:   protocol.EventRemoteLeave,
					payload: record("c2", alice, nil),
					want:    []Notification{{Kind: NotifyLeave, CanvasID: "canvas", User: alice}},
				},
			},
			wantRoster: []protocol.User{},
		},
		{
			name: "remote join of a known client moves its cursor",
			steps: []step{
				{
					event:   protocol.EventRemoteJoin,
					payload: record("c1", alice, nil),
					want:    []Notification{{Kind: NotifyJoin, CanvasID: "canvas", User: alice}},
				},
				{
					event:   protocol.EventRemoteJoin,
					payload: record("c1", alice, cursorA),
					want:    []Notification{{Kind: NotifyUpdate, CanvasID: "canvas", User: alice, Cursor: cursorA}},
				},
			},
			wantRoster: []protocol.User{alice},
		},
		{
			name: "remote update",
			steps: []step{
				{
					event:   protocol.EventRemoteJoin,
					payload: record("c1", alice, cursorA),
					want:    []Notification{{Kind: NotifyJoin, CanvasID: "canvas", User: alice, Cursor: cursorA}},
				},
				{
					event:   protocol.EventRemoteUpdate,
					payload: record("c1", alice, cursorB),
					want:    []Notification{{Kind: NotifyUpdate, CanvasID: "canvas", User: alice, Cursor: cursorB}},
				},
				{
					event:   protocol.EventRemoteUpdate,
					payload: record("c1", alice, cursorB),
				},
			},
			wantRoster: []protocol.User{alice},
		},
		{
			name: "remote update for unknown client",
			steps: []step{{
				event:   protocol.EventRemoteUpdate,
				payload: record("c9", bob, cursorA),
			}},
			wantRoster: []protocol.User{},
		},
		{
			name: "remote leave for unknown client",
			steps: []step{{
				event:   protocol.EventRemoteLeave,
				payload: record("c9", bob, nil),
			}},
			wantRoster: []protocol.User{},
		},
		{
			name: "remote join of self",
			steps: []step{{
				event:   protocol.EventRemoteJoin,
				payload: record("mine", self, nil),
			}},
			wantRoster: []protocol.User{},
		},
		{
			name: "record without user",
			steps: []step{{
				event:   protocol.EventRemoteJoin,
				payload: map[string]any{"id": "c1"},
			}},
			wantRoster: []protocol.User{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := newTopic("canvas", "mine")
			for i, s := range tt.steps {
				got := topic.Apply(newMessage(t, s.event, "canvas", s.payload), self)
				if diff := cmp.Diff(s.want, got); diff != "" {
					t.Errorf("step %d (%s) notifications mismatch (-want +got):\n%s", i, s.event, diff)
				}
			}
			if diff := cmp.Diff(tt.wantRoster, topic.Roster()); diff != "" {
				t.Errorf("Roster() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTopic_Apply_IgnoresOtherEvents(t *testing.T) {
	topic := newTopic("canvas", "mine")
	for _, event := range []protocol.Event{protocol.EventJoin, protocol.EventLeave, protocol.EventPing, "presence_diff"} {
		if got := topic.Apply(newMessage(t, event, "canvas", record("c1", alice, nil)), self); got != nil {
			t.Errorf("Apply(%s) = %v, want nil", event, got)
		}
	}
	if len(topic.Clients) != 0 {
		t.Errorf("Clients = %v, want empty", topic.Clients)
	}
}

func TestNotificationKind_String(t *testing.T) {
	tests := []struct {
		kind NotificationKind
		want string
	}{
		{NotifyJoin, "join"},
		{NotifyUpdate, "update"},
		{NotifyLeave, "leave"},
		{NotificationKind(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestTopic_Apply_CopiesCursor(t *testing.T) {
	topic := newTopic("canvas", "mine")
	cursor := &protocol.Cursor{Start: 1}

	notes := topic.Apply(newMessage(t, protocol.EventRemoteJoin, "canvas", record("c1", alice, cursor)), self)
	if len(notes) != 1 || notes[0].Cursor == nil {
		t.Fatalf("Apply() = %v, want one join with a cursor", notes)
	}
	notes[0].Cursor.Start = 99

	if got := topic.Clients[0].Cursor.Start; got != 1 {
		t.Errorf("stored cursor Start = %d, want 1", got)
	}
	if got := topic.Apply(newMessage(t, protocol.EventRemoteUpdate, "canvas", record("c1", alice, cursor)), self); got != nil {
		t.Errorf("Apply() of an unchanged cursor = %v, want nil", got)
	}
}
