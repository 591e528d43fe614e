package presence

import (
	"slices"

	"github.com/omochice/canvas-presence/pkg/protocol"
)

// NotificationKind says what happened to a user on a canvas.
type NotificationKind int

const (
	NotifyJoin NotificationKind = iota
	NotifyUpdate
	NotifyLeave
)

// String returns the lowercase name of the kind
func (k NotificationKind) String() string {
	switch k {
	case NotifyJoin:
		return "join"
	case NotifyUpdate:
		return "update"
	case NotifyLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Notification is one observer callback waiting to be delivered.
type Notification struct {
	Kind     NotificationKind
	CanvasID string
	User     protocol.User
	Cursor   *protocol.Cursor
}

// Topic is the presence state of one joined canvas.
type Topic struct {
	CanvasID     string
	ConnectionID string
	Cursor       *protocol.Cursor
	Clients      []protocol.Client
}

func newTopic(canvasID, connectionID string) *Topic {
	return &Topic{CanvasID: canvasID, ConnectionID: connectionID}
}

// Roster returns the users present on the canvas, one entry per user, in the
// order their first client was seen.
func (t *Topic) Roster() []protocol.User {
	distinct := distinctUsers(t.Clients)
	users := make([]protocol.User, len(distinct))
	for i, c := range distinct {
		users[i] = c.User
	}
	return users
}

// Apply reconciles an inbound message into the client list and returns the
// notifications it causes. Records describing self are ignored.
func (t *Topic) Apply(msg protocol.Message, self protocol.User) []Notification {
	switch msg.Event {
	case protocol.EventReply:
		return t.applyReply(msg, self)
	case protocol.EventRemoteJoin:
		return t.applyJoin(msg, self)
	case protocol.EventRemoteLeave:
		return t.applyLeave(msg, self)
	case protocol.EventRemoteUpdate:
		return t.applyUpdate(msg, self)
	default:
		return nil
	}
}

// applyReply replaces the client list with the roster of a join reply.
// Acknowledgements without a roster leave the topic untouched.
func (t *Topic) applyReply(msg protocol.Message, self protocol.User) []Notification {
	var p protocol.ReplyPayload
	if err := msg.UnmarshalPayload(&p); err != nil || p.Response.Clients == nil {
		return nil
	}

	records := *p.Response.Clients
	clients := make([]protocol.Client, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		c, ok := rec.Client()
		if !ok || c.User.Equal(self) || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		clients = append(clients, c)
	}

	before := t.Clients
	t.Clients = clients
	return t.diff(before)
}

func (t *Topic) applyJoin(msg protocol.Message, self protocol.User) []Notification {
	c, ok := decodeClient(msg, self)
	if !ok {
		return nil
	}
	if i := t.indexOf(c.ID); i >= 0 {
		return t.replace(i, c)
	}

	before := t.Clients
	t.Clients = append(slices.Clone(before), c)
	return t.diff(before)
}

func (t *Topic) applyLeave(msg protocol.Message, self protocol.User) []Notification {
	c, ok := decodeClient(msg, self)
	if !ok {
		return nil
	}
	i := t.indexOf(c.ID)
	if i < 0 {
		return nil
	}

	before := t.Clients
	t.Clients = slices.Delete(slices.Clone(before), i, i+1)
	return t.diff(before)
}

func (t *Topic) applyUpdate(msg protocol.Message, self protocol.User) []Notification {
	c, ok := decodeClient(msg, self)
	if !ok {
		return nil
	}
	i := t.indexOf(c.ID)
	if i < 0 {
		return nil
	}
	return t.replace(i, c)
}

// replace swaps the client at i in place. An update fires when the same user
// moved their cursor.
func (t *Topic) replace(i int, c protocol.Client) []Notification {
	before := t.Clients
	prev := before[i]
	t.Clients = slices.Clone(before)
	t.Clients[i] = c

	notes := t.diff(before)
	if prev.User.Equal(c.User) && !protocol.CursorEqual(prev.Cursor, c.Cursor) {
		notes = append(notes, Notification{
			Kind:     NotifyUpdate,
			CanvasID: t.CanvasID,
			User:     c.User,
			Cursor:   cloneCursor(c.Cursor),
		})
	}
	return notes
}

// diff compares the set of users before and after a mutation. Joins come in
// roster order, then leaves in the order the users were seen before.
func (t *Topic) diff(before []protocol.Client) []Notification {
	was := userSet(before)
	now := userSet(t.Clients)

	var notes []Notification
	for _, c := range distinctUsers(t.Clients) {
		if !was[c.User.ID] {
			notes = append(notes, Notification{
				Kind:     NotifyJoin,
				CanvasID: t.CanvasID,
				User:     c.User,
				Cursor:   cloneCursor(c.Cursor),
			})
		}
	}
	for _, c := range distinctUsers(before) {
		if !now[c.User.ID] {
			notes = append(notes, Notification{
				Kind:     NotifyLeave,
				CanvasID: t.CanvasID,
				User:     c.User,
			})
		}
	}
	return notes
}

func (t *Topic) indexOf(clientID string) int {
	return slices.IndexFunc(t.Clients, func(c protocol.Client) bool {
		return c.ID == clientID
	})
}

func decodeClient(msg protocol.Message, self protocol.User) (protocol.Client, bool) {
	var rec protocol.ClientRecord
	if err := msg.UnmarshalPayload(&rec); err != nil {
		return protocol.Client{}, false
	}
	c, ok := rec.Client()
	if !ok || c.User.Equal(self) {
		return protocol.Client{}, false
	}
	return c, true
}

// distinctUsers keeps the first client of every user.
func distinctUsers(clients []protocol.Client) []protocol.Client {
	seen := make(map[string]bool, len(clients))
	out := make([]protocol.Client, 0, len(clients))
	for _, c := range clients {
		if seen[c.User.ID] {
			continue
		}
		seen[c.User.ID] = true
		out = append(out, c)
	}
	return out
}

// cloneCursor gives observers their own copy of a stored cursor.
func cloneCursor(c *protocol.Cursor) *protocol.Cursor {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func userSet(clients []protocol.Client) map[string]bool {
	set := make(map[string]bool, len(clients))
	for _, c := range clients {
		set[c.User.ID] = true
	}
	return set
}
