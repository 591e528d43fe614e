package protocol

// User identifies a participant. Two users are the same person when their IDs
// match; profile fields do not take part in equality.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Equal reports whether u and other identify the same user.
func (u User) Equal(other User) bool {
	return u.ID == other.ID
}

// Cursor is a selection range inside a canvas document.
type Cursor struct {
	StartLine int `json:"start_line"`
	Start     int `json:"start"`
	EndLine   int `json:"end_line"`
	End       int `json:"end"`
}

// CursorEqual compares two optional cursors by value.
func CursorEqual(a, b *Cursor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Meta is the presence metadata attached to a client.
type Meta struct {
	Cursor *Cursor `json:"cursor,omitempty"`
}

// Client is one connection's presence on a topic.
type Client struct {
	ID     string
	User   User
	Cursor *Cursor
}

// ClientRecord is the wire form of a Client.
type ClientRecord struct {
	ID   string `json:"id"`
	User *User  `json:"user"`
	Meta *Meta  `json:"meta,omitempty"`
}

// Client converts the record, reporting false when the id or user is missing.
func (r ClientRecord) Client() (Client, bool) {
	if r.ID == "" || r.User == nil || r.User.ID == "" {
		return Client{}, false
	}
	c := Client{ID: r.ID, User: *r.User}
	if r.Meta != nil && r.Meta.Cursor != nil {
		cursor := *r.Meta.Cursor
		c.Cursor = &cursor
	}
	return c, true
}

// NewClientRecord builds the record describing a client.
func NewClientRecord(c Client) ClientRecord {
	user := c.User
	return ClientRecord{ID: c.ID, User: &user, Meta: &Meta{Cursor: c.Cursor}}
}

// UpdateMetaPayload is the payload of update_meta.
type UpdateMetaPayload struct {
	Cursor *Cursor `json:"cursor,omitempty"`
}

// ReplyPayload is the payload of phx_reply. Clients is nil when the reply
// carries no roster, as for ping and leave acknowledgements.
type ReplyPayload struct {
	Status   string `json:"status,omitempty"`
	Response struct {
		Clients *[]ClientRecord `json:"clients"`
	} `json:"response"`
}

// Empty is the payload of phx_leave and ping.
type Empty struct{}
