package main

import (
	"bytes"
	"testing"

	"github.com/omochice/canvas-presence/pkg/protocol"
)

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}

	alice := protocol.User{ID: "u1", Username: "alice"}
	p.OnJoin("c1", alice, nil)
	p.OnUpdate("c1", alice, &protocol.Cursor{StartLine: 1, Start: 2, EndLine: 3, End: 4})
	p.OnLeave("c1", protocol.User{ID: "u2"})

	want := "*** alice joined c1 ***\n" +
		"[c1] alice at 1:2-3:4\n" +
		"*** u2 left c1 ***\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
