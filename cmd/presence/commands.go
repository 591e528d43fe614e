package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/omochice/canvas-presence/internal/canvasurl"
	"github.com/omochice/canvas-presence/pkg/protocol"
)

const help = `Commands:
  join <canvas>                               join a canvas (id or link)
  leave <canvas>                              leave a canvas
  cursor <canvas> [start_line start end_line end]  move or clear your cursor
  who <canvas>                                list users on a canvas
  topics                                      list joined canvases
  bg | fg                                     simulate background / foreground
  quit                                        leave everything and exit`

var errUsage = errors.New("usage")

// command is one parsed line of interactive input.
type command struct {
	name     string
	canvasID string
	cursor   *protocol.Cursor
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errUsage
	}

	cmd := command{name: strings.ToLower(fields[0])}
	args := fields[1:]

	switch cmd.name {
	case "quit", "exit":
		cmd.name = "quit"
		return cmd, nil
	case "topics", "bg", "fg", "help":
		return cmd, nil
	case "join", "leave", "who":
		if len(args) != 1 {
			return command{}, fmt.Errorf("%w: %s <canvas>", errUsage, cmd.name)
		}
	case "cursor":
		if len(args) != 1 && len(args) != 5 {
			return command{}, fmt.Errorf("%w: cursor <canvas> [start_line start end_line end]", errUsage)
		}
		if len(args) == 5 {
			var n [4]int
			for i, s := range args[1:] {
				v, err := strconv.Atoi(s)
				if err != nil || v < 0 {
					return command{}, fmt.Errorf("invalid cursor position %q", s)
				}
				n[i] = v
			}
			cmd.cursor = &protocol.Cursor{StartLine: n[0], Start: n[1], EndLine: n[2], End: n[3]}
		}
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.name)
	}

	id, ok := canvasurl.Resolve(args[0])
	if !ok {
		return command{}, fmt.Errorf("not a canvas id or link: %q", args[0])
	}
	cmd.canvasID = id
	return cmd, nil
}
