package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/archivebot/internal/session"
	"github.com/zulandar/archivebot/internal/transport"
	"go.uber.org/zap"
)

// UnrecognizedCommandError is returned for "/"-prefixed text that names no
// known command. The session and record are left untouched.
type UnrecognizedCommandError struct {
	Command string
}

func (e *UnrecognizedCommandError) Error() string {
	return fmt.Sprintf("The command %s is not implemented", e.Command)
}

type command int

const (
	cmdHelp command = iota
	cmdStatus
	cmdCancel
)

var commands = map[string]command{
	"/help":     cmdHelp,
	"/ayuda":    cmdHelp,
	"/start":    cmdHelp,
	"/status":   cmdStatus,
	"/estado":   cmdStatus,
	"/cancel":   cmdCancel,
	"/cancelar": cmdCancel,
}

// parseCommand returns the command word of text when it starts with "/".
// A trailing "@botname" is dropped.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word := strings.Fields(text)[0]
	if at := strings.IndexByte(word, '@'); at > 0 {
		word = word[:at]
	}
	return word, true
}

func (c *Controller) handleCommand(ctx context.Context, key session.Key, word string) error {
	dest := destination(key)
	cmd, ok := commands[strings.ToLower(word)]
	if !ok {
		return &UnrecognizedCommandError{Command: word}
	}
	c.log.Debug("dialogue: command", zap.Stringer("slot", key), zap.String("command", word))

	st := c.sessions.Get(key)
	switch cmd {
	case cmdHelp:
		return c.tr.SendMessage(ctx, dest, helpText())
	case cmdStatus:
		if st.Idle() {
			return c.tr.SendMessage(ctx, dest, msgNothingOpen)
		}
		return c.tr.SendMessage(ctx, dest, statusText(st.Step, st.Record))
	case cmdCancel:
		if st.Idle() {
			return c.tr.SendMessage(ctx, dest, msgNothingOpen)
		}
		return c.discard(ctx, key, st)
	}
	return nil
}

// destination is where replies for a slot go.
func destination(key session.Key) transport.Destination {
	return transport.Destination{ChannelID: key.ChannelID, ThreadID: key.ThreadID}
}
