package telegram

import (
	"strconv"

	"github.com/zulandar/archivebot/internal/transport"
)

// update mirrors the subset of the Bot API Update object the bot reads.
type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID       int64  `json:"message_id"`
	MessageThreadID int64  `json:"message_thread_id"`
	Chat            chat   `json:"chat"`
	From            *user  `json:"from"`
	Text            string `json:"text"`
	Voice           *voice `json:"voice"`
}

type chat struct {
	ID int64 `json:"id"`
}

type user struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type voice struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Duration     int    `json:"duration"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    *user    `json:"from"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// event converts u into a transport event. Telegram reports "no thread"
// as a missing or zero message_thread_id.
func (u update) event() transport.Event {
	ev := transport.Event{Sequence: u.UpdateID}
	switch {
	case u.Message != nil:
		m := u.Message
		ev.ChannelID = strconv.FormatInt(m.Chat.ID, 10)
		ev.ThreadID = threadID(m.MessageThreadID)
		ev.MessageID = strconv.FormatInt(m.MessageID, 10)
		ev.UserName = m.From.name()
		ev.Text = m.Text
		if m.Voice != nil {
			ev.Voice = &transport.Voice{
				FileID:       m.Voice.FileID,
				FileUniqueID: m.Voice.FileUniqueID,
				Duration:     m.Voice.Duration,
				MimeType:     m.Voice.MimeType,
				FileSize:     m.Voice.FileSize,
			}
		}
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		ev.UserName = q.From.name()
		ev.Callback = &transport.Callback{ID: q.ID, Data: q.Data}
		if q.Message != nil {
			ev.ChannelID = strconv.FormatInt(q.Message.Chat.ID, 10)
			ev.ThreadID = threadID(q.Message.MessageThreadID)
			ev.MessageID = strconv.FormatInt(q.Message.MessageID, 10)
		}
	}
	return ev
}

func (u *user) name() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

func threadID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
