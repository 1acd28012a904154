// Package teletest builds tele.Context values for handler tests without
// talking to the Bot API. Contexts come from an offline bot; outbound calls
// are recorded instead of sent.
package teletest

import (
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"
)

var (
	offlineOnce sync.Once
	offline     *tele.Bot
)

// Bot returns a shared offline bot.
func Bot() *tele.Bot {
	offlineOnce.Do(func() {
		b, err := tele.NewBot(tele.Settings{Offline: true})
		if err != nil {
			panic("teletest: offline bot: " + err.Error())
		}
		offline = b
	})
	return offline
}

// Sent is one recorded outbound call.
type Sent struct {
	Method string
	What   any
	Opts   []any
}

// Text returns the message text when What is a string.
func (s Sent) Text() string {
	t, _ := s.What.(string)
	return t
}

// Markup returns the reply markup passed with the call, if any.
func (s Sent) Markup() *tele.ReplyMarkup {
	for _, o := range s.Opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			return v
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return v.ReplyMarkup
			}
		}
	}
	return nil
}

// Context records Send, Edit, EditOrSend and Respond.
type Context struct {
	tele.Context

	mu        sync.Mutex
	sent      []Sent
	responses []*tele.CallbackResponse

	// SendErr, when set, is returned by every send method.
	SendErr error
}

// NewContext wraps upd in a recording context.
func NewContext(upd tele.Update) *Context {
	return &Context{Context: Bot().NewContext(upd)}
}

func (c *Context) record(method string, what any, opts []any) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, Sent{Method: method, What: what, Opts: opts})
	c.mu.Unlock()
	return nil
}

// Send implements tele.Context.
func (c *Context) Send(what interface{}, opts ...interface{}) error {
	return c.record("send", what, opts)
}

// Edit implements tele.Context.
func (c *Context) Edit(what interface{}, opts ...interface{}) error {
	return c.record("edit", what, opts)
}

// EditOrSend implements tele.Context.
func (c *Context) EditOrSend(what interface{}, opts ...interface{}) error {
	return c.record("edit", what, opts)
}

// Respond implements tele.Context.
func (c *Context) Respond(resp ...*tele.CallbackResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(resp) == 0 {
		c.responses = append(c.responses, &tele.CallbackResponse{})
		return nil
	}
	c.responses = append(c.responses, resp...)
	return nil
}

// Sent returns a copy of the recorded calls.
func (c *Context) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Texts returns the text of every recorded call.
func (c *Context) Texts() []string {
	var out []string
	for _, s := range c.Sent() {
		out = append(out, s.Text())
	}
	return out
}

// LastText returns the text of the last recorded call, or "".
func (c *Context) LastText() string {
	sent := c.Sent()
	if len(sent) == 0 {
		return ""
	}
	return sent[len(sent)-1].Text()
}

// Saw reports whether any recorded text contains substr.
func (c *Context) Saw(substr string) bool {
	for _, t := range c.Texts() {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

// Responses returns the recorded callback answers.
func (c *Context) Responses() []*tele.CallbackResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*tele.CallbackResponse(nil), c.responses...)
}

// Reset clears recorded calls.
func (c *Context) Reset() {
	c.mu.Lock()
	c.sent, c.responses = nil, nil
	c.mu.Unlock()
}

var updateSeq struct {
	sync.Mutex
	n int
}

func nextID() int {
	updateSeq.Lock()
	defer updateSeq.Unlock()
	updateSeq.n++
	return updateSeq.n
}

// Chat builds a chat of the given type. Negative ids are conventional for groups.
func Chat(id int64, typ tele.ChatType) *tele.Chat {
	return &tele.Chat{ID: id, Type: typ, Title: "chat"}
}

// User builds a sender.
func User(id int64) *tele.User {
	return &tele.User{ID: id, FirstName: "User", Username: "user"}
}

// Message builds a text message update.
func Message(chat *tele.Chat, from *tele.User, text string) tele.Update {
	return tele.Update{
		ID:      nextID(),
		Message: &tele.Message{ID: nextID(), Chat: chat, Sender: from, Text: text},
	}
}

// Photo builds a photo message update carrying fileID.
func Photo(chat *tele.Chat, from *tele.User, fileID string) tele.Update {
	return tele.Update{
		ID: nextID(),
		Message: &tele.Message{
			ID:     nextID(),
			Chat:   chat,
			Sender: from,
			Photo:  &tele.Photo{File: tele.File{FileID: fileID}},
		},
	}
}

// Callback builds a button press update with the \f<unique>|<payload> encoding.
func Callback(chat *tele.Chat, from *tele.User, unique, payload string) tele.Update {
	data := "\f" + unique
	if payload != "" {
		data += "|" + payload
	}
	return tele.Update{
		ID: nextID(),
		Callback: &tele.Callback{
			ID:      "cb",
			Sender:  from,
			Data:    data,
			Message: &tele.Message{ID: nextID(), Chat: chat},
		},
	}
}
