package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// FirstMessageID is the id of the first message a FakePlatform sends.
const FirstMessageID = 1000

// Call is one recorded outbound action.
type Call struct {
	Op        string `yaml:"op"`
	ChatID    int64  `yaml:"chat_id"`
	MessageID int64  `yaml:"message_id"`
	ReplyTo   int64  `yaml:"reply_to,omitempty"`
	Text      string `yaml:"text,omitempty"`
}

// Message is a message the bot currently has on display.
type Message struct {
	ChatID  int64  `yaml:"chat_id"`
	ID      int64  `yaml:"id"`
	ReplyTo int64  `yaml:"reply_to,omitempty"`
	Text    string `yaml:"text"`
}

type msgKey struct {
	chat, id int64
}

// FakePlatform is an in-memory messaging platform.
//
// It assigns increasing message ids starting at FirstMessageID, records
// every call, and mirrors the real platform's edit/delete semantics: acting
// on a message that no longer exists succeeds.
type FakePlatform struct {
	mu       sync.Mutex
	nextID   int64
	messages map[msgKey]Message
	calls    []Call
	failNext map[string][]error
	failAll  map[string]error
}

// NewFakePlatform creates an empty platform.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		nextID:   FirstMessageID,
		messages: make(map[msgKey]Message),
		failNext: make(map[string][]error),
		failAll:  make(map[string]error),
	}
}

// FailNext makes the next call of op ("send", "edit", "delete") fail with err.
// Repeated calls queue further failures.
func (p *FakePlatform) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = append(p.failNext[op], err)
}

// FailAlways makes every call of op fail with err until cleared with a nil err.
func (p *FakePlatform) FailAlways(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failAll, op)
		return
	}
	p.failAll[op] = err
}

func (p *FakePlatform) failure(op string) error {
	if errs := p.failNext[op]; len(errs) > 0 {
		p.failNext[op] = errs[1:]
		return errs[0]
	}
	return p.failAll[op]
}

// Send posts a message.
func (p *FakePlatform) Send(ctx context.Context, chatID, replyTo int64, text string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "send", ChatID: chatID, ReplyTo: replyTo, Text: text})
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := p.failure("send"); err != nil {
		return 0, err
	}
	id := p.nextID
	p.nextID++
	p.calls[len(p.calls)-1].MessageID = id
	p.messages[msgKey{chatID, id}] = Message{ChatID: chatID, ID: id, ReplyTo: replyTo, Text: text}
	return id, nil
}

// Edit replaces a message's text.
func (p *FakePlatform) Edit(ctx context.Context, chatID, messageID int64, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.failure("edit"); err != nil {
		return err
	}
	key := msgKey{chatID, messageID}
	if m, ok := p.messages[key]; ok {
		m.Text = text
		p.messages[key] = m
	}
	return nil
}

// Delete removes a message.
func (p *FakePlatform) Delete(ctx context.Context, chatID, messageID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "delete", ChatID: chatID, MessageID: messageID})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.failure("delete"); err != nil {
		return err
	}
	delete(p.messages, msgKey{chatID, messageID})
	return nil
}

// RemoveExternally deletes a message as if a chat admin had removed it.
// The call is not recorded.
func (p *FakePlatform) RemoveExternally(chatID, messageID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.messages, msgKey{chatID, messageID})
}

// Calls returns every recorded call in order.
func (p *FakePlatform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Count returns how many times op was called.
func (p *FakePlatform) Count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Message returns a displayed message.
func (p *FakePlatform) Message(chatID, messageID int64) (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.messages[msgKey{chatID, messageID}]
	return m, ok
}

// Messages returns every displayed message ordered by chat, then id.
func (p *FakePlatform) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ReplyTo returns the displayed reply to a command message.
func (p *FakePlatform) ReplyTo(chatID, commandID int64) (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var found []Message
	for _, m := range p.messages {
		if m.ChatID == chatID && m.ReplyTo == commandID {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return Message{}, fmt.Errorf("no reply to %d/%d", chatID, commandID)
	case 1:
		return found[0], nil
	default:
		return Message{}, fmt.Errorf("%d replies to %d/%d", len(found), chatID, commandID)
	}
}
