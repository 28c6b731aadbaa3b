// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model is a chat model whose replies come from Reply. Every call records the
// prompt it received.
type Model struct {
	// Reply produces the assistant text for a prompt. Nil echoes "ok".
	Reply func(ctx context.Context, input []*schema.Message) (string, error)

	mu    sync.Mutex
	calls [][]*schema.Message
}

// Text returns a model that always replies with text.
func Text(text string) *Model {
	return &Model{Reply: func(context.Context, []*schema.Message) (string, error) { return text, nil }}
}

// Failing returns a model that always fails with err.
func Failing(err error) *Model {
	return &Model{Reply: func(context.Context, []*schema.Message) (string, error) { return "", err }}
}

// Blocking returns a model that waits for ctx to end.
func Blocking() *Model {
	return &Model{Reply: func(ctx context.Context, _ []*schema.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.mu.Unlock()

	if m.Reply == nil {
		return schema.AssistantMessage("ok", nil), nil
	}
	text, err := m.Reply(ctx, input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *Model) BindTools([]*schema.ToolInfo) error {
	return nil
}

// Calls returns the prompts received so far.
func (m *Model) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

// LastCall returns the most recent prompt, or nil.
func (m *Model) LastCall() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

var _ model.ChatModel = (*Model)(nil)
