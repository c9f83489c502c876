package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/abby/backend/internal/model/chat"
	"github.com/zhouzirui/abby/backend/internal/model/persona"
	"github.com/zhouzirui/abby/backend/pkg/log"
)

var (
	ErrEmptyReply    = errors.New("ai: empty model reply")
	ErrNotConfigured = errors.New("ai: no chat model configured")
)

// Chat is one running conversation with the model.
type Chat interface {
	// Send returns the reply to text. History only grows on success.
	Send(ctx context.Context, text string) (string, error)
	// Stream is Send with incremental deltas.
	Stream(ctx context.Context, text string, onDelta func(string)) (string, error)
}

// ChatFactory starts chats seeded with prior history.
type ChatFactory interface {
	StartChat(p persona.Persona, history []chat.Message) Chat
}

// Options tunes a Service.
type Options struct {
	Logger log.Logger
}

// Service runs the therapist prompt chain on a chat model.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger log.Logger
}

// NewService compiles the prompt chain for chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, ErrNotConfigured
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chain: runnable, logger: logger}, nil
}

// StartChat seeds a chat with history. Leading bot messages, such as the
// greeting, are skipped so the model context opens with a user turn.
func (s *Service) StartChat(p persona.Persona, history []chat.Message) Chat {
	return &conversation{
		svc:     s,
		persona: p,
		system:  BuildSystemPrompt(p),
		history: HistoryMessages(history),
	}
}

// HistoryMessages converts stored messages to model turns.
func HistoryMessages(messages []chat.Message) []*schema.Message {
	trimmed := chat.TrimLeadingBot(messages)
	out := make([]*schema.Message, 0, len(trimmed))
	for _, m := range trimmed {
		switch m.Role {
		case chat.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case chat.RoleBot:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}

type conversation struct {
	svc     *Service
	persona persona.Persona
	system  string

	mu      sync.Mutex
	history []*schema.Message
}

func (c *conversation) input(text string) map[string]any {
	c.mu.Lock()
	history := make([]*schema.Message, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	return map[string]any{
		"system":  c.system,
		"history": history,
		"query":   text,
	}
}

func (c *conversation) record(text, reply string) {
	c.mu.Lock()
	c.history = append(c.history, schema.UserMessage(text), schema.AssistantMessage(reply, nil))
	c.mu.Unlock()
}

func (c *conversation) Send(ctx context.Context, text string) (string, error) {
	out, err := c.svc.chain.Invoke(ctx, c.input(text))
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	reply := strings.TrimSpace(out.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	c.record(text, reply)
	c.svc.logger.Debugf(ctx, "[ai] reply for therapist=%s length=%d", c.persona.Name, len(reply))
	return reply, nil
}

func (c *conversation) Stream(ctx context.Context, text string, onDelta func(string)) (string, error) {
	stream, err := c.svc.chain.Stream(ctx, c.input(text))
	if err != nil {
		return "", fmt.Errorf("failed to stream chat chain: %w", err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read chat stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			onDelta(chunk.Content)
		}
	}
	if len(chunks) == 0 {
		return "", ErrEmptyReply
	}

	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("failed to merge chat stream: %w", err)
	}
	reply := strings.TrimSpace(full.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	c.record(text, reply)
	return reply, nil
}

// Unavailable is the ChatFactory used when no model is configured. Every
// send fails with ErrNotConfigured.
type Unavailable struct{}

func (Unavailable) StartChat(persona.Persona, []chat.Message) Chat {
	return unavailableChat{}
}

type unavailableChat struct{}

func (unavailableChat) Send(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

func (unavailableChat) Stream(context.Context, string, func(string)) (string, error) {
	return "", ErrNotConfigured
}
