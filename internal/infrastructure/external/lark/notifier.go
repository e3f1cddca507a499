package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/event"
)

// Notifier posts subtask state changes and agent escalations to a Lark chat.
// Implements port.AgentNotifier.
type Notifier struct {
	sender MessageSender
	chatID string
	owner  func(state string) string
	logger *zap.Logger
}

// NotifierOption configures the notifier
type NotifierOption func(*Notifier)

// WithOwner names the agent responsible for a state in the message
func WithOwner(owner func(state string) string) NotifierOption {
	return func(n *Notifier) {
		n.owner = owner
	}
}

// NewNotifier creates a notifier posting into chatID
func NewNotifier(sender MessageSender, chatID string, logger *zap.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		sender: sender,
		chatID: chatID,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyAgent sends a text message announcing the new state
func (n *Notifier) NotifyAgent(ctx context.Context, subtaskID, newState string) error {
	text := fmt.Sprintf("Subtask %s moved to %s", subtaskID, newState)
	if n.owner != nil {
		if agent := n.owner(newState); agent != "" {
			text += fmt.Sprintf(", %s is up", agent)
		}
	}
	return n.sendText(ctx, text)
}

// HandleEvent posts agent questions and blocker escalations as cards
func (n *Notifier) HandleEvent(ctx context.Context, evt *event.Event) error {
	var title, template, body string
	switch evt.Type {
	case event.TypeAgentQuestion:
		title, template = "Agent question", "blue"
		body = evt.GetPayloadString("question")
	case event.TypeBlockerEscalated:
		title, template = "Blocker escalated", "red"
		body = evt.GetPayloadString("blocker")
	default:
		return nil
	}
	if body == "" {
		body = evt.GetPayloadString("text")
	}

	card := map[string]interface{}{
		"config": map[string]interface{}{"wide_screen_mode": true},
		"header": map[string]interface{}{
			"title":    map[string]interface{}{"tag": "plain_text", "content": title},
			"template": template,
		},
		"elements": []interface{}{
			map[string]interface{}{
				"tag": "div",
				"text": map[string]interface{}{
					"tag":     "lark_md",
					"content": fmt.Sprintf("**Subtask:** %s\n**Agent:** %s\n%s", evt.SubtaskID, evt.GetPayloadString("agent"), body),
				},
			},
		},
	}
	return n.sendCard(ctx, card)
}

func (n *Notifier) sendText(ctx context.Context, text string) error {
	if n.chatID == "" {
		return fmt.Errorf("lark chat id is not configured")
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal text content: %w", err)
	}

	if _, err := n.sender.SendMessage(ctx, "chat_id", n.chatID, "text", string(content)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (n *Notifier) sendCard(ctx context.Context, card interface{}) error {
	if n.chatID == "" {
		return fmt.Errorf("lark chat id is not configured")
	}

	cardJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	if _, err := n.sender.SendMessage(ctx, "chat_id", n.chatID, "interactive", string(cardJSON)); err != nil {
		n.logger.Error("Failed to send card message", zap.String("chat_id", n.chatID), zap.Error(err))
		return fmt.Errorf("failed to send card message: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.AgentNotifier = (*Notifier)(nil)
