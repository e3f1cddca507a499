package lark

import (
	"context"
	"fmt"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// MessageSender posts a message to a Lark receiver
type MessageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// MessageAPI handles Lark messaging operations
type MessageAPI struct {
	client *SDKClient
	logger *zap.Logger
}

// NewMessageAPI creates a new message API handler
func NewMessageAPI(client *SDKClient, logger *zap.Logger) *MessageAPI {
	return &MessageAPI{
		client: client,
		logger: logger,
	}
}

// SendMessage sends a message to a user or group
func (m *MessageAPI) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := m.client.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Debug("Message sent",
		zap.String("message_id", messageID),
		zap.String("receive_id", receiveID))

	return messageID, nil
}

var _ MessageSender = (*MessageAPI)(nil)
