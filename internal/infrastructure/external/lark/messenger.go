package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
)

const defaultReceiveIDType = "open_id"

// Messenger implements port.Notifier with Lark IM text messages
type Messenger struct {
	sdk           *SDKClient
	receiveIDType string
	logger        *zap.Logger
}

var _ port.Notifier = (*Messenger)(nil)

// NewMessenger creates a new Lark message sender adapter
func NewMessenger(sdk *SDKClient, receiveIDType string, logger *zap.Logger) *Messenger {
	if receiveIDType == "" {
		receiveIDType = defaultReceiveIDType
	}
	return &Messenger{
		sdk:           sdk,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// NewNotifier returns a Lark messenger, or a notifier that only logs when
// Lark is disabled
func NewNotifier(cfg Config, logger *zap.Logger) port.Notifier {
	if !cfg.Enabled {
		logger.Info("Lark notifications disabled, notifications are logged only")
		return &LogNotifier{logger: logger}
	}
	return NewMessenger(NewSDKClient(cfg, logger), cfg.ReceiveIDType, logger)
}

// Notify sends the notification as a text message
func (m *Messenger) Notify(ctx context.Context, n port.Notification) error {
	if n.RecipientID == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	content, err := textContent(n)
	if err != nil {
		return err
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(m.receiveIDType).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.RecipientID).
			MsgType("text").
			Content(content).
			Build()).
		Build()

	resp, err := m.sdk.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", n.RecipientID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", n.RecipientID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", n.RecipientID))

	return nil
}

// textContent builds the JSON content of a Lark text message
func textContent(n port.Notification) (string, error) {
	text := n.Content
	if n.Title != "" {
		text = n.Title + "\n" + n.Content
	}
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}
	return string(data), nil
}

// LogNotifier writes notifications to the log instead of sending them
type LogNotifier struct {
	logger *zap.Logger
}

// Notify logs n
func (l *LogNotifier) Notify(ctx context.Context, n port.Notification) error {
	l.logger.Info("Notification",
		zap.String("recipient_id", n.RecipientID),
		zap.String("title", n.Title),
		zap.String("content", n.Content))
	return nil
}
