// Package slack implements a ChannelAdapter over the Slack Web API for
// sessions whose sessionId is a Slack channel or user ID.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/bobmcallan/gatewayd/internal/common"
)

// Adapter implements interfaces.ChannelAdapter by posting messages and
// uploading files through a Slack bot token.
type Adapter struct {
	client *slack.Client
	logger *common.Logger
}

// NewAdapter constructs an Adapter bound to the given bot token.
func NewAdapter(botToken string, logger *common.Logger) *Adapter {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Adapter{
		client: slack.New(botToken),
		logger: logger,
	}
}

// SendText implements interfaces.ChannelAdapter. sessionID is treated as the
// destination Slack channel or user ID.
func (a *Adapter) SendText(ctx context.Context, sessionID, text string) error {
	_, _, err := a.client.PostMessageContext(ctx, sessionID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post message failed: %w", err)
	}
	a.logger.Debug().Str("channel", sessionID).Msg("delivered slack text message")
	return nil
}

// SendFile implements interfaces.ChannelAdapter, uploading a local file to
// the destination channel.
func (a *Adapter) SendFile(ctx context.Context, sessionID, filePath string, fileName, mimeType, caption string) error {
	_, err := a.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:        sessionID,
		File:           filePath,
		Filename:       fileName,
		InitialComment: caption,
	})
	if err != nil {
		return fmt.Errorf("slack file upload failed: %w", err)
	}
	a.logger.Debug().Str("channel", sessionID).Str("file", fileName).Msg("delivered slack file")
	return nil
}
