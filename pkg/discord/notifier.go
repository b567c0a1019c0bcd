package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/services"
)

// staffNotifier posts operational messages to the staff log channel.
// Delivery is best effort; failures are logged and swallowed.
type staffNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewStaffNotifier creates a notifier posting to the given channel. An
// empty channel id disables notifications.
func NewStaffNotifier(session *discordgo.Session, channelID string, logger *zap.Logger) services.Notifier {
	if channelID == "" {
		return services.NopNotifier{}
	}
	return &staffNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger.Named("staff-log"),
	}
}

var _ services.Notifier = (*staffNotifier)(nil)

func (n *staffNotifier) Notify(_ context.Context, message string) {
	if _, err := n.session.ChannelMessageSend(n.channelID, message); err != nil {
		n.logger.Warn("failed to send staff log message", zap.Error(err))
	}
}
