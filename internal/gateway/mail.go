package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/app"
)

// LogMailGateway records outbound mail instead of sending it. Production
// deployments swap in a provider-backed implementation behind the same
// interface.
type LogMailGateway struct {
	log *logrus.Logger
}

func NewLogMailGateway(log *logrus.Logger) *LogMailGateway {
	return &LogMailGateway{log: log}
}

func (g *LogMailGateway) SendEmail(ctx context.Context, msg app.EmailMessage) (string, error) {
	messageID := uuid.NewString()
	g.log.WithFields(logrus.Fields{
		"to":        msg.To,
		"subject":   msg.Subject,
		"messageId": messageID,
	}).Info("email dispatched")
	return messageID, nil
}
