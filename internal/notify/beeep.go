package notify

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

// BeeepSender shows desktop notifications via the OS notification service.
type BeeepSender struct {
	logger *slog.Logger
}

func NewBeeepSender(logger *slog.Logger) *BeeepSender {
	return &BeeepSender{logger: logger}
}

func (s *BeeepSender) Send(payload Payload) {
	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return
	}
	if err := beeep.Notify(title, content, ""); err != nil {
		s.logger.Warn("desktop notification failed", "error", err)
	}
}
