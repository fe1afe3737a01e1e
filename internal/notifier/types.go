package notifier

import (
	"errors"
	"fmt"
	"time"

	"arxivbot/internal/paper"
	kit "arxivbot/internal/transport"
)

var ErrDeliveryFailed = errors.New("delivery failed")

// Config controls delivery pacing and rendering.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	EnableWebPagePreview bool
	Render               paper.RenderOptions
}

// DeliveryError describes one failed (user, article) delivery.
type DeliveryError struct {
	UserID    int64             `json:"user_id"`
	Topic     string            `json:"topic"`
	ArticleID string            `json:"article_id"`
	Reason    kit.FailureReason `json:"reason"`
	Attempts  int               `json:"attempts"`
	Err       error             `json:"-"`
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s/%s to %d (%s): %v", e.Topic, e.ArticleID, e.UserID, e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// SentInfo is the payload of notifier.sent events.
type SentInfo struct {
	UserID    int64     `json:"user_id"`
	Topic     string    `json:"topic"`
	ArticleID string    `json:"article_id"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// Stats are cumulative since start.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Retries uint64
}
