package adapter

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "arxivbot/internal/transport"
)

// classifySendError maps telebot failures onto transport reasons.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.SendError{Reason: kit.ReasonFlood, RetryAfter: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return &kit.SendError{Reason: kit.ReasonFlood, RetryAfter: time.Duration(floodPtr.RetryAfter) * time.Second, Err: err}
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser), errors.Is(err, tele.ErrUserIsDeactivated):
		return &kit.SendError{Reason: kit.ReasonBlocked, Err: err}
	case errors.Is(err, tele.ErrChatNotFound):
		return &kit.SendError{Reason: kit.ReasonNotFound, Err: err}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		switch apiErr.Code {
		case 403:
			return &kit.SendError{Reason: kit.ReasonBlocked, Err: err}
		case 429:
			return &kit.SendError{Reason: kit.ReasonFlood, Err: err}
		}
	}

	// Fallback on the API description for errors telebot does not map.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "blocked by the user"), strings.Contains(msg, "user is deactivated"),
		strings.Contains(msg, "bot can't initiate conversation"), strings.Contains(msg, "forbidden"):
		return &kit.SendError{Reason: kit.ReasonBlocked, Err: err}
	case strings.Contains(msg, "chat not found"):
		return &kit.SendError{Reason: kit.ReasonNotFound, Err: err}
	case strings.Contains(msg, "too many requests"):
		return &kit.SendError{Reason: kit.ReasonFlood, Err: err}
	}
	return &kit.SendError{Reason: kit.ReasonTransport, Err: err}
}
