package bot

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	kit "arxivbot/internal/transport"
	logx "arxivbot/pkg/logx"
)

// Request is one routed update.
type Request struct {
	Kind    kit.UpdateKind
	Chat    kit.ChatTarget
	FromID  int64
	Name    string // sender first name, messages only
	Command string // "subscribe", "menu:main", ...
	Args    string // free text after the command, whitespace-normalized

	// Callback-only fields.
	CallbackID string
	MessageID  int
	Payload    string

	ReqID  string
	Logger logx.Logger
}

// Ref points at the message a callback was pressed on.
func (r *Request) Ref() kit.MessageRef {
	return kit.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.MessageID}
}

// parseCommand splits "/cmd@bot rest of line" into ("cmd", "rest of line").
// ok is false for text that is not a command.
func parseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", "", false
	}
	return word, strings.Join(strings.Fields(rest), " "), true
}

var ridSeq atomic.Uint64

// newReqID is short-ish: base36 timestamp + sequence.
func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36)
}

func logTopic(topic string) logx.Field { return logx.String("topic", topic) }
