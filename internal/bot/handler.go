package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"arxivbot/internal/dispatch"
	"arxivbot/internal/paper"
	rtsup "arxivbot/internal/runtime/supervisor"
	"arxivbot/internal/storage"
	kit "arxivbot/internal/transport"
	logx "arxivbot/pkg/logx"
	"arxivbot/pkg/tgui"
)

// Settings are hot-reloadable.
type Settings struct {
	TestWindow     time.Duration
	MaxTestResults int
	Render         paper.RenderOptions
	EnablePreview  bool
	HandlerTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		TestWindow:     7 * 24 * time.Hour,
		MaxTestResults: 3,
		Render:         paper.DefaultRenderOptions(),
		HandlerTimeout: 60 * time.Second,
	}
}

type route struct {
	description string
	handle      HandlerFunc
}

// Handler routes Telegram updates to command and callback handlers.
type Handler struct {
	log     logx.Logger
	adapter kit.Adapter
	store   storage.Subscriptions
	search  dispatch.Gateway
	clock   dispatch.Clock
	workers int

	settings atomic.Pointer[Settings]

	commands  map[string]route
	callbacks map[string]HandlerFunc // "ns:action" -> handler

	jobs chan func()
}

type Option func(*Handler)

func WithClock(c dispatch.Clock) Option { return func(h *Handler) { h.clock = c } }
func WithWorkers(n int) Option          { return func(h *Handler) { h.workers = n } }
func WithSettings(s Settings) Option    { return func(h *Handler) { h.Apply(s) } }

func New(adapter kit.Adapter, store storage.Subscriptions, search dispatch.Gateway, log logx.Logger, opts ...Option) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{
		log:     log.With(logx.String("comp", "bot")),
		adapter: adapter,
		store:   store,
		search:  search,
		clock:   dispatch.SystemClock(),
		workers: 4,
		jobs:    make(chan func(), 256),
	}
	h.Apply(DefaultSettings())
	for _, o := range opts {
		o(h)
	}
	if h.workers <= 0 {
		h.workers = 1
	}
	h.register()
	return h
}

func (h *Handler) Apply(s Settings) {
	def := DefaultSettings()
	if s.TestWindow <= 0 {
		s.TestWindow = def.TestWindow
	}
	if s.MaxTestResults <= 0 {
		s.MaxTestResults = def.MaxTestResults
	}
	if s.Render.MaxAuthors <= 0 {
		s.Render.MaxAuthors = def.Render.MaxAuthors
	}
	if s.Render.MaxAbstract <= 0 {
		s.Render.MaxAbstract = def.Render.MaxAbstract
	}
	if s.HandlerTimeout < 0 {
		s.HandlerTimeout = 0
	}
	h.settings.Store(&s)
}

func (h *Handler) Settings() Settings { return *h.settings.Load() }

func (h *Handler) register() {
	h.commands = map[string]route{
		"start":           {"show the welcome message and menu", h.cmdStart},
		"help":            {"how to use this bot", h.cmdHelp},
		"subscribe":       {"subscribe to a keyword or category", h.cmdSubscribe},
		"unsubscribe":     {"remove a subscription", h.cmdUnsubscribe},
		"mysubscriptions": {"list and manage your subscriptions", h.cmdMySubscriptions},
		"categories":      {"browse popular arXiv categories", h.cmdCategories},
		"test":            {"preview recent papers for a topic", h.cmdTest},
	}
	h.callbacks = map[string]HandlerFunc{
		"menu:main":       h.cbMainMenu,
		"menu:categories": h.cbCategories,
		"menu:subs":       h.cbSubscriptions,
		"menu:help":       h.cbHelp,
		"cat:sub":         h.cbCategorySubscribe,
		"cat:unsub":       h.cbCategoryUnsubscribe,
		"sub:del":         h.cbUnsubscribe,
		"sub:delh":        h.cbUnsubscribe,
	}
}

// Commands lists the bot commands in menu order.
func (h *Handler) Commands() []kit.BotCommand {
	order := []string{"start", "subscribe", "unsubscribe", "mysubscriptions", "categories", "test", "help"}
	out := make([]kit.BotCommand, 0, len(order))
	for _, name := range order {
		out = append(out, kit.BotCommand{Command: name, Description: h.commands[name].description})
	}
	return out
}

// SyncMenu publishes the command list when the adapter supports it.
func (h *Handler) SyncMenu(ctx context.Context) error {
	up, ok := h.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, h.Commands())
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (h *Handler) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case h.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (h *Handler) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(h.log),
		rtsup.WithCancelOnError(false),
	)
	h.log.Info("update dispatcher started", logx.Int("workers", h.workers), logx.Int("job_queue_cap", cap(h.jobs)))

	for i := 0; i < h.workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-h.jobs:
					if !ok {
						return nil
					}
					// Middleware already recovers; keep the worker alive regardless.
					func() {
						defer func() {
							if r := recover(); r != nil {
								h.log.Error("panic in update job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		close(h.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		h.log.Info("update dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			h.route(ctx, up)
		}
	}
}

func (h *Handler) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if req, fn := h.matchMessage(up.Message); fn != nil {
			h.enqueue(ctx, req, fn)
		}
	case kit.UpdateCallback:
		if req, fn := h.matchCallback(up.Callback); fn != nil {
			h.enqueue(ctx, req, func(c context.Context, r *Request) error {
				err := fn(c, r)
				// stop the button's loading spinner
				_ = h.adapter.AnswerCallback(c, r.CallbackID, "")
				return err
			})
		}
	}
}

func (h *Handler) matchMessage(msg *kit.Message) (*Request, HandlerFunc) {
	if msg == nil {
		return nil, nil
	}
	req := &Request{
		Kind:   kit.UpdateMessage,
		Chat:   kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID: msg.FromID,
		Name:   msg.FromFirstName,
	}
	text := strings.TrimSpace(msg.Text)
	if text == MenuButton {
		req.Command = "menu"
		return req, h.cmdMenu
	}
	cmd, args, ok := parseCommand(text)
	if !ok {
		return nil, nil
	}
	req.Command, req.Args = cmd, args
	if r, ok := h.commands[cmd]; ok {
		return req, r.handle
	}
	return req, h.cmdUnknown
}

func (h *Handler) matchCallback(cb *kit.Callback) (*Request, HandlerFunc) {
	if cb == nil {
		return nil, nil
	}
	ns, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		return nil, nil
	}
	fn := h.callbacks[ns+":"+action]
	if fn == nil {
		return nil, nil
	}
	return &Request{
		Kind:       kit.UpdateCallback,
		Chat:       kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:     cb.FromID,
		Command:    ns + ":" + action,
		CallbackID: cb.ID,
		MessageID:  cb.MessageID,
		Payload:    payload,
	}, fn
}

func (h *Handler) enqueue(ctx context.Context, req *Request, fn HandlerFunc) {
	req.ReqID = newReqID()
	req.Logger = h.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
	final := Chain(fn,
		MWPanicRecover(h.log),
		MWRequestLog(h.log),
		MWTimeout(h.Settings().HandlerTimeout),
	)
	if !h.tryEnqueue(func() { _ = final(ctx, req) }) {
		if req.Kind == kit.UpdateCallback {
			_ = h.adapter.AnswerCallback(ctx, req.CallbackID, "busy, try again")
			return
		}
		_, _ = textView("Busy right now, please try again in a moment.").Send(ctx, h.adapter, req.Chat)
	}
}
