package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"arxivbot/internal/paper"
	"arxivbot/internal/storage"
	kit "arxivbot/internal/transport"
	"arxivbot/pkg/tgui"
)

func (h *Handler) reply(ctx context.Context, req *Request, m tgui.Message) error {
	_, err := m.Send(ctx, h.adapter, req.Chat)
	return err
}

func (h *Handler) failed(ctx context.Context, req *Request, err error) error {
	_ = h.reply(ctx, req, textView("Sorry, something went wrong. Please try again later."))
	return err
}

func (h *Handler) cmdStart(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, welcomeView(req.Name))
}

func (h *Handler) cmdMenu(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, mainMenuView())
}

func (h *Handler) cmdHelp(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, helpView())
}

func (h *Handler) cmdUnknown(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, textView("Unknown command. Try /help"))
}

func (h *Handler) cmdSubscribe(ctx context.Context, req *Request) error {
	t, err := paper.ParseTopic(req.Args)
	switch {
	case errors.Is(err, paper.ErrEmptyTopic):
		return h.reply(ctx, req, usageView("Please provide a topic to subscribe to. Examples:",
			"/subscribe machine learning", "/subscribe cs.AI", "/subscribe natural language processing"))
	case errors.Is(err, paper.ErrTopicTooLong):
		return h.reply(ctx, req, textView(fmt.Sprintf("Topics are limited to %d characters.", paper.MaxTopicLen)))
	}

	err = h.store.AddSubscription(ctx, paper.Subscription{UserID: req.FromID, Topic: t.Name, Kind: t.Kind, CreatedAt: h.clock.Now()})
	switch {
	case errors.Is(err, storage.ErrAlreadySubscribed):
		return h.reply(ctx, req, htmlView(tgui.Raw("You are already subscribed to "+tgui.B(t.Name).String()+".")))
	case err != nil:
		return h.failed(ctx, req, err)
	}
	req.Logger.Info("subscribed", logTopic(t.Name))
	return h.reply(ctx, req, subscribedView(t))
}

func (h *Handler) cmdUnsubscribe(ctx context.Context, req *Request) error {
	topic := paper.NormalizeTopic(req.Args)
	if topic == "" {
		return h.reply(ctx, req, usageView("Please provide a topic to unsubscribe from. Example:", "/unsubscribe cs.AI"))
	}
	err := h.store.RemoveSubscription(ctx, req.FromID, topic)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return h.reply(ctx, req, htmlView(tgui.Raw("You are not subscribed to "+tgui.B(topic).String()+".")))
	case err != nil:
		return h.failed(ctx, req, err)
	}
	req.Logger.Info("unsubscribed", logTopic(topic))
	return h.reply(ctx, req, htmlView(tgui.Raw("🗑️ Unsubscribed from "+tgui.B(topic).String()+".")))
}

func (h *Handler) cmdMySubscriptions(ctx context.Context, req *Request) error {
	subs, err := h.store.ListSubscriptions(ctx, req.FromID)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	return h.reply(ctx, req, subscriptionsView(subs))
}

func (h *Handler) cmdCategories(ctx context.Context, req *Request) error {
	set, err := h.subscribedSet(ctx, req.FromID)
	if err != nil {
		return h.failed(ctx, req, err)
	}
	return h.reply(ctx, req, categoriesView(set))
}

// cmdTest previews the newest papers for a topic without subscribing.
func (h *Handler) cmdTest(ctx context.Context, req *Request) error {
	t, err := paper.ParseTopic(req.Args)
	if err != nil {
		return h.reply(ctx, req, usageView("Please provide a topic to test. Example:", "/test machine learning"))
	}
	set := h.Settings()
	_ = h.reply(ctx, req, htmlView(tgui.Raw("🔍 Searching for recent papers on "+tgui.B(t.Name).String()+"...")))

	now := h.clock.Now()
	articles, err := h.search.Search(ctx, paper.Query{Topic: t, MaxResults: set.MaxTestResults}, now.Add(-set.TestWindow), now)
	if err != nil {
		_ = h.reply(ctx, req, textView("Sorry, there was an error searching for papers. Please try again later."))
		return err
	}
	if len(articles) == 0 {
		days := int(set.TestWindow.Hours() / 24)
		return h.reply(ctx, req, tgui.New().
			HTML(tgui.Raw(fmt.Sprintf("No recent papers found for %s in the last %d days.", tgui.B(t.Name), days))).
			Line("Try a different topic or check if it's a valid arXiv category.").
			Build())
	}

	// newest first, capped
	slices.SortStableFunc(articles, func(a, b paper.Article) int { return b.PublishedAt.Compare(a.PublishedAt) })
	if len(articles) > set.MaxTestResults {
		articles = articles[:set.MaxTestResults]
	}
	text := paper.RenderDigest(t.Name, articles, set.Render)
	_, err = h.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: !set.EnablePreview})
	return err
}

func (h *Handler) cbMainMenu(ctx context.Context, req *Request) error {
	return mainMenuView().Edit(ctx, h.adapter, req.Ref())
}

func (h *Handler) cbHelp(ctx context.Context, req *Request) error {
	return helpView().Edit(ctx, h.adapter, req.Ref())
}

func (h *Handler) cbCategories(ctx context.Context, req *Request) error {
	set, err := h.subscribedSet(ctx, req.FromID)
	if err != nil {
		return err
	}
	return categoriesView(set).Edit(ctx, h.adapter, req.Ref())
}

func (h *Handler) cbSubscriptions(ctx context.Context, req *Request) error {
	subs, err := h.store.ListSubscriptions(ctx, req.FromID)
	if err != nil {
		return err
	}
	return subscriptionsView(subs).Edit(ctx, h.adapter, req.Ref())
}

func (h *Handler) cbCategorySubscribe(ctx context.Context, req *Request) error {
	t, err := paper.ParseTopic(req.Payload)
	if err != nil {
		return nil
	}
	err = h.store.AddSubscription(ctx, paper.Subscription{UserID: req.FromID, Topic: t.Name, Kind: t.Kind, CreatedAt: h.clock.Now()})
	if err != nil && !errors.Is(err, storage.ErrAlreadySubscribed) {
		return err
	}
	_ = h.adapter.AnswerCallback(ctx, req.CallbackID, "✅ Subscribed to "+t.Name)
	return h.cbCategories(ctx, req)
}

func (h *Handler) cbCategoryUnsubscribe(ctx context.Context, req *Request) error {
	if err := h.remove(ctx, req, paper.NormalizeTopic(req.Payload)); err != nil {
		return err
	}
	return h.cbCategories(ctx, req)
}

func (h *Handler) cbUnsubscribe(ctx context.Context, req *Request) error {
	topic := paper.NormalizeTopic(req.Payload)
	if req.Command == "sub:delh" {
		subs, err := h.store.ListSubscriptions(ctx, req.FromID)
		if err != nil {
			return err
		}
		topic = ""
		for _, s := range subs {
			if topicHash(s.Topic) == req.Payload {
				topic = s.Topic
				break
			}
		}
	}
	if topic != "" {
		if err := h.remove(ctx, req, topic); err != nil {
			return err
		}
	}
	return h.cbSubscriptions(ctx, req)
}

// remove unsubscribes and shows a toast; a stale button (already removed) is not an error.
func (h *Handler) remove(ctx context.Context, req *Request, topic string) error {
	err := h.store.RemoveSubscription(ctx, req.FromID, topic)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	_ = h.adapter.AnswerCallback(ctx, req.CallbackID, "✅ Unsubscribed from "+topic)
	return nil
}

func (h *Handler) subscribedSet(ctx context.Context, userID int64) (map[string]bool, error) {
	subs, err := h.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(subs))
	for _, s := range subs {
		set[s.Topic] = true
	}
	return set, nil
}
