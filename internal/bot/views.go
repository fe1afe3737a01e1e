package bot

import (
	"fmt"
	"hash/fnv"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"arxivbot/internal/paper"
	"arxivbot/pkg/tgui"
)

// Labels and callback namespaces.
const (
	MenuButton = "MENU"

	nsMenu = "menu"
	nsCat  = "cat"
	nsSub  = "sub"

	btnBack       = "⬅️ Back to Main Menu"
	btnCategories = "📚 Browse Categories"
	btnSubs       = "📋 My Subscriptions"
	btnHelp       = "❓ Help"
)

var (
	dataMainMenu   = tgui.Data(nsMenu, "main", "")
	dataCategories = tgui.Data(nsMenu, "categories", "")
	dataSubs       = tgui.Data(nsMenu, "subs", "")
	dataHelp       = tgui.Data(nsMenu, "help", "")
)

func backRow(kb *tgui.Inline) *tgui.Inline {
	return kb.Row(tgui.Btn(btnBack, dataMainMenu))
}

func welcomeView(name string) tgui.Message {
	title := "Welcome to the arXiv Notifier Bot!"
	if name != "" {
		title = "Welcome, " + name + "!"
	}
	return tgui.New().
		Title("🔬", title).
		Blank().
		Line("I help you stay updated with the latest research papers on arXiv.").
		HTML(tgui.Raw("Tap the " + tgui.B(MenuButton).String() + " button below to get started.")).
		Markup(tgui.ReplyKeyboard(MenuButton)).
		Build()
}

func mainMenuView() tgui.Message {
	kb := tgui.NewInline().Grid(2, []tele.Btn{
		tgui.Btn(btnCategories, dataCategories),
		tgui.Btn(btnSubs, dataSubs),
		tgui.Btn(btnHelp, dataHelp),
	})
	return tgui.New().
		Title("", "Main Menu").
		Blank().
		Line("How can I help you?").
		Inline(kb).
		Build()
}

func helpView() tgui.Message {
	b := tgui.New().
		Title("📚", "How to use this bot:").
		Blank().
		HTML(tgui.B("Keyword subscriptions:")).
		HTML(tgui.Raw("Subscribe to any topic using keywords: " + tgui.Code("/subscribe machine learning").String())).
		Blank().
		HTML(tgui.B("Category subscriptions:")).
		HTML(tgui.Raw("Subscribe to official arXiv categories: " + tgui.Code("/subscribe cs.AI").String())).
		Blank().
		HTML(tgui.B("Popular categories:"))
	for _, code := range []string{"cs.AI", "cs.LG", "cond-mat", "econ.EM", "stat.ML"} {
		b.HTML(tgui.Raw("• " + tgui.Code(code).String() + " - " + tgui.Esc(paper.Label(code)).String()))
	}
	return b.Blank().
		HTML(tgui.Raw("Use "+tgui.Code("/categories").String()+" to see all popular categories.")).
		HTML(tgui.Raw("Use "+tgui.Code("/test <topic>").String()+" to preview what papers you'd get.")).
		Blank().
		HTML(tgui.B("Tips:")).
		Bullets(
			"You can subscribe to multiple topics",
			"Mix keywords and categories",
			"Check /mysubscriptions to manage your subscriptions",
		).
		Inline(backRow(tgui.NewInline())).
		Build()
}

// categoriesView marks subscribed categories with ✅; pressing a button
// toggles the subscription.
func categoriesView(subscribed map[string]bool) tgui.Message {
	kb := tgui.NewInline()
	for _, c := range paper.PopularCategories() {
		label := fmt.Sprintf("%s (%s)", c.Description, c.Code)
		action := "sub"
		if subscribed[c.Code] {
			label = "✅ " + label
			action = "unsub"
		}
		kb.Row(tgui.Btn(label, tgui.Data(nsCat, action, c.Code)))
	}
	return tgui.New().
		Title("📋", "Tap a category to subscribe or unsubscribe:").
		Inline(backRow(kb)).
		Build()
}

func subscriptionsView(subs []paper.Subscription) tgui.Message {
	kb := tgui.NewInline()
	b := tgui.New()
	if len(subs) == 0 {
		b.Line("You have no active subscriptions.").
			Blank().
			HTML(tgui.Raw("Use " + tgui.Code("/subscribe <topic>").String() + " or browse the categories."))
	} else {
		b.Title("📋", "Your Current Subscriptions:")
		for _, s := range subs {
			desc := string(s.Kind)
			if l := paper.Label(s.Topic); l != s.Topic {
				desc += ", " + l
			}
			b.KV(s.Topic, desc)
			kb.Row(tgui.Btn("🗑️ Unsubscribe: "+tgui.TruncRunes(s.Topic, 40), unsubscribeData(s.Topic)))
		}
	}
	return b.Inline(backRow(kb)).Build()
}

// unsubscribeData encodes a topic into callback data, falling back to a hash
// reference when the topic does not fit Telegram's 64-byte limit.
func unsubscribeData(topic string) string {
	d := tgui.Data(nsSub, "del", topic)
	if tgui.CheckData(d) == nil {
		return d
	}
	return tgui.Data(nsSub, "delh", topicHash(topic))
}

func topicHash(topic string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(topic))
	return strconv.FormatUint(h.Sum64(), 36)
}

func subscribedView(t paper.Topic) tgui.Message {
	return tgui.New().
		HTML(tgui.Raw(fmt.Sprintf("✅ Successfully subscribed to %s: %s", t.Kind, tgui.B(t.Name)))).
		Blank().
		Line("You'll receive notifications when new papers are published!").
		HTML(tgui.Raw("Use " + tgui.Code("/test "+t.Name).String() + " to see what papers you'd get.")).
		Build()
}

func usageView(lines ...string) tgui.Message {
	b := tgui.New()
	for i, l := range lines {
		if i == 0 {
			b.Line(l)
			continue
		}
		b.HTML(tgui.Raw("• " + tgui.Code(l).String()))
	}
	return b.Build()
}

func textView(s string) tgui.Message { return tgui.New().Line(s).Build() }

func htmlView(h tgui.H) tgui.Message { return tgui.New().HTML(h).Build() }
