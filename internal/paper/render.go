package paper

import (
	"fmt"
	"strings"

	"arxivbot/pkg/tgui"
)

// RenderOptions bounds the size of an article card.
type RenderOptions struct {
	MaxAuthors  int
	MaxAbstract int
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{MaxAuthors: 3, MaxAbstract: 700}
}

const publishedLayout = "2006-01-02 15:04"

// FormatAuthors lists the first max authors, then "et al. (N authors)".
func FormatAuthors(authors []string, max int) string {
	if max <= 0 || len(authors) <= max {
		return strings.Join(authors, ", ")
	}
	return strings.Join(authors[:max], ", ") + fmt.Sprintf(" et al. (%d authors)", len(authors))
}

// TruncateAbstract flattens whitespace and shortens s to max runes. It cuts
// after the last sentence that ends within 100 runes of the limit, otherwise
// hard-cuts and appends "...".
func TruncateAbstract(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	rs := []rune(s)
	if max <= 0 || len(rs) <= max {
		return s
	}
	head := string(rs[:max])
	if bp := strings.LastIndex(head, ". "); bp >= 0 && len([]rune(head[:bp])) > max-100 {
		return head[:bp+1]
	}
	return head + "..."
}

// Card renders one article as Telegram HTML. number > 0 prefixes the title.
func Card(a Article, opt RenderOptions, number int) tgui.H {
	var b strings.Builder
	if number > 0 {
		fmt.Fprintf(&b, "<b>%d.</b> ", number)
	}
	b.WriteString(tgui.B(strings.Join(strings.Fields(a.Title), " ")).String())
	b.WriteString("\n\n")
	b.WriteString("👥 " + tgui.B("Authors:").String() + " " + tgui.Esc(FormatAuthors(a.Authors, opt.MaxAuthors)).String() + "\n")
	b.WriteString("📅 " + tgui.B("Published:").String() + " " + tgui.Esc(a.PublishedAt.UTC().Format(publishedLayout)).String() + "\n")
	if a.PrimaryCategory != "" {
		b.WriteString("🏷️ " + tgui.B("Category:").String() + " " + tgui.Esc(a.PrimaryCategory).String() + "\n")
	}
	b.WriteString("\n")
	b.WriteString("📄 " + tgui.B("Abstract:").String() + " " + tgui.Esc(TruncateAbstract(a.Abstract, opt.MaxAbstract)).String())
	if a.Link != "" {
		b.WriteString("\n\n🔗 " + tgui.Link("Read Paper", a.Link).String())
	}
	return tgui.H(b.String())
}

// Render is the alert sent to a subscriber when topic surfaces a new article.
func Render(topic string, a Article, opt RenderOptions) string {
	return tgui.JoinH("\n\n",
		tgui.Raw("🔔 "+tgui.B("New arXiv Paper Alert!").String()),
		tgui.Raw("📍 "+tgui.B("Topic:").String()+" "+tgui.Esc(Label(topic)).String()),
		Card(a, opt, 0),
	).String()
}

// RenderDigest lists articles for a preview search, numbered from 1.
func RenderDigest(topic string, articles []Article, opt RenderOptions) string {
	parts := make([]tgui.H, 0, len(articles)+1)
	parts = append(parts, tgui.Raw("📄 "+tgui.B(fmt.Sprintf("Recent papers for '%s':", topic)).String()))
	for i, a := range articles {
		parts = append(parts, Card(a, opt, i+1)+tgui.H("\n"+strings.Repeat("─", 30)))
	}
	return tgui.JoinH("\n\n", parts...).String()
}
