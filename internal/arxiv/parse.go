package arxiv

import (
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"arxivbot/internal/paper"
)

// toArticle maps one Atom entry. ok is false for entries without an id or date
// (arXiv returns a single id-less entry to report query errors).
func toArticle(it *gofeed.Item) (paper.Article, bool) {
	if it == nil || it.PublishedParsed == nil {
		return paper.Article{}, false
	}
	id := paper.ShortID(it.GUID)
	if id == "" {
		return paper.Article{}, false
	}

	a := paper.Article{
		ID:              id,
		Title:           strings.Join(strings.Fields(it.Title), " "),
		Abstract:        strings.Join(strings.Fields(it.Description), " "),
		PublishedAt:     it.PublishedParsed.UTC(),
		Link:            pdfLink(it),
		PrimaryCategory: primaryCategory(it.Extensions),
		Categories:      append([]string(nil), it.Categories...),
	}
	for _, p := range it.Authors {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			a.Authors = append(a.Authors, strings.TrimSpace(p.Name))
		}
	}
	if a.PrimaryCategory == "" && len(a.Categories) > 0 {
		a.PrimaryCategory = a.Categories[0]
	}
	return a, true
}

func pdfLink(it *gofeed.Item) string {
	for _, l := range it.Links {
		if strings.Contains(l, "/pdf/") {
			return l
		}
	}
	if strings.Contains(it.GUID, "/abs/") {
		return strings.Replace(it.GUID, "/abs/", "/pdf/", 1)
	}
	return it.Link
}

// primaryCategory reads <arxiv:primary_category term="..."/>.
func primaryCategory(x ext.Extensions) string {
	for _, e := range x["arxiv"]["primary_category"] {
		if term := e.Attrs["term"]; term != "" {
			return term
		}
	}
	return ""
}

// apiError extracts the message arXiv reports as an id-less error entry.
func apiError(feed *gofeed.Feed) string {
	if feed == nil || len(feed.Items) != 1 {
		return ""
	}
	it := feed.Items[0]
	if strings.Contains(it.GUID, "/api/errors") || strings.EqualFold(strings.TrimSpace(it.Title), "Error") {
		return strings.TrimSpace(it.Description)
	}
	return ""
}
