package arxiv

import (
	"net/url"
	"strconv"
	"strings"

	"arxivbot/internal/paper"
)

// SearchQuery builds the arXiv search_query expression for a topic.
// Categories search by cat:, keywords by phrase in title or abstract.
func SearchQuery(t paper.Topic) string {
	if t.Kind == paper.KindCategory {
		return "cat:" + t.Name
	}
	phrase := strings.ReplaceAll(t.Name, `"`, "")
	return `ti:"` + phrase + `" OR abs:"` + phrase + `"`
}

// queryURL is newest-first so the window filter can stop early.
func queryURL(base string, q paper.Query) string {
	v := url.Values{}
	v.Set("search_query", SearchQuery(q.Topic))
	v.Set("start", "0")
	v.Set("max_results", strconv.Itoa(q.MaxResults))
	v.Set("sortBy", "submittedDate")
	v.Set("sortOrder", "descending")
	return base + "?" + v.Encode()
}
