package paper

import (
	"strings"
	"time"
)

type TopicKind string

const (
	KindKeyword  TopicKind = "keyword"
	KindCategory TopicKind = "category"
)

func (k TopicKind) Valid() bool { return k == KindKeyword || k == KindCategory }

// Topic is a normalized subscription key plus its kind.
type Topic struct {
	Name string
	Kind TopicKind
}

func (t Topic) String() string { return t.Name }

// Subscription is unique per (UserID, Topic).
type Subscription struct {
	UserID    int64
	Topic     string
	Kind      TopicKind
	CreatedAt time.Time
}

// Article is one search result. ID is the arXiv short id without version.
type Article struct {
	ID              string
	Title           string
	Authors         []string
	Abstract        string
	PublishedAt     time.Time
	Link            string
	PrimaryCategory string
	Categories      []string
}

// NotifiedRecord marks that a topic's search already surfaced an article.
// The file store persists ledger snapshots as a list of these.
type NotifiedRecord struct {
	Topic      string    `json:"topic"`
	ArticleID  string    `json:"article"`
	NotifiedAt time.Time `json:"at"`
}

// Query is what the search gateway needs to look a topic up.
type Query struct {
	Topic      Topic
	MaxResults int
}

// ShortID strips the "http://arxiv.org/abs/" prefix and the version suffix:
// "http://arxiv.org/abs/2401.01234v2" -> "2401.01234", "hep-th/9901001v1" -> "hep-th/9901001".
func ShortID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	if i := strings.LastIndexByte(id, 'v'); i > 0 && i < len(id)-1 && isDigits(id[i+1:]) && !strings.Contains(id[i:], "/") {
		id = id[:i]
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
