package paper

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTopicLen bounds topic names in runes.
const MaxTopicLen = 100

var (
	ErrEmptyTopic   = errors.New("topic is empty")
	ErrTopicTooLong = errors.New("topic is too long")
)

// archive.SUBJECT, e.g. cs.AI, q-bio.NC, physics.optics.
var categoryShape = regexp.MustCompile(`^[a-z][a-z-]*\.[A-Za-z][A-Za-z-]*$`)

// NormalizeTopic trims and collapses inner whitespace.
func NormalizeTopic(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Classify reports whether topic names an arXiv category or is a free keyword.
func Classify(topic string) TopicKind {
	topic = NormalizeTopic(topic)
	if _, ok := categoryIndex[topic]; ok {
		return KindCategory
	}
	if categoryShape.MatchString(topic) {
		return KindCategory
	}
	return KindKeyword
}

// ParseTopic normalizes and classifies raw user input.
func ParseTopic(raw string) (Topic, error) {
	name := NormalizeTopic(raw)
	if name == "" {
		return Topic{}, ErrEmptyTopic
	}
	if utf8.RuneCountInString(name) > MaxTopicLen {
		return Topic{}, ErrTopicTooLong
	}
	return Topic{Name: name, Kind: Classify(name)}, nil
}

// Label is the human title of a topic: the category description for known
// categories, the topic itself otherwise.
func Label(topic string) string {
	if c, ok := categoryIndex[topic]; ok {
		return c.Description
	}
	return topic
}
