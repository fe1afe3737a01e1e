package dispatch

import (
	"context"
	"sort"

	"arxivbot/internal/paper"
)

// TopicSource lists every subscribed topic (storage.Subscriptions satisfies it).
type TopicSource interface {
	AllTopics(ctx context.Context) ([]paper.Topic, error)
}

// Aggregator collapses all users' subscriptions into one entry per topic, so
// the gateway is queried once per topic per tick however many users share it.
type Aggregator struct {
	src TopicSource
}

func NewAggregator(src TopicSource) *Aggregator { return &Aggregator{src: src} }

// Aggregate returns unique topics sorted by name.
func (a *Aggregator) Aggregate(ctx context.Context) ([]paper.Topic, error) {
	topics, err := a.src.AllTopics(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(topics))
	out := make([]paper.Topic, 0, len(topics))
	for _, t := range topics {
		if t.Name == "" {
			continue
		}
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		if !t.Kind.Valid() {
			t.Kind = paper.Classify(t.Name)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
