package yamlfile

import (
	"context"
	"sort"
	"time"

	"github.com/aussiebroadwan/blinkauth/internal/store"
)

type eventsRepo struct {
	src       source
	maxEvents int
}

func (r *eventsRepo) AppendEvent(ctx context.Context, e store.Event) error {
	return r.src.update(ctx, func(doc *document) error {
		doc.Events = append(doc.Events, event{
			ID:        e.ID,
			Account:   e.Account,
			Kind:      string(e.Kind),
			AccessFP:  e.AccessFP,
			ExpiresAt: e.ExpiresAt.UTC(),
			CreatedAt: e.CreatedAt.UTC(),
		})

		if r.maxEvents > 0 && len(doc.Events) > r.maxEvents {
			sortOldestFirst(doc.Events)
			doc.Events = doc.Events[len(doc.Events)-r.maxEvents:]
		}
		return nil
	})
}

func (r *eventsRepo) ListEvents(ctx context.Context, account string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 20
	}

	var out []store.Event
	err := r.src.read(ctx, func(doc *document) error {
		matched := make([]event, 0, len(doc.Events))
		for _, e := range doc.Events {
			if e.Account == account {
				matched = append(matched, e)
			}
		}
		sortOldestFirst(matched)

		for i := len(matched) - 1; i >= 0 && len(out) < limit; i-- {
			e := matched[i]
			out = append(out, store.Event{
				ID:        e.ID,
				Account:   e.Account,
				Kind:      store.EventKind(e.Kind),
				AccessFP:  e.AccessFP,
				ExpiresAt: e.ExpiresAt,
				CreatedAt: e.CreatedAt,
			})
		}
		return nil
	})
	return out, err
}

func (r *eventsRepo) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var removed int
	err := r.src.update(ctx, func(doc *document) error {
		kept := doc.Events[:0]
		for _, e := range doc.Events {
			if e.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		doc.Events = kept
		return nil
	})
	return removed, err
}

func sortOldestFirst(events []event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}
