package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/blugelabs/bluge"

	"listing-dm/domain/event"
)

// Hit is one search result, rebuilt from the stored fields of the index.
type Hit struct {
	MessageID   string
	Counterpart string
	Content     string
	At          time.Time
	Score       float64
}

// Index maintains a full-text index of every message seen by the live feed
// and the re-sync path. It consumes domain events on the loop goroutine, so
// writes must stay cheap; Bluge batches internally.
type Index struct {
	log    *slog.Logger
	writer *bluge.Writer
}

func NewIndex(log *slog.Logger, writer *bluge.Writer) *Index {
	return &Index{log: log, writer: writer}
}

// Consume indexes inserted messages. Updates only touch flags, which are
// not searchable, so they are ignored.
func (i *Index) Consume(_ context.Context, e event.DomainEvent) error {
	inserted, ok := e.(event.MessageInserted)
	if !ok {
		return nil
	}

	m := inserted.Message
	doc := bluge.NewDocument(m.ID)
	doc.AddField(bluge.NewTextField("content", m.Content).StoreValue())
	doc.AddField(bluge.NewKeywordField("counterpart", inserted.Counterpart).StoreValue())
	doc.AddField(bluge.NewDateTimeField("at", m.CreatedAt))
	doc.AddField(bluge.NewStoredOnlyField("at_raw", []byte(m.CreatedAt.Format(time.RFC3339Nano))))

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		i.log.Warn("Failed to index message", "id", m.ID, "err", err)
		return err
	}
	return nil
}

// Search executes a parsed query against the index.
func (i *Index) Search(ctx context.Context, raw string) ([]Hit, error) {
	query := ParseQuery(raw)
	if query.Terms == "" && query.Counterpart == "" {
		return nil, nil
	}

	boolean := bluge.NewBooleanQuery()
	if query.Terms != "" {
		boolean.AddMust(bluge.NewMatchQuery(query.Terms).SetField("content"))
	}
	if query.Counterpart != "" {
		boolean.AddMust(bluge.NewTermQuery(query.Counterpart).SetField("counterpart"))
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	iter, err := reader.Search(ctx, bluge.NewTopNSearch(query.Limit, boolean))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for {
		match, err := iter.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}

		hit := Hit{Score: match.Score}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "content":
				hit.Content = string(value)
			case "counterpart":
				hit.Counterpart = string(value)
			case "at_raw":
				if at, err := time.Parse(time.RFC3339Nano, string(value)); err == nil {
					hit.At = at
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
