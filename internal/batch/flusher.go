package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/roomcast/transcript-relay/internal/cache"
	"github.com/roomcast/transcript-relay/internal/models"
)

// Store is the durable side of the queue, implemented over the postgres
// repositories. Tests substitute a fake.
type Store interface {
	SessionIDBySlug(ctx context.Context, slug string) (string, error)
	ParticipantID(ctx context.Context, sessionID, identity string) (string, error)
	UpsertSegments(ctx context.Context, rows []models.TranscriptSegment) error
}

// Resolver caches slug -> session id and (session, identity) -> participant
// id lookups. A per-flush in-memory map sits in front of an optional shared
// JSON cache so a flush cycle does at most one lookup per key.
type Resolver struct {
	store  Store
	shared cache.Cache // may be nil
	ttl    time.Duration
}

func NewResolver(store Store, shared cache.Cache) *Resolver {
	return &Resolver{store: store, shared: shared, ttl: 10 * time.Minute}
}

type resolution struct {
	mem map[string]string
	r   *Resolver
}

func (r *Resolver) begin() *resolution {
	return &resolution{mem: make(map[string]string), r: r}
}

func (res *resolution) lookup(ctx context.Context, key string, fetch func() (string, error)) (string, error) {
	if v, ok := res.mem[key]; ok {
		return v, nil
	}
	if res.r.shared != nil {
		var v string
		if hit, err := res.r.shared.GetJSON(ctx, key, &v); err == nil && hit && v != "" {
			res.mem[key] = v
			return v, nil
		}
	}
	v, err := fetch()
	if err != nil {
		return "", err
	}
	res.mem[key] = v
	if res.r.shared != nil {
		_ = res.r.shared.SetJSON(ctx, key, v, res.r.ttl)
	}
	return v, nil
}

func (res *resolution) sessionID(ctx context.Context, slug string) (string, error) {
	return res.lookup(ctx, "resolve:session:"+slug, func() (string, error) {
		return res.r.store.SessionIDBySlug(ctx, slug)
	})
}

func (res *resolution) participantID(ctx context.Context, sessionID, identity string) (string, error) {
	return res.lookup(ctx, "resolve:participant:"+sessionID+":"+identity, func() (string, error) {
		return res.r.store.ParticipantID(ctx, sessionID, identity)
	})
}

// flusher groups a popped batch by session, resolves foreign keys and issues
// one multi-row upsert per session. A failing session sub-batch is logged
// and counted without aborting the others.
type flusher struct {
	store    Store
	resolver *Resolver
	log      *logrus.Entry
}

func newFlusher(store Store, resolver *Resolver, log *logrus.Entry) *flusher {
	return &flusher{store: store, resolver: resolver, log: log}
}

func (f *flusher) write(ctx context.Context, batch []PendingSegment) (written, errs int) {
	bySession := make(map[string][]PendingSegment)
	order := make([]string, 0, 4)
	for _, seg := range batch {
		if _, ok := bySession[seg.SessionSlug]; !ok {
			order = append(order, seg.SessionSlug)
		}
		bySession[seg.SessionSlug] = append(bySession[seg.SessionSlug], seg)
	}

	res := f.resolver.begin()
	for _, slug := range order {
		segs := bySession[slug]
		if err := f.writeSession(ctx, res, slug, segs); err != nil {
			errs++
			f.log.WithError(err).WithFields(logrus.Fields{
				"session":  slug,
				"segments": len(segs),
			}).Error("session sub-batch flush failed")
			continue
		}
		written += len(segs)
	}
	return written, errs
}

func (f *flusher) writeSession(ctx context.Context, res *resolution, slug string, segs []PendingSegment) error {
	sessionID, err := res.sessionID(ctx, slug)
	if err != nil {
		return err
	}

	rows := make([]models.TranscriptSegment, 0, len(segs))
	for _, seg := range segs {
		row := models.TranscriptSegment{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			UtteranceID: seg.UtteranceID,
			Text:        seg.Text,
			IsFinal:     true,
			StartedAt:   seg.StartedAt,
			EndedAt:     seg.EndedAt,
		}
		if seg.ParticipantIdentity != "" {
			pid, err := res.participantID(ctx, sessionID, seg.ParticipantIdentity)
			if err != nil {
				return err
			}
			row.ParticipantID = &pid
		}
		rows = append(rows, row)
	}
	return f.store.UpsertSegments(ctx, rows)
}
