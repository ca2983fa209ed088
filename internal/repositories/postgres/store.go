package postgres

import (
	"context"

	"github.com/roomcast/transcript-relay/internal/models"
)

// Store bundles the repositories behind the lookups the batch flusher
// performs.
type Store struct {
	sessions     SessionRepo
	participants ParticipantRepo
	transcripts  TranscriptRepo
}

func NewStore(sessions SessionRepo, participants ParticipantRepo, transcripts TranscriptRepo) *Store {
	return &Store{sessions: sessions, participants: participants, transcripts: transcripts}
}

func (s *Store) SessionIDBySlug(ctx context.Context, slug string) (string, error) {
	sess, err := s.sessions.GetBySlug(ctx, slug)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *Store) ParticipantID(ctx context.Context, sessionID, identity string) (string, error) {
	p, err := s.participants.GetOrCreate(ctx, sessionID, identity)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *Store) UpsertSegments(ctx context.Context, rows []models.TranscriptSegment) error {
	return s.transcripts.UpsertBatch(ctx, rows)
}
