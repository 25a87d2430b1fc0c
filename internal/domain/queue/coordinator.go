package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telepharm/consult/internal/platform/db"
	"github.com/telepharm/consult/internal/platform/feed"
)

// Errors surfaced by the Coordinator.
var (
	// ErrAlreadyMatched means a cancel raced with a successful match; the
	// caller re-reads the entry and follows the matched flow instead.
	ErrAlreadyMatched = errors.New("queue entry has already been matched")
)

// FreeCounter reports how many pharmacists can take a consultation; the
// availability tracker satisfies it.
type FreeCounter interface {
	OnlineFreeCount(ctx context.Context) (int, error)
}

// Position is the patient's place in the waiting line. Rank is nil once the
// entry is no longer waiting.
type Position struct {
	Rank                 *int `json:"rank"`
	EstimatedWaitMinutes *int `json:"estimated_wait_minutes"`
}

// Coordinator owns the waiting→matched→in_chat state machine for a
// patient's consultation request.
type Coordinator struct {
	entries           Repository
	free              FreeCounter
	pub               feed.Publisher
	avgConsultMinutes int
	logger            zerolog.Logger
}

func NewCoordinator(entries Repository, free FreeCounter, pub feed.Publisher, avgConsultMinutes int, logger zerolog.Logger) *Coordinator {
	if avgConsultMinutes <= 0 {
		avgConsultMinutes = 5
	}
	return &Coordinator{
		entries:           entries,
		free:              free,
		pub:               pub,
		avgConsultMinutes: avgConsultMinutes,
		logger:            logger,
	}
}

// Join admits the patient into the waiting line. If the patient already has
// an entry in a non-terminal state — a reconnect or page reload — that entry
// is returned unchanged instead of creating a duplicate.
func (c *Coordinator) Join(ctx context.Context, patientID uuid.UUID, symptoms []string, notes *Notes) (*QueueEntry, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if len(symptoms) == 0 {
		return nil, fmt.Errorf("at least one symptom is required")
	}

	existing, err := c.entries.GetActiveByPatient(ctx, patientID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	raw, err := EncodeNotes(notes)
	if err != nil {
		return nil, err
	}

	entry := &QueueEntry{
		PatientID: patientID,
		Status:    StatusWaiting,
		Symptoms:  symptoms,
		Notes:     raw,
	}
	if err := c.entries.Create(ctx, entry); err != nil {
		return nil, err
	}

	c.publish(ctx, feed.OpInsert, entry)
	return entry, nil
}

// Position returns the entry's 1-based rank among waiting entries ordered by
// creation time, plus a coarse wait estimate: ceil((rank-1)/freePharmacists)
// consultations ahead of the patient, each assumed to take the average
// consultation time. Rank is nil when the entry is no longer waiting.
func (c *Coordinator) Position(ctx context.Context, entryID uuid.UUID) (*Position, error) {
	entry, err := c.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != StatusWaiting {
		return &Position{}, nil
	}

	ahead, err := c.entries.CountWaitingBefore(ctx, entry.CreatedAt, entry.ID)
	if err != nil {
		return nil, err
	}
	rank := ahead + 1

	free, err := c.free.OnlineFreeCount(ctx)
	if err != nil {
		return nil, err
	}
	if free < 1 {
		free = 1
	}

	rounds := (ahead + free - 1) / free
	wait := rounds * c.avgConsultMinutes

	return &Position{Rank: &rank, EstimatedWaitMinutes: &wait}, nil
}

// Cancel withdraws a waiting entry. Already-terminal entries are a no-op;
// an entry a pharmacist has claimed in the meantime cannot be cancelled and
// reports ErrAlreadyMatched so the caller can re-decide.
func (c *Coordinator) Cancel(ctx context.Context, entryID uuid.UUID) error {
	err := c.entries.Cancel(ctx, entryID)
	if err == nil {
		c.publishByID(ctx, entryID)
		return nil
	}
	if !errors.Is(err, db.ErrConflict) {
		return err
	}

	entry, readErr := c.entries.GetByID(ctx, entryID)
	if readErr != nil {
		return readErr
	}
	if IsTerminal(entry.Status) {
		return nil
	}
	return ErrAlreadyMatched
}

// ListWaiting returns the waiting line oldest-first, for the pharmacist
// pick screen.
func (c *Coordinator) ListWaiting(ctx context.Context, limit, offset int) ([]*QueueEntry, int, error) {
	return c.entries.ListWaiting(ctx, limit, offset)
}

// Get returns a single entry.
func (c *Coordinator) Get(ctx context.Context, entryID uuid.UUID) (*QueueEntry, error) {
	return c.entries.GetByID(ctx, entryID)
}

// Claim performs the conditional waiting→matched transition on behalf of
// the matcher.
func (c *Coordinator) Claim(ctx context.Context, entryID, pharmacistID uuid.UUID) error {
	if err := c.entries.Claim(ctx, entryID, pharmacistID); err != nil {
		return err
	}
	c.publishByID(ctx, entryID)
	return nil
}

// MarkInChat confirms the session exists and moves the entry to in_chat.
func (c *Coordinator) MarkInChat(ctx context.Context, entryID uuid.UUID) error {
	if err := c.entries.MarkInChat(ctx, entryID); err != nil {
		return err
	}
	c.publishByID(ctx, entryID)
	return nil
}

// RevertToWaiting is the matcher's compensation: the entry re-enters the
// pool instead of dangling in matched with no session.
func (c *Coordinator) RevertToWaiting(ctx context.Context, entryID uuid.UUID) error {
	if err := c.entries.RevertToWaiting(ctx, entryID); err != nil {
		return err
	}
	c.publishByID(ctx, entryID)
	return nil
}

// Complete closes the entry once the consultation has ended.
func (c *Coordinator) Complete(ctx context.Context, entryID uuid.UUID) error {
	if err := c.entries.Complete(ctx, entryID); err != nil {
		return err
	}
	c.publishByID(ctx, entryID)
	return nil
}

func (c *Coordinator) publishByID(ctx context.Context, entryID uuid.UUID) {
	entry, err := c.entries.GetByID(ctx, entryID)
	if err != nil {
		c.logger.Warn().Err(err).Str("entry_id", entryID.String()).Msg("re-read for feed publish failed")
		return
	}
	c.publish(ctx, feed.OpUpdate, entry)
}

// publish pushes the entry's current state onto the change feed. The feed
// is best-effort: failures degrade push delivery, never the operation.
func (c *Coordinator) publish(ctx context.Context, op feed.Op, entry *QueueEntry) {
	if c.pub == nil {
		return
	}
	record, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn().Err(err).Msg("marshal queue entry for feed")
		return
	}
	ev := feed.Event{
		Op:       op,
		Table:    "queue_entry",
		Topic:    feed.QueueTopic(entry.ID),
		RecordID: entry.ID,
		Record:   record,
	}
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.logger.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("feed publish failed")
	}
}
