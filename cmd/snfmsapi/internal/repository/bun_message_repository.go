package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/uptrace/bun"
)

// ========================================
// Message Repository
// ========================================

// BunMessageRepository implements MessageRepository using Bun ORM.
// Every read and write is filtered by the author.
type BunMessageRepository struct {
	messages *bunx.Collection[models.Message]
}

// NewBunMessageRepository creates a new Bun-based message repository
func NewBunMessageRepository(db bun.IDB) MessageRepository {
	return &BunMessageRepository{messages: bunx.NewCollection[models.Message](db)}
}

// Create inserts a new message
func (r *BunMessageRepository) Create(ctx context.Context, msg *models.Message) error {
	now := time.Now().UTC()
	if msg.CreatedDate.IsZero() {
		msg.CreatedDate = now
	}
	msg.UpdatedDate = now
	return r.messages.Create(ctx, msg)
}

// ListByAuthor returns the author's messages, newest first
func (r *BunMessageRepository) ListByAuthor(ctx context.Context, authorID int64) ([]models.Message, error) {
	return r.messages.Query(ctx, bunx.Filters{"created_by_id": authorID}, "message_id DESC")
}

// GetForAuthor retrieves one of the author's messages
func (r *BunMessageRepository) GetForAuthor(ctx context.Context, id, authorID int64) (*models.Message, error) {
	msg, err := r.messages.Get(ctx, bunx.Filters{"message_id": id, "created_by_id": authorID})
	if err != nil {
		return nil, notFound(err, "message", id)
	}
	return msg, nil
}

// UpdateForAuthor applies fields to one of the author's messages
func (r *BunMessageRepository) UpdateForAuthor(ctx context.Context, id, authorID int64, fields bunx.Fields) error {
	fields["updated_by_id"] = authorID
	fields["updated_date"] = time.Now().UTC()
	n, err := r.messages.Update(ctx, bunx.Filters{"message_id": id, "created_by_id": authorID}, fields)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// DeleteForAuthor deletes one of the author's messages
func (r *BunMessageRepository) DeleteForAuthor(ctx context.Context, id, authorID int64) error {
	n, err := r.messages.Delete(ctx, bunx.Filters{"message_id": id, "created_by_id": authorID})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %d: %w", id, errs.ErrNotFound)
	}
	return nil
}
