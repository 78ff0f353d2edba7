// Package messages implements internal messages. Callers only ever see and
// change messages they wrote; anything else reads as not found.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// Service manages messages scoped to their author.
type Service struct {
	logger *zap.Logger
}

// NewService creates a message service.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger.Named("messages")}
}

// CreateRequest is the payload for writing a message.
type CreateRequest struct {
	Text        string `json:"message_text"`
	RecipientID int64  `json:"recipient_id"`
}

// Patch lists the message columns an author may change.
type Patch struct {
	Text        *string `mapstructure:"message_text"`
	RecipientID *int64  `mapstructure:"recipient_id"`
}

// List returns the messages written by author.
func (s *Service) List(ctx context.Context, acc *tenancy.Accessor, author *models.User) ([]models.Message, error) {
	return acc.Messages().ListByAuthor(ctx, author.ID)
}

// Get returns one of the author's messages.
func (s *Service) Get(ctx context.Context, acc *tenancy.Accessor, author *models.User, id int64) (*models.Message, error) {
	return acc.Messages().GetForAuthor(ctx, id, author.ID)
}

// Create stores a message written by author.
func (s *Service) Create(ctx context.Context, acc *tenancy.Accessor, author *models.User, req CreateRequest) (*models.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("message_text is required: %w", errs.ErrInvalidInput)
	}
	if err := s.checkRecipient(ctx, acc, req.RecipientID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		Text:        text,
		RecipientID: req.RecipientID,
		CreatedByID: author.ID,
		UpdatedByID: author.ID,
	}
	if err := acc.Messages().Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	s.logger.Debug("message created", zap.Int64("message_id", msg.ID), zap.Int64("author_id", author.ID))
	return msg, nil
}

// Update applies a partial update to one of the author's messages.
func (s *Service) Update(ctx context.Context, acc *tenancy.Accessor, author *models.User, id int64, input map[string]any) (*models.Message, error) {
	var patch Patch
	if err := services.DecodePatch(input, &patch); err != nil {
		return nil, err
	}

	fields := bunx.Fields{}
	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return nil, fmt.Errorf("message_text cannot be blank: %w", errs.ErrInvalidInput)
		}
		fields["message_text"] = text
	}
	if patch.RecipientID != nil {
		if err := s.checkRecipient(ctx, acc, *patch.RecipientID); err != nil {
			return nil, err
		}
		fields["recipient_id"] = *patch.RecipientID
	}

	if len(fields) > 0 {
		if err := acc.Messages().UpdateForAuthor(ctx, id, author.ID, fields); err != nil {
			return nil, err
		}
	}
	return acc.Messages().GetForAuthor(ctx, id, author.ID)
}

// Delete removes one of the author's messages.
func (s *Service) Delete(ctx context.Context, acc *tenancy.Accessor, author *models.User, id int64) error {
	return acc.Messages().DeleteForAuthor(ctx, id, author.ID)
}

func (s *Service) checkRecipient(ctx context.Context, acc *tenancy.Accessor, id int64) error {
	if _, err := acc.Users().GetByID(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("recipient %d does not exist: %w", id, errs.ErrInvalidInput)
		}
		return err
	}
	return nil
}
