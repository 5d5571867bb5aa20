package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	ticketdb "ms-checkout/internal/tickets/db"
	qr "ms-checkout/internal/tickets/qr_generator"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const ResultValid = "valid"

// Validator admits each ticket at the entrance exactly once.
type Validator struct {
	DB     *ticketdb.DB
	QR     *qr.QRGenerator
	Logger *logger.Logger
	now    func() time.Time
}

func NewValidator(db *ticketdb.DB, qrGen *qr.QRGenerator, log *logger.Logger) *Validator {
	return &Validator{
		DB:     db,
		QR:     qrGen,
		Logger: log,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }, // stored timestamps keep microseconds
	}
}

// Validate marks the ticket named by ref (a ticket id or a scanned QR id) as
// used. A second scan fails with TicketAlreadyUsedError carrying the first
// use time; every scan of a known ticket is logged.
func (v *Validator) Validate(ctx context.Context, ref, validatorID, device string) (*models.ValidationResult, error) {
	ticketID := ref
	if id, err := v.QR.TicketID(ref); err == nil {
		ticketID = id
	}

	ticket, err := v.DB.FindTicket(ctx, ticketID, ref)
	if err != nil {
		if errors.Is(err, models.ErrTicketNotFound) {
			v.Logger.LogSecurity("UNKNOWN_TICKET", fmt.Sprintf("validator=%s device=%s", validatorID, device))
		}
		return nil, err
	}

	now := v.now()
	var usedAt time.Time
	var alreadyUsed *models.TicketAlreadyUsedError

	err = v.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		entry := &models.ValidationLog{
			ID:          uuid.NewString(),
			TicketID:    ticket.ID,
			ValidatorID: validatorID,
			Device:      device,
			Result:      models.ValidationAccepted,
			CreatedAt:   now,
		}

		ok, err := v.DB.MarkUsed(ctx, tx, ticket.ID, validatorID, device, now)
		if err != nil {
			return fmt.Errorf("mark ticket %s used: %w", ticket.ID, err)
		}
		if ok {
			usedAt = now
			return v.DB.InsertValidationLog(ctx, tx, entry)
		}

		current, err := v.DB.GetTicket(ctx, tx, ticket.ID)
		if err != nil {
			return err
		}
		if current.UsedAt == nil {
			return models.Invariantf("ticket %s could not be marked used but has no use time", ticket.ID)
		}
		usedAt = current.UsedAt.UTC()
		alreadyUsed = &models.TicketAlreadyUsedError{TicketID: ticket.ID, UsedAt: usedAt}
		entry.Result = models.ValidationAlreadyUsed
		return v.DB.InsertValidationLog(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) {
			v.Logger.LogInvariant("validator.Validate", err)
		}
		return nil, err
	}

	result := &models.ValidationResult{
		Status:   ResultValid,
		UsedAt:   usedAt,
		TicketID: ticket.ID,
	}
	if alreadyUsed != nil {
		result.Status = string(models.ValidationAlreadyUsed)
		v.Logger.Warn("TICKET", fmt.Sprintf("Ticket %s rejected, already used at %s", ticket.ID, usedAt.Format(time.RFC3339)))
		return result, alreadyUsed
	}

	eventName, email, err := v.DB.TicketHolder(ctx, ticket)
	if err != nil {
		v.Logger.Warn("TICKET", fmt.Sprintf("Failed to load holder details for ticket %s: %v", ticket.ID, err))
	}
	result.EventName = eventName
	result.UserEmail = email

	v.Logger.Info("TICKET", fmt.Sprintf("Ticket %s admitted by %s", ticket.ID, validatorID))
	return result, nil
}
