package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/tickets/assets"
	ticketdb "ms-checkout/internal/tickets/db"
	qr "ms-checkout/internal/tickets/qr_generator"
	"ms-checkout/internal/tickets/template"

	"github.com/google/uuid"
)

// AssetError reports a ticket whose files could not be produced. The ticket
// itself exists; a later issuance call renders the missing files.
type AssetError struct {
	TicketID string
	Err      error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("assets for ticket %s: %v", e.TicketID, e.Err)
}

func (e *AssetError) Unwrap() []error { return []error{models.ErrAssetGeneration, e.Err} }

// PDFRenderer draws the printable ticket.
type PDFRenderer interface {
	Generate(ticket template.TicketView, qrCode []byte) ([]byte, error)
}

// WalletPassIssuer produces a mobile wallet pass. Optional.
type WalletPassIssuer interface {
	IssuePass(ctx context.Context, t *models.Ticket, view template.TicketView) (string, error)
}

type TicketService struct {
	DB     *ticketdb.DB
	QR     *qr.QRGenerator
	PDF    PDFRenderer
	Store  assets.Store
	Wallet WalletPassIssuer
	Logger *logger.Logger
	now    func() time.Time
}

func NewTicketService(db *ticketdb.DB, qrGen *qr.QRGenerator, pdf PDFRenderer, store assets.Store, log *logger.Logger) *TicketService {
	return &TicketService{
		DB:     db,
		QR:     qrGen,
		PDF:    pdf,
		Store:  store,
		Logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IssueForOrder creates the tickets a PAID order is still missing and renders
// files for any ticket that lacks them. It returns only the tickets this call
// created. Asset failures come back as AssetError alongside the tickets.
func (s *TicketService) IssueForOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	order, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid {
		return nil, fmt.Errorf("%w: order %s is %s, tickets need a paid order", models.ErrInvalidStateTransition, orderID, order.Status)
	}

	issued, err := s.DB.IssuedSeqs(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load issued tickets for order %s: %w", orderID, err)
	}

	now := s.now()
	var pending []*models.Ticket
	for _, item := range order.Items {
		for seq := 1; seq <= item.Quantity; seq++ {
			if issued[item.ID][seq] {
				continue
			}
			id := uuid.NewString()
			qrID, err := s.QR.NewQRID(id)
			if err != nil {
				return nil, fmt.Errorf("generate QR id: %w", err)
			}
			pending = append(pending, &models.Ticket{
				ID:          id,
				OrderID:     orderID,
				OrderItemID: item.ID,
				Seq:         seq,
				EventID:     item.EventID,
				SeatID:      item.SeatID,
				CategoryID:  item.CategoryID,
				QRID:        qrID,
				IssuedAt:    now,
			})
		}
	}

	created, err := s.DB.InsertTickets(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		s.Logger.Info("TICKET", fmt.Sprintf("Created %d tickets for order %s", len(created), orderID))
	}

	return created, s.renderMissingAssets(ctx, order)
}

// renderMissingAssets covers tickets created now and those left without
// files by an earlier failed attempt.
func (s *TicketService) renderMissingAssets(ctx context.Context, order *models.Order) error {
	all, err := s.DB.TicketsByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load tickets for order %s: %w", order.ID, err)
	}

	items := make(map[string]*models.OrderItem, len(order.Items))
	for _, it := range order.Items {
		items[it.ID] = it
	}
	events := make(map[string]*models.Event)

	var errs []error
	for _, t := range all {
		if !t.NeedsAssets() && (s.Wallet == nil || t.WalletPassURL != "") {
			continue
		}
		ev, ok := events[t.EventID]
		if !ok {
			ev, err = s.DB.GetEvent(ctx, t.EventID)
			if err != nil {
				errs = append(errs, &AssetError{TicketID: t.ID, Err: err})
				continue
			}
			events[t.EventID] = ev
		}

		view := template.TicketView{
			TicketID:   t.ID,
			EventName:  ev.Name,
			Venue:      ev.Venue,
			StartsAt:   ev.StartsAt,
			HolderMail: order.UserEmail,
			QRID:       t.QRID,
		}
		if it := items[t.OrderItemID]; it != nil {
			view.Label = it.Label
		}

		if err := s.renderAssets(ctx, t, view); err != nil {
			s.Logger.Warn("TICKET", fmt.Sprintf("Asset generation failed for ticket %s: %v", t.ID, err))
			errs = append(errs, &AssetError{TicketID: t.ID, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (s *TicketService) renderAssets(ctx context.Context, t *models.Ticket, view template.TicketView) error {
	prefix := fmt.Sprintf("tickets/%s/%s", t.OrderID, t.ID)

	png, err := s.QR.PNG(t.QRID)
	if err != nil {
		return fmt.Errorf("render QR: %w", err)
	}
	if t.QRCodeURL == "" {
		url, err := s.Store.Put(ctx, prefix+".png", png)
		if err != nil {
			return err
		}
		t.QRCodeURL = url
		if err := s.DB.UpdateAssets(ctx, t); err != nil {
			return err
		}
	}

	if t.PDFURL == "" {
		pdf, err := s.PDF.Generate(view, png)
		if err != nil {
			return fmt.Errorf("render PDF: %w", err)
		}
		url, err := s.Store.Put(ctx, prefix+".pdf", pdf)
		if err != nil {
			return err
		}
		t.PDFURL = url
		if err := s.DB.UpdateAssets(ctx, t); err != nil {
			return err
		}
	}

	if s.Wallet != nil && t.WalletPassURL == "" {
		url, err := s.Wallet.IssuePass(ctx, t, view)
		if err != nil {
			return fmt.Errorf("wallet pass: %w", err)
		}
		t.WalletPassURL = url
		if err := s.DB.UpdateAssets(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *TicketService) GetTicketsByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	tickets, err := s.DB.TicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

// BackfillMissing retries issuance for paid orders that are short of tickets.
func (s *TicketService) BackfillMissing(ctx context.Context, limit int) (int, error) {
	ids, err := s.DB.OrdersMissingTickets(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list orders missing tickets: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if _, err := s.IssueForOrder(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", id, err))
		}
	}
	return len(ids), errors.Join(errs...)
}
