package template

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/signintech/gopdf"
)

// TicketView is what gets printed on a ticket.
type TicketView struct {
	TicketID   string
	EventName  string
	Venue      string
	StartsAt   time.Time
	Label      string
	HolderMail string
	QRID       string
}

type TicketPDFGenerator struct {
	FontPath string
}

func NewTicketPDFGenerator(fontPath string) *TicketPDFGenerator {
	return &TicketPDFGenerator{FontPath: fontPath}
}

func (g *TicketPDFGenerator) Generate(ticket TicketView, qrCode []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("dejavu", g.FontPath); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont("dejavu", "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	addHeader(pdf, ticket)

	pdf.SetY(90)
	addTicketInfo(pdf, ticket)

	if len(qrCode) > 0 {
		pdf.SetY(pdf.GetY() + 20)
		if err := addQRCode(pdf, qrCode); err != nil {
			return nil, err
		}
	}

	pdf.SetY(760)
	addFooter(pdf)

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addHeader(pdf *gopdf.GoPdf, ticket TicketView) {
	pdf.SetX(40)
	pdf.SetY(40)
	pdf.Cell(nil, "EVENT TICKET")
	pdf.Br(24)
	pdf.SetX(40)
	pdf.Cell(nil, ticket.EventName)
}

func addTicketInfo(pdf *gopdf.GoPdf, ticket TicketView) {
	info := []struct {
		Label string
		Value string
	}{
		{"Ticket", ticket.TicketID},
		{"Venue", ticket.Venue},
		{"Date", ticket.StartsAt.Format("2006-01-02 15:04")},
		{"Place", ticket.Label},
		{"Holder", ticket.HolderMail},
	}

	for _, item := range info {
		if item.Value == "" {
			continue
		}
		pdf.SetX(40)
		pdf.Cell(nil, item.Label+": "+item.Value)
		pdf.Br(20)
	}
}

func addQRCode(pdf *gopdf.GoPdf, qrCode []byte) error {
	img, err := png.Decode(bytes.NewReader(qrCode))
	if err != nil {
		return fmt.Errorf("failed to decode QR image: %w", err)
	}
	rect := &gopdf.Rect{W: 180, H: 180}
	if err := pdf.ImageFrom(img, 40, pdf.GetY(), rect); err != nil {
		return fmt.Errorf("failed to draw QR code: %w", err)
	}
	return nil
}

func addFooter(pdf *gopdf.GoPdf) {
	pdf.SetX(40)
	pdf.Cell(nil, "Present this code at the entrance. It is valid for one entry.")
}
