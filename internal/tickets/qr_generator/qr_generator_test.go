package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQRID_RoundTrip(t *testing.T) {
	g := NewQRGenerator("test-secret")

	id, err := g.NewQRID("ticket-123")
	require.NoError(t, err)

	got, err := g.TicketID(id)
	require.NoError(t, err)
	assert.Equal(t, "ticket-123", got)
}

func TestNewQRID_Opaque(t *testing.T) {
	g := NewQRGenerator("test-secret")

	a, err := g.NewQRID("ticket-123")
	require.NoError(t, err)
	b, err := g.NewQRID("ticket-123")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "ticket-123")
}

func TestTicketID_WrongSecret(t *testing.T) {
	id, err := NewQRGenerator("one").NewQRID("ticket-123")
	require.NoError(t, err)

	_, err = NewQRGenerator("two").TicketID(id)
	assert.ErrorIs(t, err, ErrInvalidQR)

	_, err = NewQRGenerator("one").TicketID("not base64 !!")
	assert.ErrorIs(t, err, ErrInvalidQR)
}

func TestPNG(t *testing.T) {
	g := NewQRGenerator("test-secret")
	data, err := g.PNG("some-qr-id")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, imageSize, img.Bounds().Dx())
}
