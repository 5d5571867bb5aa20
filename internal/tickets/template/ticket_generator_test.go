package template

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_MissingFont(t *testing.T) {
	g := NewTicketPDFGenerator(filepath.Join(t.TempDir(), "nope.ttf"))

	_, err := g.Generate(TicketView{TicketID: "t1"}, nil)
	assert.ErrorContains(t, err, "failed to load font")
}

func TestGenerate_WithSystemFont(t *testing.T) {
	font := "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"
	if _, err := os.Stat(font); err != nil {
		t.Skip("DejaVuSans not installed")
	}

	pdf, err := NewTicketPDFGenerator(font).Generate(TicketView{
		TicketID:  "t1",
		EventName: "Recital",
		StartsAt:  time.Date(2026, 12, 1, 21, 0, 0, 0, time.UTC),
		Label:     "A1",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf[:4]))
}
