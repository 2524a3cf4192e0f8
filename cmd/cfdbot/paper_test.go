package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alejandrodnm/cfdbot/internal/adapters/paper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPaperMarkets_SampleFile(t *testing.T) {
	b := paper.New(nil)
	require.NoError(t, loadPaperMarkets(b, filepath.Join("..", "..", "config", "paper_markets.yaml")))

	snap, err := b.Quote(context.Background(), "CS.D.CFEGOLD.CFE.IP")
	require.NoError(t, err)
	assert.True(t, snap.Tradable)
	assert.Equal(t, 0.1, snap.DealIncrement)

	res, err := b.Search(context.Background(), "spot gold")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "CS.D.CFDGOLD.CFDGC.IP", res[0].VenueID)
}

func TestLoadPaperMarkets_UnknownSearchVenue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("markets: []\nsearch:\n  Gold: [X.Y.Z]\n"), 0o600))

	err := loadPaperMarkets(paper.New(nil), path)
	assert.ErrorContains(t, err, "unknown venue")
}
