package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToRawItemsParsesOptionalFields(t *testing.T) {
	t.Parallel()

	items, err := ToRawItems([]map[string]string{{
		"title":          " Scaling laws ",
		"url":            "https://example.com/p",
		"entry_id":       "p-1",
		"summary":        "We study scaling.",
		"authors":        "A. Author, B. Author,",
		"published_date": "2025-02-03",
	}}, "Example", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	it := items[0]
	require.Equal(t, "Scaling laws", it.Title)
	require.Equal(t, "We study scaling.", it.Abstract)
	require.Equal(t, []string{"A. Author", "B. Author"}, it.Authors)
	require.NotNil(t, it.PublishedAt)
	require.Equal(t, 2025, it.PublishedAt.Year())
}

func TestToRawItemsMissingKeys(t *testing.T) {
	t.Parallel()

	_, err := ToRawItems([]map[string]string{{"title": "x", "url": " "}}, "S", 0)
	require.ErrorIs(t, err, ErrMissingKeys)
	require.Contains(t, err.Error(), "entry_id, url")
}
