package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNewGenAIEmbedderDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewGenAIEmbedder(nil, Config{})
	require.Error(t, err)

	e, err := NewGenAIEmbedder(&genai.Client{}, Config{})
	require.NoError(t, err)
	require.Equal(t, DefaultModel, e.model)
	require.Equal(t, DefaultDimensions, e.Dimensions())
	require.False(t, e.query)

	q := e.ForQueries()
	require.True(t, q.query)
	require.False(t, e.query, "ForQueries must not mutate the document embedder")
}
