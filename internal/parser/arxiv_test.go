package parser

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
<entry>
  <id>http://arxiv.org/abs/2501.00001v1</id>
  <published>2025-01-01T18:00:00Z</published>
  <title>Sparse Mixtures at Scale</title>
  <summary>  We scale sparse mixtures.  </summary>
  <author><name>Ada Lovelace</name></author>
  <author><name>Alan Turing</name></author>
  <link href="http://arxiv.org/abs/2501.00001v1" rel="alternate" type="text/html"/>
  <link title="pdf" href="http://arxiv.org/pdf/2501.00001v1" rel="related" type="application/pdf"/>
  <arxiv:primary_category term="cs.LG"/>
</entry>
</feed>`

func TestArxivQueryURL(t *testing.T) {
	t.Parallel()

	u, err := url.Parse(ArxivQueryURL("https://arxiv.org/corr/home", 0))
	require.NoError(t, err)
	require.Equal(t, ArxivDefaultQuery, u.Query().Get("search_query"))
	require.Equal(t, "8", u.Query().Get("max_results"))
	require.Equal(t, "submittedDate", u.Query().Get("sortBy"))

	custom := ArxivQueryURL("http://export.arxiv.org/api/query?search_query=cat:cs.RO&max_results=99", 5)
	u, err = url.Parse(custom)
	require.NoError(t, err)
	require.Equal(t, "cat:cs.RO", u.Query().Get("search_query"))
	require.Equal(t, "5", u.Query().Get("max_results"))
}

func TestArxivParserFetch(t *testing.T) {
	t.Parallel()

	apiURL := ArxivQueryURL("https://arxiv.org/corr/home", 3)
	fetcher := &fakeFetcher{pages: map[string]string{apiURL: arxivFixture}}
	items, err := NewArxivParser(fetcher).Fetch(context.Background(),
		Request{URL: "https://arxiv.org/corr/home", Name: "arXiv", Limit: 3})
	require.NoError(t, err)
	require.Len(t, items, 1)
	it := items[0]
	require.Equal(t, "http://arxiv.org/abs/2501.00001v1", it.EntryID)
	require.Equal(t, "http://arxiv.org/pdf/2501.00001v1", it.URL)
	require.Equal(t, "We scale sparse mixtures.", it.Abstract)
	require.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, it.Authors)
	require.Equal(t, "arXiv", it.SourceName)
}
