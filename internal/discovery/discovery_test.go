package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/llm"
	storemem "github.com/JakeFAU/synthesis-engine/internal/storage/memory"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storemem.NewStore()
	_, err := store.CreateSource(ctx, engine.Source{Name: "Known", URL: "https://known.test/blog", ParserType: "feed", IsActive: true})
	require.NoError(t, err)

	searcher := fakeSearcher{
		"q1": {"https://lab.test/blog", "https://known.test/blog/", "https://spam.test"},
		"q2": {"https://LAB.test/blog#top", "https://news.test/ai"},
		"q3": nil,
	}
	classifier := &fakeClassifier{verdicts: map[string]llm.Classification{
		"https://lab.test/blog": {IsHighQuality: true, SourceName: "Lab Blog", SourceType: "blog"},
		"https://spam.test":     {IsHighQuality: false, Reasoning: "marketing"},
		"https://news.test/ai":  {IsHighQuality: true, SourceName: "", SourceType: "news"},
	}}
	d := New(store, searcher, classifier, nil, nil, Config{Queries: []string{"q1", "q2", "q3", "broken"}}, zap.NewNop())

	res, err := d.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Candidates: 4, Evaluated: 3, Added: 2}, res)
	require.ElementsMatch(t, []string{"https://lab.test/blog", "https://spam.test", "https://news.test/ai"}, classifier.seen())

	sources, err := store.ListSources(ctx, engine.SourceFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, sources, 3)
	require.Equal(t, "Lab Blog", sources[1].Name)
	require.Equal(t, "blog", sources[1].ParserType)
	require.Equal(t, "https://news.test/ai", sources[2].Name, "url is the fallback name")

	// A second run finds nothing new.
	added, err := d.Discover(ctx)
	require.NoError(t, err)
	require.Zero(t, added)
}

func TestDiscoverSkipsConflictsAndClassifierErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storemem.NewStore()
	_, err := store.CreateSource(ctx, engine.Source{Name: "Lab Blog", URL: "https://other.test", ParserType: "feed"})
	require.NoError(t, err)

	searcher := fakeSearcher{"q": {"https://lab.test/blog", "https://flaky.test"}}
	classifier := &fakeClassifier{verdicts: map[string]llm.Classification{
		"https://lab.test/blog": {IsHighQuality: true, SourceName: "Lab Blog", SourceType: "blog"},
	}}
	d := New(store, searcher, classifier, nil, nil, Config{Queries: []string{"q"}}, zap.NewNop())

	added, err := d.Discover(ctx)
	require.NoError(t, err)
	require.Zero(t, added, "name conflict is a silent skip")
}

func TestDiscoverHonorsGates(t *testing.T) {
	t.Parallel()

	store := storemem.NewStore()
	searcher := fakeSearcher{"q": {"https://lab.test"}}
	classifier := &fakeClassifier{}
	denied := gateFunc(func(context.Context) error { return errors.New("throttled") })
	d := New(store, searcher, classifier, denied, nil, Config{Queries: []string{"q"}}, zap.NewNop())

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Candidates)

	d = New(store, searcher, classifier, nil, denied, Config{Queries: []string{"q"}}, zap.NewNop())
	res, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Evaluated)
	require.Zero(t, res.Added)
	require.Empty(t, classifier.seen())
}

func TestDiscoverOnePerSite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storemem.NewStore()
	_, err := store.CreateSource(ctx, engine.Source{Name: "Lab", URL: "https://lab.ai/news", ParserType: "feed", IsActive: true})
	require.NoError(t, err)

	searcher := fakeSearcher{"q": {
		"https://blog.lab.ai/",
		"https://research.example.co.uk/ml",
		"https://www.example.co.uk/about",
		"https://alice.github.io/notes",
		"https://bob.github.io/notes",
	}}
	classifier := &fakeClassifier{verdicts: map[string]llm.Classification{
		"https://research.example.co.uk/ml": {IsHighQuality: true, SourceName: "Example Research", SourceType: "blog"},
		"https://alice.github.io/notes":     {IsHighQuality: true, SourceName: "Alice", SourceType: "rss"},
		"https://bob.github.io/notes":       {IsHighQuality: true, SourceName: "Bob", SourceType: "rss"},
	}}
	d := New(store, searcher, classifier, nil, nil, Config{Queries: []string{"q"}, OnePerSite: true}, zap.NewNop())

	res, err := d.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, res.Candidates)
	require.Equal(t, 3, res.Added)
	require.Equal(t, []string{
		"https://research.example.co.uk/ml",
		"https://alice.github.io/notes",
		"https://bob.github.io/notes",
	}, classifier.seen())
}

func TestDiscoverOnePerSiteRetriesAfterRejection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storemem.NewStore()
	searcher := fakeSearcher{"q": {
		"https://lab.ai/careers",
		"https://www.lab.ai/flaky",
		"https://blog.lab.ai/",
		"https://research.lab.ai/",
	}}
	classifier := &fakeClassifier{verdicts: map[string]llm.Classification{
		"https://lab.ai/careers":   {IsHighQuality: false, Reasoning: "job listings"},
		"https://blog.lab.ai/":     {IsHighQuality: true, SourceName: "Lab Blog", SourceType: "blog"},
		"https://research.lab.ai/": {IsHighQuality: true, SourceName: "Lab Research", SourceType: "blog"},
	}}
	d := New(store, searcher, classifier, nil, nil, Config{Queries: []string{"q"}, OnePerSite: true}, zap.NewNop())

	res, err := d.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Evaluated, "a rejection and a classifier error do not claim the site")
	require.Equal(t, 1, res.Added)
	require.Equal(t, []string{"https://lab.ai/careers", "https://www.lab.ai/flaky", "https://blog.lab.ai/"}, classifier.seen())

	sources, err := store.ListSources(ctx, engine.SourceFilter{})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "Lab Blog", sources[0].Name)
}

func TestSiteKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://Blog.OpenAI.com/research": "openai.com",
		"https://www.bbc.co.uk/news":       "bbc.co.uk",
		"https://alice.github.io/":         "alice.github.io",
		"http://localhost:8080/feed":       "localhost",
	}
	for in, want := range cases {
		require.Equal(t, want, SiteKey(in), in)
	}
}

type fakeSearcher map[string][]string

func (f fakeSearcher) Search(_ context.Context, query string, _ int) ([]string, error) {
	urls, ok := f[query]
	if !ok {
		return nil, errors.New("search backend error")
	}
	return urls, nil
}

type fakeClassifier struct {
	mu       sync.Mutex
	verdicts map[string]llm.Classification
	urls     []string
}

func (f *fakeClassifier) Classify(_ context.Context, url string) (llm.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	v, ok := f.verdicts[url]
	if !ok {
		return llm.Classification{}, errors.New("model returned garbage")
	}
	return v, nil
}

func (f *fakeClassifier) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type gateFunc func(context.Context) error

func (g gateFunc) WaitForToken(ctx context.Context) error { return g(ctx) }
