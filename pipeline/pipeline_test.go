package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/fetcher"
	"auto_seo_article_pipeline/generator"
	"auto_seo_article_pipeline/links"
	"auto_seo_article_pipeline/retry"
	"auto_seo_article_pipeline/store"
	"auto_seo_article_pipeline/video"
)

type fakeWriter struct {
	words   int
	fail    map[string]error
	started chan string
	release chan struct{}
}

func (w *fakeWriter) Outline(_ context.Context, b generator.Brief) (generator.Outline, error) {
	if err := w.fail[b.Topic]; err != nil {
		return generator.Outline{}, err
	}
	return generator.Outline{
		JSON: fmt.Sprintf(`{"title":%q,"slug":%q}`, b.Topic, content.Slugify(b.Topic)),
		Sections: []generator.OutlineSection{
			{Heading: "Part One"}, {Heading: "Part Two"}, {Heading: "Part Three"},
		},
	}, nil
}

func (w *fakeWriter) Section(ctx context.Context, b generator.Brief, o generator.Outline, idx int) (string, error) {
	if w.started != nil {
		select {
		case w.started <- b.Topic:
		default:
		}
		select {
		case <-w.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "<h2>" + o.Sections[idx].Heading + "</h2>\n<p>" + strings.TrimSpace(strings.Repeat("word ", w.words)) + "</p>", nil
}

type fakeImages struct {
	onCall func()
}

func (f fakeImages) GenerateImage(context.Context, string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return "aW1n", nil
}

type fakeResearch struct {
	videoErr error
}

func (fakeResearch) Enabled() bool { return true }

func (fakeResearch) Search(_ context.Context, q string) (*content.SerpSnapshot, error) {
	return &content.SerpSnapshot{Query: q, Results: []content.SerpResult{{Position: 1, Title: "Top", Link: "https://example.org/top"}}}, nil
}

func (r fakeResearch) Videos(context.Context, string) ([]video.Video, error) {
	if r.videoErr != nil {
		return nil, r.videoErr
	}
	return []video.Video{{ID: "dQw4w9WgXcQ"}, {ID: "9bZkp7q19f0"}}, nil
}

func newOrchestrator(t *testing.T, deps Deps, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(deps, opts)
	require.NoError(t, err)
	return o
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return !o.Running() }, 5*time.Second, 5*time.Millisecond)
}

func TestBusDeliversAndDrops(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{Type: EventQueued})

	ch, unsubscribe := bus.Subscribe(1)
	bus.Publish(Event{Type: EventStarted, ItemID: "a"})
	bus.Publish(Event{Type: EventDone, ItemID: "a"})

	e := <-ch
	assert.Equal(t, EventStarted, e.Type)
	assert.False(t, e.At.IsZero())

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	bus.Publish(Event{Type: EventDone})
}

func TestWorklist(t *testing.T) {
	w := NewWorklist()
	w.Put(content.ContentItem{ID: "a", Title: "A"})
	w.Put(content.ContentItem{ID: "b", Title: "B"})
	w.Put(content.ContentItem{ID: "c", Title: "C"})
	w.Put(content.ContentItem{ID: "a", Title: "A2"})

	got, ok := w.Update("b", func(it *content.ContentItem) { it.Title = "B2"; it.ID = "hijack" })
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	_, ok = w.Update("missing", func(*content.ContentItem) {})
	assert.False(t, ok)

	items := w.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "A2", items[0].Title)
	assert.Equal(t, "B2", items[1].Title)
	assert.Equal(t, "C", items[2].Title)
	c, ok := w.Get("c")
	require.True(t, ok)
	assert.Equal(t, "C", c.Title)
}

func TestNewRequiresWriter(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestEnqueueDefaults(t *testing.T) {
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{}}, Options{})
	items := o.Enqueue(content.ContentItem{Title: "A"}, content.ContentItem{ID: "fixed", Title: "B", Variant: content.VariantPillar})

	require.Len(t, items, 2)
	assert.NotEmpty(t, items[0].ID)
	assert.Equal(t, content.VariantStandard, items[0].Variant)
	assert.Equal(t, content.FormatStandard, items[0].Format)
	assert.Equal(t, content.StatusIdle, items[0].Status)
	assert.Equal(t, "Queued", items[0].StatusText)
	assert.Equal(t, "fixed", items[1].ID)
	assert.Equal(t, 2, o.Queued())

	o.Enqueue(content.ContentItem{ID: "fixed", Title: "B again"})
	assert.Equal(t, 2, o.Queued())
	assert.Len(t, o.Items(), 2)
}

func TestRunGeneratesWithAgent(t *testing.T) {
	agent, err := generator.NewAgent(generator.MockLLM{SectionWords: 500})
	require.NoError(t, err)
	engine := links.NewEngine([]links.Page{
		{Slug: "content-calendar", Title: "Content Calendar Basics", URL: "https://example.com/content-calendar/"},
		{Slug: "publish-consistently", Title: "Publish Consistently", URL: "https://example.com/publish-consistently/"},
	}, links.Options{MinLinks: 1, UTM: links.DefaultUTM})
	st := store.NewMemory()

	o := newOrchestrator(t, Deps{
		Writer:   agent,
		Research: fakeResearch{videoErr: errors.New("quota exceeded")},
		Images:   generator.MockImages{},
		Links:    engine,
		Store:    st,
	}, Options{Workers: 2, MinWords: 2200, MaxWords: 4500})

	events, unsubscribe := o.Events().Subscribe(256)
	defer unsubscribe()

	queued := o.Enqueue(
		content.ContentItem{Title: "Editorial Planning"},
		content.ContentItem{Title: "Keyword Research", Variant: content.VariantCluster, Parent: "Editorial Planning"},
	)
	require.NoError(t, o.Run(context.Background()))

	for _, q := range queued {
		item, ok := o.Item(q.ID)
		require.True(t, ok)
		assert.Equal(t, content.StatusDone, item.Status, item.StatusText)
		require.NotNil(t, item.Content)
		require.NotNil(t, item.Content.Quality)
		assert.GreaterOrEqual(t, item.Content.Quality.WordCount, 2200)
		assert.NotContains(t, item.Content.Content, "[LINK")
		require.NotNil(t, item.Content.SerpData)
		assert.Equal(t, q.Title, item.Content.SerpData.Query)
		require.Len(t, item.Content.ImageDetails, 2)
		assert.True(t, strings.HasPrefix(item.Content.ImageDetails[0].GeneratedImage, "data:image/png;base64,"))

		saved, err := st.Get(context.Background(), q.ID)
		require.NoError(t, err)
		assert.Equal(t, content.StatusDone, saved.Status)
	}

	var done int
	for len(events) > 0 {
		if e := <-events; e.Type == EventDone {
			done++
		}
	}
	assert.Equal(t, 2, done)
}

func TestTooShortKeepsDraft(t *testing.T) {
	st := store.NewMemory()
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{words: 50}, Store: st}, Options{MinWords: 2200})
	item := o.Enqueue(content.ContentItem{Title: "Thin Topic"})[0]

	require.NoError(t, o.Run(context.Background()))

	got, _ := o.Item(item.ID)
	assert.Equal(t, content.StatusError, got.Status)
	assert.Contains(t, got.StatusText, "Content too short")
	require.NotNil(t, got.Content)
	assert.Contains(t, got.Content.Content, "Part Three")

	saved, err := st.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusError, saved.Status)
}

func TestPillarUsesHigherMinimum(t *testing.T) {
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{words: 400}}, Options{MinWords: 1000, PillarMinWords: 3000})
	std := o.Enqueue(content.ContentItem{Title: "Cluster Piece"})[0]
	pillar := o.Enqueue(content.ContentItem{Title: "Pillar Piece", Variant: content.VariantPillar})[0]

	require.NoError(t, o.Run(context.Background()))

	got, _ := o.Item(std.ID)
	assert.Equal(t, content.StatusDone, got.Status)
	got, _ = o.Item(pillar.ID)
	assert.Equal(t, content.StatusError, got.Status)
}

func TestFailedItemDoesNotAffectOthers(t *testing.T) {
	w := &fakeWriter{words: 100, fail: map[string]error{"Broken": &retry.TerminalError{Err: errors.New("http 400: bad request")}}}
	o := newOrchestrator(t, Deps{Writer: w}, Options{Workers: 1, MinWords: 200})
	items := o.Enqueue(content.ContentItem{Title: "Broken"}, content.ContentItem{Title: "Fine"})

	require.NoError(t, o.Run(context.Background()))

	broken, _ := o.Item(items[0].ID)
	assert.Equal(t, content.StatusError, broken.Status)
	assert.Contains(t, broken.StatusText, "rejected")
	assert.Nil(t, broken.Content)

	fine, _ := o.Item(items[1].ID)
	assert.Equal(t, content.StatusDone, fine.Status)
}

func TestCancelQueuedItem(t *testing.T) {
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{words: 10}}, Options{})
	item := o.Enqueue(content.ContentItem{Title: "Later"})[0]

	assert.True(t, o.Cancel(item.ID))
	assert.False(t, o.Cancel(item.ID))
	assert.False(t, o.Cancel("unknown"))
	assert.Equal(t, 0, o.Queued())

	require.NoError(t, o.Run(context.Background()))
	got, _ := o.Item(item.ID)
	assert.Equal(t, content.StatusIdle, got.Status)
	assert.Equal(t, "Cancelled", got.StatusText)
}

func TestCancelGeneratingItem(t *testing.T) {
	w := &fakeWriter{words: 10, started: make(chan string, 1), release: make(chan struct{})}
	o := newOrchestrator(t, Deps{Writer: w}, Options{Workers: 1})
	item := o.Enqueue(content.ContentItem{Title: "In Flight"})[0]

	require.True(t, o.Start(context.Background()))
	<-w.started
	got, _ := o.Item(item.ID)
	require.Equal(t, content.StatusGenerating, got.Status)

	assert.True(t, o.Cancel(item.ID))
	close(w.release)
	waitIdle(t, o)

	got, _ = o.Item(item.ID)
	assert.Equal(t, content.StatusIdle, got.Status)
	assert.Equal(t, "Cancelled", got.StatusText)
	assert.Nil(t, got.Content)
}

func TestCancelDuringImagesSkipsLaterPhases(t *testing.T) {
	images := &fakeImages{}
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{words: 10}, Images: images}, Options{})
	item := o.Enqueue(content.ContentItem{Title: "Cut Short"})[0]
	images.onCall = func() { o.Cancel(item.ID) }

	events, unsubscribe := o.Events().Subscribe(256)
	defer unsubscribe()
	require.NoError(t, o.Run(context.Background()))

	got, _ := o.Item(item.ID)
	assert.Equal(t, content.StatusIdle, got.Status)
	assert.Equal(t, "Cancelled", got.StatusText)
	assert.Nil(t, got.Content)

	var phases []string
	for len(events) > 0 {
		if e := <-events; e.Type == EventProgress {
			phases = append(phases, e.Phase)
		}
	}
	assert.Contains(t, phases, PhaseImages)
	assert.NotContains(t, phases, PhaseLinks)
	assert.NotContains(t, phases, PhaseQuality)
}

func TestStopLeavesQueue(t *testing.T) {
	w := &fakeWriter{words: 10, started: make(chan string, 1), release: make(chan struct{})}
	o := newOrchestrator(t, Deps{Writer: w}, Options{Workers: 1})
	items := o.Enqueue(
		content.ContentItem{Title: "First"},
		content.ContentItem{Title: "Second"},
		content.ContentItem{Title: "Third"},
	)

	require.True(t, o.Start(context.Background()))
	assert.Equal(t, "First", <-w.started)
	assert.False(t, o.Start(context.Background()))
	assert.ErrorIs(t, o.Run(context.Background()), ErrRunning)

	o.Stop()
	close(w.release)
	waitIdle(t, o)

	first, _ := o.Item(items[0].ID)
	assert.Equal(t, content.StatusDone, first.Status)
	assert.Equal(t, 2, o.Queued())
	second, _ := o.Item(items[1].ID)
	assert.Equal(t, content.StatusIdle, second.Status)
	assert.Equal(t, "Queued", second.StatusText)

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 0, o.Queued())
	third, _ := o.Item(items[2].ID)
	assert.Equal(t, content.StatusDone, third.Status)
}

func TestRequeue(t *testing.T) {
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{words: 10}}, Options{})
	item := o.Enqueue(content.ContentItem{Title: "Again"})[0]
	require.NoError(t, o.Run(context.Background()))

	require.NoError(t, o.Requeue(item.ID))
	got, _ := o.Item(item.ID)
	assert.Equal(t, content.StatusIdle, got.Status)
	assert.Nil(t, got.Content)
	assert.Equal(t, 1, o.Queued())
	assert.Error(t, o.Requeue("missing"))
}

func TestFinishedItemsAreReplacedNotDeleted(t *testing.T) {
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{words: 10}}, Options{})
	items := o.Enqueue(content.ContentItem{Title: "Kept"}, content.ContentItem{Title: "Other"})
	require.NoError(t, o.Run(context.Background()))

	done, _ := o.Item(items[0].ID)
	require.Equal(t, content.StatusDone, done.Status)
	require.NotNil(t, done.Content)

	replaced := o.Enqueue(content.ContentItem{ID: items[0].ID, Title: "Kept, new plan"})
	require.Len(t, replaced, 1)
	assert.Equal(t, items[0].ID, replaced[0].ID)

	all := o.Items()
	require.Len(t, all, 2)
	assert.Equal(t, items[0].ID, all[0].ID)
	assert.Equal(t, "Kept, new plan", all[0].Title)
	assert.Nil(t, all[0].Content)
	assert.Equal(t, content.StatusDone, all[1].Status)
}

func TestLinkOptimizer(t *testing.T) {
	engine := links.NewEngine([]links.Page{
		{Slug: "seo-guide", Title: "SEO Guide", URL: "https://example.com/seo-guide/"},
	}, links.Options{})
	o := newOrchestrator(t, Deps{Writer: &fakeWriter{}, Links: engine}, Options{MinWords: 5000})
	items := o.Enqueue(
		content.ContentItem{
			Title:      "Old Post",
			Variant:    content.VariantLinkOptimizer,
			SourceURL:  "https://example.com/old-post/",
			SourceText: `<p>Read [LINK slug="seo-guide-2025" text="SEO Guide"] first.</p>`,
		},
		content.ContentItem{Title: "Empty", Variant: content.VariantLinkOptimizer},
	)

	require.NoError(t, o.Run(context.Background()))

	got, _ := o.Item(items[0].ID)
	require.Equal(t, content.StatusDone, got.Status, got.StatusText)
	assert.Equal(t, "old-post", got.Content.Slug)
	assert.Contains(t, got.Content.Content, `<a href="https://example.com/seo-guide/">SEO Guide</a>`)
	assert.Empty(t, got.Content.ImageDetails)

	empty, _ := o.Item(items[1].ID)
	assert.Equal(t, content.StatusError, empty.Status)
}

func TestDescribe(t *testing.T) {
	netErr := &fetcher.NetworkError{URL: "https://example.com", Transport: "direct", Attempts: []string{"direct"}, Err: errors.New("connection reset")}
	assert.Contains(t, describe(fmt.Errorf("outline: %w", netErr)), "edge security")
	assert.Contains(t, describe(&generator.JSONExtractionError{Raw: "nope"}), "could not be repaired")
	assert.Contains(t, describe(fmt.Errorf("x: %w", retry.ErrRetriesExhausted)), "kept failing")
	assert.Equal(t, "plain", describe(errors.New("plain")))
}
