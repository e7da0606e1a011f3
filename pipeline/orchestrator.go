// Package pipeline drives content items through research, outlining, section writing and
// post-processing with a bounded pool of workers.
//
// Item lifecycle: idle -> generating -> done | error, and generating -> idle on cancel.
// Cancellation is cooperative: it is checked between phases and between sections, never
// interrupting a provider call already in flight. The result of such a call is discarded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/fetcher"
	"auto_seo_article_pipeline/generator"
	"auto_seo_article_pipeline/links"
	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/metrics"
	"auto_seo_article_pipeline/quality"
	"auto_seo_article_pipeline/retry"
	"auto_seo_article_pipeline/store"
	"auto_seo_article_pipeline/video"
)

// Phase names used in events and metrics.
const (
	PhaseResearch = "research"
	PhaseOutline  = "outline"
	PhaseSections = "sections"
	PhaseImages   = "images"
	PhaseLinks    = "links"
	PhaseVideo    = "video"
	PhaseQuality  = "quality"
	PhaseSave     = "save"
)

// ErrRunning is returned by Run while another run is draining the queue.
var ErrRunning = errors.New("pipeline already running")

var errCancelled = errors.New("cancelled")

// Writer produces the outline and the section HTML. *generator.Agent implements it.
type Writer interface {
	Outline(ctx context.Context, b generator.Brief) (generator.Outline, error)
	Section(ctx context.Context, b generator.Brief, o generator.Outline, idx int) (string, error)
}

// Researcher supplies SERP data and video candidates. *serp.Client implements it.
type Researcher interface {
	Enabled() bool
	Search(ctx context.Context, q string) (*content.SerpSnapshot, error)
	Videos(ctx context.Context, q string) ([]video.Video, error)
}

// Deps are the collaborators of an Orchestrator. Only Writer is required.
type Deps struct {
	Writer   Writer
	Research Researcher
	Images   generator.ImageGenerator
	Links    *links.Engine
	Store    store.Store
	Metrics  *metrics.Metrics
	Logger   logger.Logger
}

// Options tunes an Orchestrator.
type Options struct {
	Workers        int
	MinWords       int
	MaxWords       int
	PillarMinWords int
	VideoCount     int
	Now            func() time.Time
}

// OptionsFromConfig maps the pipeline and quality config sections.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Workers:        cfg.Pipeline.Workers,
		MinWords:       cfg.Quality.MinWords,
		MaxWords:       cfg.Quality.MaxWords,
		PillarMinWords: cfg.Quality.PillarMinWords,
	}
}

// Orchestrator owns the worklist, the queue, the cancellation set and the stop flag.
type Orchestrator struct {
	deps Deps
	opts Options
	list *Worklist
	bus  *Bus
	log  logger.Logger

	mu        sync.Mutex
	queue     []string
	cancelled map[string]struct{}
	running   bool
	stop      atomic.Bool
}

// New validates deps and applies defaults.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Writer == nil {
		return nil, errors.New("pipeline: writer is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Links == nil {
		deps.Links = links.NewEngine(nil, links.Options{Logger: deps.Logger})
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.PillarMinWords <= 0 {
		opts.PillarMinWords = opts.MinWords
	}
	if opts.VideoCount <= 0 {
		opts.VideoCount = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		deps:      deps,
		opts:      opts,
		list:      NewWorklist(),
		bus:       NewBus(),
		log:       deps.Logger,
		cancelled: make(map[string]struct{}),
	}, nil
}

// Events returns the event bus.
func (o *Orchestrator) Events() *Bus { return o.bus }

// Items returns a snapshot of the worklist.
func (o *Orchestrator) Items() []content.ContentItem { return o.list.Items() }

// Item returns one item by ID.
func (o *Orchestrator) Item(id string) (content.ContentItem, bool) { return o.list.Get(id) }

// Enqueue adds items to the worklist and the queue. Missing IDs are generated. An item
// that is already generating is left alone; any other existing item is reset and queued again.
func (o *Orchestrator) Enqueue(items ...content.ContentItem) []content.ContentItem {
	out := make([]content.ContentItem, 0, len(items))
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if existing, ok := o.list.Get(item.ID); ok && existing.Status == content.StatusGenerating {
			out = append(out, existing)
			continue
		}
		if !item.Variant.Valid() {
			item.Variant = content.VariantStandard
		}
		if item.Format == "" {
			item.Format = content.FormatStandard
		}
		item.Status = content.StatusIdle
		item.StatusText = "Queued"
		item.UpdatedAt = o.opts.Now()
		o.list.Put(item)
		o.removeQueuedLocked(item.ID)
		o.queue = append(o.queue, item.ID)
		o.publish(Event{Type: EventQueued, ItemID: item.ID, Message: item.Title})
		out = append(out, item)
	}
	return out
}

// Requeue queues an existing item again.
func (o *Orchestrator) Requeue(id string) error {
	item, ok := o.list.Get(id)
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	if item.Status == content.StatusGenerating {
		return fmt.Errorf("item %s is generating", id)
	}
	item.Content = nil
	o.Enqueue(item)
	return nil
}

// Cancel returns a queued item to idle immediately, or flags a generating item so that it
// returns to idle at its next checkpoint. It reports whether the item was cancellable.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.removeQueuedLocked(id) {
		o.list.Update(id, func(it *content.ContentItem) {
			it.Status = content.StatusIdle
			it.StatusText = "Cancelled"
			it.UpdatedAt = o.opts.Now()
		})
		o.publish(Event{Type: EventCancelled, ItemID: id, Message: "Removed from queue"})
		return true
	}
	item, ok := o.list.Get(id)
	if !ok || item.Status != content.StatusGenerating {
		return false
	}
	o.cancelled[id] = struct{}{}
	return true
}

// Stop asks the workers to finish their current item and claim nothing more. Queued items
// stay queued for the next run.
func (o *Orchestrator) Stop() {
	o.stop.Store(true)
	o.publish(Event{Type: EventStopped, Message: "Stopping after in-flight items"})
}

// Running reports whether a run is draining the queue.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Queued returns the number of items waiting for a worker.
func (o *Orchestrator) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Run drains the queue with the configured number of workers and returns when the queue is
// empty, Stop was called, or ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.begin() {
		return ErrRunning
	}
	defer o.end()
	return o.drain(ctx)
}

// Start runs the queue in the background. It returns false if a run is already active.
func (o *Orchestrator) Start(ctx context.Context) bool {
	if !o.begin() {
		return false
	}
	go func() {
		defer o.end()
		if err := o.drain(ctx); err != nil {
			o.log.Warn("pipeline run ended", logger.Error(err))
		}
	}()
	return true
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	o.stop.Store(false)
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) drain(ctx context.Context) error {
	o.log.Info("pipeline run started", logger.Int("workers", o.opts.Workers), logger.Int("queued", o.Queued()))
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < o.opts.Workers; w++ {
		g.Go(func() error {
			for {
				if o.stop.Load() {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				id, ok := o.claim()
				if !ok {
					return nil
				}
				o.process(ctx, id)
			}
		})
	}
	err := g.Wait()
	o.log.Info("pipeline run finished", logger.Int("queued", o.Queued()))
	return err
}

func (o *Orchestrator) claim() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) > 0 {
		id := o.queue[0]
		o.queue = o.queue[1:]
		item, ok := o.list.Update(id, func(it *content.ContentItem) {
			it.Status = content.StatusGenerating
			it.StatusText = "Starting..."
			it.UpdatedAt = o.opts.Now()
		})
		if !ok {
			continue
		}
		delete(o.cancelled, id)
		o.publish(Event{Type: EventStarted, ItemID: id, Message: item.Title})
		return id, true
	}
	return "", false
}

func (o *Orchestrator) removeQueuedLocked(id string) bool {
	for i, q := range o.queue {
		if q == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (o *Orchestrator) checkpoint(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.cancelled[id]; ok {
		return errCancelled
	}
	return nil
}

func (o *Orchestrator) progress(id, phase, msg string) {
	o.list.Update(id, func(it *content.ContentItem) {
		it.StatusText = msg
		it.UpdatedAt = o.opts.Now()
	})
	o.publish(Event{Type: EventProgress, ItemID: id, Phase: phase, Message: msg})
}

// phase runs fn after a cancellation checkpoint, surfacing msg and timing the phase.
func (o *Orchestrator) phase(id, name, msg string, fn func() error) error {
	if err := o.checkpoint(id); err != nil {
		return err
	}
	o.progress(id, name, msg)
	start := time.Now()
	err := fn()
	o.deps.Metrics.Phase(name, time.Since(start).Seconds())
	return err
}

func (o *Orchestrator) publish(e Event) {
	if e.At.IsZero() {
		e.At = o.opts.Now()
	}
	o.bus.Publish(e)
}

func (o *Orchestrator) process(ctx context.Context, id string) {
	item, ok := o.list.Get(id)
	if !ok {
		return
	}
	log := o.log.With(logger.String("item", id), logger.String("title", item.Title), logger.String("variant", string(item.Variant)))
	started := time.Now()

	var gc *content.GeneratedContent
	var err error
	if item.Variant == content.VariantLinkOptimizer {
		gc, err = o.optimize(ctx, item)
	} else {
		gc, err = o.generate(ctx, item, log)
	}
	if err == nil {
		// a cancel that arrived during the last phase still wins
		err = o.checkpoint(id)
	}
	o.finish(ctx, id, gc, err, log, time.Since(started))
}

func (o *Orchestrator) finish(ctx context.Context, id string, gc *content.GeneratedContent, err error, log logger.Logger, took time.Duration) {
	o.mu.Lock()
	delete(o.cancelled, id)
	o.mu.Unlock()

	var short *quality.ContentTooShortError
	switch {
	case errors.Is(err, errCancelled):
		o.list.Update(id, func(it *content.ContentItem) {
			it.Status = content.StatusIdle
			it.StatusText = "Cancelled"
			it.UpdatedAt = o.opts.Now()
		})
		o.deps.Metrics.ItemFinished("cancelled")
		o.publish(Event{Type: EventCancelled, ItemID: id, Message: "Cancelled"})
		log.Info("item cancelled")
		return

	case err == nil:
		words := 0
		if gc.Quality != nil {
			words = gc.Quality.WordCount
		}
		item, _ := o.list.Update(id, func(it *content.ContentItem) {
			it.Status = content.StatusDone
			it.StatusText = fmt.Sprintf("Done: %d words", words)
			it.Content = gc
			it.UpdatedAt = o.opts.Now()
		})
		o.save(ctx, item, log)
		o.deps.Metrics.ItemFinished(string(content.StatusDone))
		o.publish(Event{Type: EventDone, ItemID: id, Message: item.StatusText})
		log.Info("item done", logger.Int("words", words), logger.Duration("took", took))

	case errors.As(err, &short):
		item, _ := o.list.Update(id, func(it *content.ContentItem) {
			it.Status = content.StatusError
			it.StatusText = fmt.Sprintf("Content too short: %d words (minimum %d). Draft kept for review.", short.WordCount, short.MinWords)
			it.Content = gc
			it.UpdatedAt = o.opts.Now()
		})
		o.save(ctx, item, log)
		o.deps.Metrics.ItemFinished(string(content.StatusError))
		o.publish(Event{Type: EventFailed, ItemID: id, Phase: PhaseQuality, Message: item.StatusText})
		log.Warn("item rejected by quality gate", logger.Int("words", short.WordCount), logger.Int("min_words", short.MinWords))

	default:
		msg := describe(err)
		o.list.Update(id, func(it *content.ContentItem) {
			it.Status = content.StatusError
			it.StatusText = msg
			it.UpdatedAt = o.opts.Now()
		})
		o.deps.Metrics.ItemFinished(string(content.StatusError))
		o.publish(Event{Type: EventFailed, ItemID: id, Message: msg})
		log.Error("item failed", logger.Error(err), logger.Duration("took", took))
	}
}

func (o *Orchestrator) save(ctx context.Context, item content.ContentItem, log logger.Logger) {
	if o.deps.Store == nil {
		return
	}
	o.progress(item.ID, PhaseSave, item.StatusText)
	// the run context may already be cancelled; the artifact is still worth keeping
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.deps.Store.Save(ctx, item); err != nil {
		log.Error("failed to save artifact", logger.Error(err))
	}
}

// describe turns a failure into the status text shown next to the item.
func describe(err error) string {
	var netErr *fetcher.NetworkError
	if errors.As(err, &netErr) {
		return netErr.Hint()
	}
	var jsonErr *generator.JSONExtractionError
	if errors.As(err, &jsonErr) {
		return "The model returned output that could not be repaired into JSON. Try again or switch model. (" + err.Error() + ")"
	}
	var terminal *retry.TerminalError
	if errors.As(err, &terminal) {
		return "The provider rejected the request: " + err.Error()
	}
	if errors.Is(err, retry.ErrRetriesExhausted) {
		return "The provider kept failing, giving up: " + err.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Interrupted: " + err.Error()
	}
	return err.Error()
}

func (o *Orchestrator) minWords(v content.Variant) int {
	if v == content.VariantPillar {
		return o.opts.PillarMinWords
	}
	return o.opts.MinWords
}

func (o *Orchestrator) brief(item content.ContentItem) generator.Brief {
	b := generator.Brief{
		Topic:       strings.TrimSpace(item.Title),
		Variant:     item.Variant,
		Format:      item.Format,
		TargetWords: o.minWords(item.Variant) * 11 / 10,
		ParentTopic: item.Parent,
		Analysis:    item.Analysis,
	}
	for _, p := range o.deps.Links.Pages() {
		b.LinkTargets = append(b.LinkTargets, generator.LinkTarget{Slug: p.Slug, Title: p.Title})
	}
	return b
}

func (o *Orchestrator) generate(ctx context.Context, item content.ContentItem, log logger.Logger) (*content.GeneratedContent, error) {
	id := item.ID
	b := o.brief(item)
	if b.Topic == "" {
		return nil, errors.New("item has no topic")
	}

	err := o.phase(id, PhaseResearch, "Researching keyword and search landscape...", func() error {
		if o.deps.Research == nil || !o.deps.Research.Enabled() {
			return nil
		}
		snap, err := o.deps.Research.Search(ctx, b.Topic)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("serp research failed, continuing without it", logger.Error(err))
		} else {
			b.Serp = snap
		}
		candidates, err := o.deps.Research.Videos(ctx, b.Topic)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("video search failed, continuing without videos", logger.Error(err))
			return nil
		}
		b.Videos = video.Select(candidates, o.opts.VideoCount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var outline generator.Outline
	err = o.phase(id, PhaseOutline, "Drafting outline and metadata...", func() error {
		var err error
		outline, err = o.deps.Writer.Outline(ctx, b)
		return err
	})
	if err != nil {
		return nil, err
	}

	var parts []string
	err = o.phase(id, PhaseSections, fmt.Sprintf("Writing %d sections...", len(outline.Sections)), func() error {
		for i, sec := range outline.Sections {
			if err := o.checkpoint(id); err != nil {
				return err
			}
			o.progress(id, PhaseSections, fmt.Sprintf("Writing section %d/%d: %s", i+1, len(outline.Sections), sec.Heading))
			html, err := o.deps.Writer.Section(ctx, b, outline, i)
			if err != nil {
				return err
			}
			parts = append(parts, html)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload, err := sjson.Set(outline.JSON, "content", strings.Join(parts, "\n\n"))
	if err != nil {
		return nil, fmt.Errorf("assemble article: %w", err)
	}
	normalized := content.Normalize(payload, b.Topic)
	gc := &normalized
	gc.SerpData = b.Serp

	err = o.phase(id, PhaseImages, "Generating images...", func() error {
		if o.deps.Images == nil {
			return nil
		}
		for i, img := range gc.ImageDetails {
			data, err := o.deps.Images.GenerateImage(ctx, img.Prompt)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("image generation failed, keeping placeholder", logger.String("placeholder", img.Placeholder), logger.Error(err))
				continue
			}
			gc.ImageDetails[i].GeneratedImage = "data:image/png;base64," + data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.phase(id, PhaseLinks, "Resolving internal links...", func() error {
		body, rep := o.deps.Links.Process(gc.Content, gc.Slug)
		gc.Content = body
		o.deps.Metrics.Links(len(rep.Injected), len(rep.Repaired), len(rep.Dropped))
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.phase(id, PhaseVideo, "Checking embedded videos...", func() error {
		if len(b.Videos) < 2 {
			return nil
		}
		fixed, changed := video.EnforceUniqueEmbeds(gc.Content, b.Videos)
		if changed {
			gc.Content = fixed
			log.Info("replaced duplicated video embed", logger.String("video", b.Videos[1].ID))
		}
		o.deps.Metrics.Video(changed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.phase(id, PhaseQuality, "Checking quality...", func() error {
		gate := quality.Gate{MinWords: o.minWords(item.Variant), MaxWords: o.opts.MaxWords, Logger: log}
		words, err := gate.Check(gc.Content)
		hs := quality.HumanScore(gc.Content)
		gc.Quality = &content.QualityReport{WordCount: words, HumanScore: hs.Score, Flags: hs.Flags()}
		return err
	})
	return gc, err
}

// optimize runs the link engine over an existing article instead of generating one.
func (o *Orchestrator) optimize(ctx context.Context, item content.ContentItem) (*content.GeneratedContent, error) {
	if strings.TrimSpace(item.SourceText) == "" {
		return nil, errors.New("link-optimizer item has no source text")
	}
	slug := content.SlugFromURL(item.SourceURL)
	if slug == "" {
		slug = content.Slugify(item.Title)
	}
	gc := &content.GeneratedContent{
		Title:            item.Title,
		Slug:             slug,
		SemanticKeywords: []string{},
		ImageDetails:     []content.ImageDetail{},
		Strategy:         content.Strategy{KeyTakeaways: []string{}},
		JSONLDSchema:     map[string]any{},
	}

	err := o.phase(item.ID, PhaseLinks, "Optimizing internal links...", func() error {
		body, rep := o.deps.Links.Process(item.SourceText, slug)
		gc.Content = body
		o.deps.Metrics.Links(len(rep.Injected), len(rep.Repaired), len(rep.Dropped))
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.phase(item.ID, PhaseQuality, "Scoring content...", func() error {
		hs := quality.HumanScore(gc.Content)
		gc.Quality = &content.QualityReport{WordCount: quality.CountWords(gc.Content), HumanScore: hs.Score, Flags: hs.Flags()}
		return ctx.Err()
	})
	return gc, err
}
