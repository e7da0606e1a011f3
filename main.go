package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"auto_seo_article_pipeline/cache"
	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/content"
	"auto_seo_article_pipeline/fetcher"
	"auto_seo_article_pipeline/generator"
	"auto_seo_article_pipeline/links"
	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/metrics"
	"auto_seo_article_pipeline/pipeline"
	"auto_seo_article_pipeline/publisher"
	"auto_seo_article_pipeline/retry"
	"auto_seo_article_pipeline/serp"
	"auto_seo_article_pipeline/server"
	"auto_seo_article_pipeline/sitemap"
	"auto_seo_article_pipeline/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer app.close()

	// Web server mode
	if opts.serve {
		listen := cfg.ServerAddr
		if opts.addr != "" {
			listen = opts.addr
		}
		return app.serve(ctx, listen)
	}

	items, err := app.items(opts)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.New("nothing to do: pass topics as arguments, --topics <file>, or --variant link-optimizer with --sitemap")
	}
	return app.batch(ctx, items, opts.publish)
}

type cliOptions struct {
	configPath string
	serve      bool
	addr       string
	topicsFile string
	variant    string
	format     string
	parent     string
	sitemapURL string
	publish    bool
	verbose    bool
	topics     []string
}

func parseFlags() cliOptions {
	var o cliOptions
	flag.StringVar(&o.configPath, "config", "", "path to config.yaml (defaults and environment only when empty)")
	flag.BoolVar(&o.serve, "serve", false, "start the HTTP API")
	flag.StringVar(&o.addr, "addr", "", "http listen address when --serve (overrides server_addr)")
	flag.StringVar(&o.topicsFile, "topics", "", "file with one topic per line")
	flag.StringVar(&o.variant, "variant", string(content.VariantStandard), "pillar, cluster, standard or link-optimizer")
	flag.StringVar(&o.format, "format", string(content.FormatStandard), "standard or scientific")
	flag.StringVar(&o.parent, "parent", "", "pillar topic the cluster articles support")
	flag.StringVar(&o.sitemapURL, "sitemap", "", "sitemap URL for the internal link catalogue (overrides sitemap.url)")
	flag.BoolVar(&o.publish, "publish", false, "publish finished articles as WordPress drafts")
	flag.BoolVar(&o.verbose, "v", false, "enable debug logs")
	flag.Parse()
	o.topics = flag.Args()
	return o
}

type app struct {
	cfg       config.Config
	log       logger.Logger
	metrics   *metrics.Metrics
	store     store.Store
	pipeline  *pipeline.Orchestrator
	publisher *publisher.Publisher
	pages     []content.Page
}

func wire(ctx context.Context, cfg config.Config, opts cliOptions, log logger.Logger) (*app, error) {
	m := metrics.New()
	retryOpts := retry.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Duration,
		MaxDelay:    cfg.Retry.MaxDelay.Duration,
		Logger:      log,
		Metrics:     m,
	}

	proxies := make([]fetcher.Transport, 0, len(cfg.Fetch.Proxies))
	for _, p := range cfg.Fetch.Proxies {
		proxies = append(proxies, fetcher.Transport{Name: p.Name, Kind: p.Kind, URL: p.URL, Timeout: p.Timeout.Duration})
	}
	f, err := fetcher.New(fetcher.Options{
		UserAgent:     cfg.Fetch.UserAgent,
		DirectTimeout: cfg.Fetch.DirectTimeout.Duration,
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
		Proxies:       proxies,
		Logger:        log,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.Cache, log, m)
	if err != nil {
		return nil, err
	}
	research := serp.New(cfg.SERP, f, c, serp.WithRetry(retryOpts), serp.WithLogger(log))

	sitemapURL := cfg.Sitemap.URL
	if opts.sitemapURL != "" {
		sitemapURL = opts.sitemapURL
	}
	var pages []content.Page
	if sitemapURL != "" {
		sc := cfg.Sitemap
		if opts.variant == string(content.VariantLinkOptimizer) {
			sc.Crawl = true
		}
		d := sitemap.New(f, sitemap.OptionsFromConfig(sc, log))
		pages, err = d.Discover(ctx, sitemapURL, func(msg string) { log.Info(msg) })
		if err != nil {
			var netErr *fetcher.NetworkError
			if errors.As(err, &netErr) {
				fmt.Fprintln(os.Stderr, netErr.Hint())
			}
			log.Warn("sitemap discovery failed, continuing without a link catalogue", logger.String("sitemap", sitemapURL), logger.Error(err))
		} else {
			log.Info("link catalogue loaded", logger.Int("pages", len(pages)), logger.Int("stale", len(sitemap.Stale(pages))))
		}
	}
	engine := links.NewEngine(links.PagesFromContent(pages), links.Options{
		MinLinks: cfg.Links.MinLinks,
		UTM:      links.UTM{Source: cfg.Links.UTMSource, Medium: cfg.Links.UTMMedium, Campaign: cfg.Links.UTMCampaign},
		Logger:   log,
	})

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}

	llm, err := buildLLM(ctx, cfg.LLM)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	agent, err := generator.NewAgent(llm,
		generator.WithRequestsPerMinute(cfg.LLM.RequestsPerMinute),
		generator.WithRetry(retryOpts),
		generator.WithLogger(log))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	images, err := buildImages(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	orch, err := pipeline.New(pipeline.Deps{
		Writer:   agent,
		Research: research,
		Images:   images,
		Links:    engine,
		Store:    st,
		Metrics:  m,
		Logger:   log,
	}, pipeline.OptionsFromConfig(cfg))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, metrics: m, store: st, pipeline: orch, pages: pages}
	if cfg.Publisher.BaseURL != "" {
		a.publisher, err = publisher.New(cfg.Publisher, f, publisher.WithRetry(retryOpts), publisher.WithLogger(log))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close store", logger.Error(err))
	}
}

func (a *app) serve(ctx context.Context, listen string) error {
	deps := server.Deps{Pipeline: a.pipeline, Store: a.store, Metrics: a.metrics, Logger: a.log, Context: ctx}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	srv, err := server.New(deps)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{Addr: listen, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()
	a.log.Info("starting web server", logger.String("addr", listen))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.pipeline.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// items builds the worklist from arguments, the topics file, or stale sitemap pages.
func (a *app) items(opts cliOptions) ([]content.ContentItem, error) {
	variant := content.Variant(opts.variant)
	if !variant.Valid() {
		return nil, fmt.Errorf("unknown variant %q", opts.variant)
	}
	topics := append([]string(nil), opts.topics...)
	if opts.topicsFile != "" {
		fromFile, err := readTopics(opts.topicsFile)
		if err != nil {
			return nil, err
		}
		topics = append(topics, fromFile...)
	}

	if variant == content.VariantLinkOptimizer {
		var items []content.ContentItem
		for _, p := range sitemap.Stale(a.pages) {
			if p.CrawledText == "" {
				continue
			}
			items = append(items, content.ContentItem{
				Title:      p.Title,
				Variant:    variant,
				SourceURL:  p.URL,
				SourceText: p.CrawledText,
				Analysis:   p.Analysis,
			})
		}
		return items, nil
	}

	items := make([]content.ContentItem, 0, len(topics))
	for _, t := range topics {
		items = append(items, content.ContentItem{
			Title:   t,
			Variant: variant,
			Format:  content.Format(opts.format),
			Parent:  opts.parent,
		})
	}
	return items, nil
}

func readTopics(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var topics []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	return topics, sc.Err()
}

func (a *app) batch(ctx context.Context, items []content.ContentItem, publish bool) error {
	events, unsubscribe := a.pipeline.Events().Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			if e.Type == pipeline.EventProgress {
				a.log.Debug(e.Message, logger.String("item", e.ItemID), logger.String("phase", e.Phase))
				continue
			}
			a.log.Info("[cli] "+string(e.Type), logger.String("item", e.ItemID), logger.String("message", e.Message))
		}
	}()

	queued := a.pipeline.Enqueue(items...)
	a.log.Info("[cli] generating", logger.Int("items", len(queued)), logger.String("llm", a.cfg.LLM.Provider))
	runErr := a.pipeline.Run(ctx)
	unsubscribe()
	<-done

	posts := make(map[string]string)
	if publish {
		if a.publisher == nil {
			return errors.New("--publish needs publisher.base_url, username and app_password")
		}
		for _, q := range queued {
			item, ok := a.pipeline.Item(q.ID)
			if !ok || item.Status != content.StatusDone {
				continue
			}
			res, err := a.publisher.PublishDraft(ctx, item.Content)
			if err != nil {
				posts[item.ID] = "failed: " + err.Error()
				a.log.Error("[cli] publish failed", logger.String("item", item.ID), logger.Error(err))
				continue
			}
			posts[item.ID] = res.Link
		}
	}

	failed := renderResults(a.pipeline, queued, posts, publish)
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d items did not finish", failed, len(queued))
	}
	return nil
}

func renderResults(p *pipeline.Orchestrator, queued []content.ContentItem, posts map[string]string, publish bool) int {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	header := table.Row{"Title", "Variant", "Status", "Words", "Human", "Detail"}
	if publish {
		header = append(header, "Post")
	}
	t.AppendHeader(header)

	failed := 0
	for _, q := range queued {
		item, _ := p.Item(q.ID)
		words, human := "-", "-"
		if item.Content != nil && item.Content.Quality != nil {
			words = fmt.Sprint(item.Content.Quality.WordCount)
			human = fmt.Sprint(item.Content.Quality.HumanScore)
		}
		if item.Status != content.StatusDone {
			failed++
		}
		row := table.Row{truncate(item.Title, 48), item.Variant, item.Status, words, human, truncate(firstLine(item.StatusText), 60)}
		if publish {
			row = append(row, posts[item.ID])
		}
		t.AppendRow(row)
	}
	t.Render()
	return failed
}

func buildLLM(ctx context.Context, cfg config.LLMConfig) (generator.LLMClient, error) {
	settings := &generator.LLMSettings{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	switch cfg.Provider {
	case "openai":
		return generator.NewOpenAILLMFromConfig(settings)
	case "deepseek":
		// DeepSeek exposes an OpenAI-compatible API, so base_url is required.
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAILLMFromConfig(settings)
	case "anthropic":
		return generator.NewAnthropicLLMFromConfig(settings)
	case "gemini":
		return generator.NewGeminiLLMFromConfig(ctx, settings)
	case "mock":
		return generator.MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}

// buildImages returns nil when image generation is off; the placeholders then stay for the editor.
func buildImages(cfg config.Config) (generator.ImageGenerator, error) {
	if !cfg.Images.Enabled {
		return nil, nil
	}
	if cfg.LLM.Provider == "mock" {
		return generator.MockImages{}, nil
	}
	key := cfg.Images.APIKey
	if key == "" && cfg.LLM.Provider == "openai" {
		key = cfg.LLM.APIKey
	}
	return generator.NewOpenAIImages(key, cfg.Images.Model, cfg.Images.Size)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
