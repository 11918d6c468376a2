package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/paolomoz/nova/config"
	"github.com/paolomoz/nova/internal/helpers"
)

// Document is the readable content extracted from a rendered web page.
type Document struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	SiteName string `json:"siteName,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	HTML     string `json:"-"`
	Text     string `json:"-"`
	HTMLHash string `json:"htmlHash"`
	RenderMS int    `json:"renderMs"`
}

// Renderer returns the fully rendered HTML of a URL.
type Renderer func(ctx context.Context, url string) (string, error)

// Fetcher renders pages in headless Chrome and extracts the article body.
type Fetcher struct {
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
	Render    Renderer
}

// New builds a Fetcher from config.
func New(cfg config.FetchConfig) *Fetcher {
	f := &Fetcher{Timeout: cfg.Timeout, MaxChars: cfg.MaxChars, UserAgent: cfg.UserAgent}
	f.Render = f.renderChrome
	return f
}

// Fetch renders rawURL and returns its readable content.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Document{}, errors.New("invalid url")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Document{}, fmt.Errorf("parse url: %w", err)
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	render := f.Render
	if render == nil {
		render = f.renderChrome
	}

	t0 := time.Now()
	html, err := render(ctx, rawURL)
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return Document{}, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if f.MaxChars > 0 {
		text = helpers.TruncateRunes(text, f.MaxChars)
	}
	sum := sha1.Sum([]byte(html))

	return Document{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: strings.TrimSpace(article.SiteName),
		Excerpt:  strings.TrimSpace(article.Excerpt),
		HTML:     article.Content,
		Text:     text,
		HTMLHash: hex.EncodeToString(sum[:]),
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func (f *Fetcher) renderChrome(ctx context.Context, rawURL string) (string, error) {
	ua := f.UserAgent
	if ua == "" {
		ua = "NovaImporter/1.0"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(ua),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
