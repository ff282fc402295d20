package link

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/messaging/internal/pkg/httpretry"
)

// Preview is what an unfurler could learn about a page.
type Preview struct {
	Title        string
	Description  string
	ThumbnailURL string
}

// Unfurler fetches a link preview.
type Unfurler interface {
	Unfurl(ctx context.Context, rawURL string) (Preview, error)
}

const maxPageBytes = 512 * 1024

// HTMLUnfurler reads OpenGraph and plain HTML metadata from a page.
type HTMLUnfurler struct {
	client    httpretry.Doer
	userAgent string
}

// NewHTMLUnfurler fetches through client; nil uses a GuardedClient with
// a single retry.
func NewHTMLUnfurler(client httpretry.Doer) *HTMLUnfurler {
	if client == nil {
		client = httpretry.New(GuardedClient(10*time.Second), 1)
	}
	return &HTMLUnfurler{client: client, userAgent: "Mozilla/5.0 (compatible; MessagingLinkPreview/1.0)"}
}

func (u *HTMLUnfurler) Unfurl(ctx context.Context, rawURL string) (Preview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Preview{}, err
	}
	req.Header.Set("User-Agent", u.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := u.client.Do(req)
	if err != nil {
		return Preview{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Preview{}, fmt.Errorf("fetch: HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if mt != "text/html" && mt != "application/xhtml+xml" {
			return Preview{}, fmt.Errorf("not an html page: %s", mt)
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Preview{}, fmt.Errorf("parse: %w", err)
	}

	p := Preview{
		Title:       firstNonEmpty(meta(doc, "og:title"), meta(doc, "twitter:title"), doc.Find("title").First().Text()),
		Description: firstNonEmpty(meta(doc, "og:description"), meta(doc, "description"), meta(doc, "twitter:description")),
	}
	if img := firstNonEmpty(meta(doc, "og:image"), meta(doc, "twitter:image")); img != "" {
		base := req.URL
		if resp.Request != nil {
			base = resp.Request.URL
		}
		p.ThumbnailURL = resolve(base, img)
	}
	return p, nil
}

// meta returns the content of <meta property=name> or <meta name=name>.
func meta(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.Join(strings.Fields(v), " "); v != "" {
			return v
		}
	}
	return ""
}
