// Package frontier discovers the links a page contributes to the next crawl
// level. Everything here is pure: the same content and base always produce
// the same ordered result.
package frontier

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

// ErrNoPagination is returned when the pagination block cannot be read.
var ErrNoPagination = errors.New("pagination not found")

// Scope selects which elements of a page carry child links.
type Scope struct {
	// Selector is a CSS selector, for example "a.name_item".
	Selector string
	// Attr holds the reference; defaults to "href".
	Attr string
	// Unique drops repeated links, keeping first-seen order.
	Unique bool
	// Base, when set, replaces the page URL as the base references resolve
	// against. Some sites link pages relative to a fixed directory.
	Base string
}

// DiscoverLinks returns the absolute child URLs found in content, resolved
// against base or scope.Base. Empty, fragment-only, javascript: and mailto:
// references are skipped.
func DiscoverLinks(content []byte, base string, scope Scope) ([]string, error) {
	if scope.Selector == "" {
		return nil, errors.New("scope selector is required")
	}
	if scope.Base != "" {
		base = scope.Base
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base %q: %w", base, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	attr := scope.Attr
	if attr == "" {
		attr = "href"
	}

	var seen mapset.Set[string]
	if scope.Unique {
		seen = mapset.NewThreadUnsafeSet[string]()
	}
	links := make([]string, 0)
	doc.Find(scope.Selector).Each(func(_ int, s *goquery.Selection) {
		ref, ok := s.Attr(attr)
		if !ok {
			return
		}
		abs, ok := resolve(baseURL, ref)
		if !ok {
			return
		}
		if seen != nil && !seen.Add(abs) {
			return
		}
		links = append(links, abs)
	})
	return links, nil
}

// Resolve makes ref absolute against base with the same filtering as
// DiscoverLinks. It reports false for references that are not followable.
func Resolve(base, ref string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	return resolve(baseURL, ref)
}

func resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", false
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	abs.Fragment = ""
	return abs.String(), true
}

// Pagination locates the page count inside a pagination block.
type Pagination struct {
	// Selector matches the anchors of the pagination block.
	Selector string
	// FromEnd picks the anchor counted from the end; 1 is the last anchor.
	// Blocks ending with a "next" arrow use 2.
	FromEnd int
}

// LastPage reads the highest page number from the pagination block. A page
// without pagination anchors is treated as a single page.
func LastPage(content []byte, p Pagination) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}
	anchors := doc.Find(p.Selector)
	if anchors.Length() == 0 {
		return 1, nil
	}
	fromEnd := p.FromEnd
	if fromEnd <= 0 {
		fromEnd = 1
	}
	idx := anchors.Length() - fromEnd
	if idx < 0 {
		return 0, fmt.Errorf("%w: %d anchors, want #%d from end", ErrNoPagination, anchors.Length(), fromEnd)
	}
	text := strings.TrimSpace(anchors.Eq(idx).Text())
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: page label %q", ErrNoPagination, text)
	}
	return n, nil
}

// PageSequence returns seed with query parameter param set to 1..last, in
// order. Other query parameters of seed are kept.
func PageSequence(seed, param string, last int) ([]string, error) {
	if last < 1 {
		return nil, fmt.Errorf("page count must be >= 1, got %d", last)
	}
	u, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	pages := make([]string, 0, last)
	for i := 1; i <= last; i++ {
		q := u.Query()
		q.Set(param, strconv.Itoa(i))
		next := *u
		next.RawQuery = q.Encode()
		pages = append(pages, next.String())
	}
	return pages, nil
}

// Tasks wraps urls as FetchTasks at depth, all sharing parent.
func Tasks(urls []string, depth int, parent any) []pipeline.FetchTask {
	tasks := make([]pipeline.FetchTask, len(urls))
	for i, u := range urls {
		tasks[i] = pipeline.FetchTask{URL: u, Depth: depth, Parent: parent}
	}
	return tasks
}

// Dedupe drops tasks whose URL was already seen, keeping the first. Skipped
// tasks are always kept.
func Dedupe(tasks []pipeline.FetchTask) []pipeline.FetchTask {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(tasks))
	out := make([]pipeline.FetchTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Skip != nil || seen.Add(t.URL) {
			out = append(out, t)
		}
	}
	return out
}
