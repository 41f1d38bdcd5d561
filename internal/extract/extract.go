// Package extract turns fetched pages into records. Site specific selectors
// live with each scraper; this package holds the shared field readers, the
// price normalizer and the image file naming rule.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

// MissingFieldError reports a mandatory field absent from a page.
type MissingFieldError struct {
	Field string
	URL   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing mandatory field %q at %s", e.Field, e.URL)
}

// Missing builds a MissingFieldError.
func Missing(field, rawURL string) error {
	return &MissingFieldError{Field: field, URL: rawURL}
}

// Extractor maps one fetched page into a record of type R.
type Extractor[R any] func(page pipeline.Page, task pipeline.FetchTask) (R, error)

// Document parses the page body.
func Document(page pipeline.Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", page.URL, err)
	}
	return doc, nil
}

// Text returns the trimmed text of the first match of selector within s, or
// false when nothing matches or the text is blank.
func Text(s *goquery.Selection, selector string) (string, bool) {
	match := s.Find(selector).First()
	if match.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(match.Text())
	return text, text != ""
}

// RequiredText is Text that fails with a MissingFieldError.
func RequiredText(s *goquery.Selection, selector, field, rawURL string) (string, error) {
	text, ok := Text(s, selector)
	if !ok {
		return "", Missing(field, rawURL)
	}
	return text, nil
}

// OptionalText is Text returning nil when absent.
func OptionalText(s *goquery.Selection, selector string) *string {
	text, ok := Text(s, selector)
	if !ok {
		return nil
	}
	return &text
}

// NormalizePrice joins the whole and minor parts of a displayed price.
// Thousands separators (no-break or plain spaces) in whole become commas and
// ".minor" is appended only when a minor part exists:
// "1 234" + "56" gives "1,234.56"; "99" + "" gives "99".
func NormalizePrice(whole, minor string) string {
	whole = strings.TrimSpace(strings.ReplaceAll(whole, "\u00a0", " "))
	whole = strings.Join(strings.Fields(whole), ",")
	minor = strings.TrimSpace(strings.ReplaceAll(minor, "\u00a0", " "))
	minor = strings.TrimLeft(minor, ".,")
	minor = strings.TrimSpace(minor)
	if minor == "" {
		return whole
	}
	return whole + "." + minor
}

// ErrNoFileName is returned for URLs whose path has no trailing segment.
var ErrNoFileName = errors.New("url has no file name")

// FileName returns the trailing path segment of rawURL.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrMalformedURL, err)
	}
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return "", fmt.Errorf("%w: %s", ErrNoFileName, rawURL)
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrNoFileName, rawURL)
	}
	return name, nil
}
