// Package watches scrapes the parsinger.ru watch catalogue: the seed page
// lists the catalogue pages, each catalogue page links item pages, and each
// item page holds one watch card.
package watches

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/async-scrapers/internal/extract"
	"github.com/JakeFAU/async-scrapers/internal/frontier"
	"github.com/JakeFAU/async-scrapers/internal/orchestrator"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/sink"
)

// Name identifies the plan in logs, metrics and exports.
const Name = "watches"

// DefaultSeed is the first catalogue page.
const DefaultSeed = "https://parsinger.ru/html/index1_page_1.html"

const (
	selPages       = "div.pagen a"
	selItems       = "a.name_item"
	selDescription = "div.description"
	selTitle       = "#p_header"
	selArticle     = "p.article"
	selAttributes  = "li"
	selInStock     = "#in_stock"
	selPrice       = "#price"
	selOldPrice    = "#old_price"
)

// attributeFields names the labelled list items of a card, in page order.
var attributeFields = []string{
	"brand", "model", "type", "display", "material_frame", "material_bracer", "size", "site",
}

// Watch is one exported record.
type Watch struct {
	Title          string  `csv:"title" json:"title"`
	Article        int     `csv:"article" json:"article"`
	Brand          string  `csv:"brand" json:"brand"`
	Model          string  `csv:"model" json:"model"`
	Type           string  `csv:"tp" json:"tp"`
	Display        string  `csv:"display" json:"display"`
	MaterialFrame  string  `csv:"material_frame" json:"material_frame"`
	MaterialBracer string  `csv:"material_bracer" json:"material_bracer"`
	Size           string  `csv:"size" json:"size"`
	Site           string  `csv:"site" json:"site"`
	InStock        int     `csv:"in_stock" json:"in_stock"`
	Price          string  `csv:"price" json:"price"`
	OldPrice       *string `csv:"old_price" json:"old_price"`
	URL            string  `csv:"url" json:"url"`
}

// Plan builds the seed → catalogue pages → item pages chain.
func Plan(fetcher pipeline.Fetcher, records *sink.Collection[Watch]) orchestrator.Plan {
	return orchestrator.Plan{
		Name: Name,
		Levels: []orchestrator.Level{
			{Name: "index", Discover: links(selPages)},
			{Name: "catalogue", Discover: links(selItems), Dedupe: true},
		},
		TerminalName: "item",
		Terminal: &orchestrator.RecordHandler[Watch]{
			Fetcher: fetcher,
			Extract: ExtractWatch,
			Records: records,
		},
	}
}

func links(selector string) orchestrator.DiscoverFunc {
	return func(page pipeline.Page, task pipeline.FetchTask) ([]pipeline.FetchTask, error) {
		urls, err := frontier.DiscoverLinks(page.Body, page.BaseURL(), frontier.Scope{Selector: selector, Unique: true})
		if err != nil {
			return nil, err
		}
		return frontier.Tasks(urls, task.Depth+1, nil), nil
	}
}

// ExtractWatch reads one watch card. Every field except the old price is
// mandatory.
func ExtractWatch(page pipeline.Page, task pipeline.FetchTask) (Watch, error) {
	doc, err := extract.Document(page)
	if err != nil {
		return Watch{}, err
	}
	card := doc.Find(selDescription).First()
	if card.Length() == 0 {
		return Watch{}, extract.Missing("description", task.URL)
	}

	w := Watch{URL: task.URL}
	if w.Title, err = extract.RequiredText(card, selTitle, "title", task.URL); err != nil {
		return Watch{}, err
	}
	if w.Article, err = articleNumber(card, task.URL); err != nil {
		return Watch{}, err
	}
	attrs, err := attributes(card, task.URL)
	if err != nil {
		return Watch{}, err
	}
	w.Brand, w.Model, w.Type, w.Display = attrs[0], attrs[1], attrs[2], attrs[3]
	w.MaterialFrame, w.MaterialBracer, w.Size, w.Site = attrs[4], attrs[5], attrs[6], attrs[7]

	stock, err := extract.RequiredText(card, selInStock, "in_stock", task.URL)
	if err != nil {
		return Watch{}, err
	}
	if w.InStock, err = labelledInt(stock); err != nil {
		return Watch{}, fmt.Errorf("in_stock at %s: %w", task.URL, err)
	}
	if w.Price, err = extract.RequiredText(card, selPrice, "price", task.URL); err != nil {
		return Watch{}, err
	}
	w.OldPrice = extract.OptionalText(card, selOldPrice)
	return w, nil
}

// articleNumber parses "Артикул: 80244813" style text.
func articleNumber(card *goquery.Selection, rawURL string) (int, error) {
	text, err := extract.RequiredText(card, selArticle, "article", rawURL)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, extract.Missing("article", rawURL)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("article at %s: %w", rawURL, err)
	}
	return n, nil
}

func attributes(card *goquery.Selection, rawURL string) ([]string, error) {
	items := card.Find(selAttributes)
	values := make([]string, len(attributeFields))
	for i, field := range attributeFields {
		if i >= items.Length() {
			return nil, extract.Missing(field, rawURL)
		}
		value, ok := labelledValue(items.Eq(i).Text())
		if !ok {
			return nil, extract.Missing(field, rawURL)
		}
		values[i] = value
	}
	return values, nil
}

// labelledValue returns the part after "Label: ".
func labelledValue(text string) (string, bool) {
	_, value, ok := strings.Cut(strings.TrimSpace(text), ": ")
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func labelledInt(text string) (int, error) {
	value, ok := labelledValue(text)
	if !ok {
		return 0, fmt.Errorf("no value in %q", text)
	}
	return strconv.Atoi(value)
}
