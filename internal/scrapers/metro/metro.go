// Package metro scrapes product cards from an online.metro-cc.ru category:
// the category page yields the page count, each listing page yields product
// links and prices, and each product page yields the identifying fields.
package metro

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/async-scrapers/internal/extract"
	"github.com/JakeFAU/async-scrapers/internal/frontier"
	"github.com/JakeFAU/async-scrapers/internal/orchestrator"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/sink"
)

// Name identifies the plan in logs, metrics and exports.
const Name = "metro"

// DefaultSeed is the category crawled when none is configured.
const DefaultSeed = "https://online.metro-cc.ru/category/chaj-kofe-kakao/kofe?in_stock=1"

const (
	currencySuffix = " руб."
	pageParam      = "page"

	selPagination  = "ul.catalog-paginate a"
	selCard        = "div.catalog-2-level-product-card"
	selCardLink    = "a.product-card-photo__link"
	selActualPrice = "div.product-unit-prices__actual-wrapper"
	selOldPrice    = "div.product-unit-prices__old-wrapper"
	selRubles      = "span.product-price__sum-rubles"
	selPennies     = "span.product-price__sum-penny"
	selArticle     = "p.product-page-content__article"
	selName        = "h1.product-page-content__product-name span"
	selBrand       = "a.product-attributes__list-item-link"
)

// Product is one exported row.
type Product struct {
	ID           string  `csv:"id" json:"id"`
	Name         string  `csv:"name" json:"name"`
	RegularPrice string  `csv:"regular_price" json:"regular_price"`
	PromoPrice   *string `csv:"promo_price" json:"promo_price"`
	Brand        string  `csv:"brand" json:"brand"`
	Link         string  `csv:"link" json:"link"`
}

// CardPrices are the prices read from a listing card. They travel to the
// product page task as its parent.
type CardPrices struct {
	Regular string
	Promo   *string
}

// Plan builds the category → listing pages → product pages chain. Products
// are appended to records.
func Plan(fetcher pipeline.Fetcher, records *sink.Collection[Product]) orchestrator.Plan {
	return orchestrator.Plan{
		Name: Name,
		Levels: []orchestrator.Level{
			{Name: "category", Discover: DiscoverPages},
			{Name: "listing", Discover: DiscoverProducts, Dedupe: true},
		},
		TerminalName: "product",
		Terminal: &orchestrator.RecordHandler[Product]{
			Fetcher: fetcher,
			Extract: ExtractProduct,
			Records: records,
		},
	}
}

// DiscoverPages reads the last page number from the category pagination and
// returns one task per listing page.
func DiscoverPages(page pipeline.Page, task pipeline.FetchTask) ([]pipeline.FetchTask, error) {
	last, err := frontier.LastPage(page.Body, frontier.Pagination{Selector: selPagination, FromEnd: 2})
	if err != nil {
		return nil, fmt.Errorf("category page count: %w", err)
	}
	urls, err := frontier.PageSequence(task.URL, pageParam, last)
	if err != nil {
		return nil, err
	}
	return frontier.Tasks(urls, task.Depth+1, nil), nil
}

// DiscoverProducts returns a task per product card, carrying the card prices.
// A card without a usable product link becomes a skipped task so it is
// counted as a missing "link" field.
func DiscoverProducts(page pipeline.Page, task pipeline.FetchTask) ([]pipeline.FetchTask, error) {
	doc, err := extract.Document(page)
	if err != nil {
		return nil, err
	}
	var tasks []pipeline.FetchTask
	doc.Find(selCard).Each(func(_ int, card *goquery.Selection) {
		var link string
		href, ok := card.Find(selCardLink).First().Attr("href")
		if ok {
			link, ok = frontier.Resolve(page.BaseURL(), href)
		}
		if !ok {
			tasks = append(tasks, pipeline.FetchTask{
				URL:   page.BaseURL(),
				Depth: task.Depth + 1,
				Skip:  extract.Missing("link", page.BaseURL()),
			})
			return
		}
		tasks = append(tasks, pipeline.FetchTask{URL: link, Depth: task.Depth + 1, Parent: ReadCardPrices(card)})
	})
	return tasks, nil
}

// ReadCardPrices reads the actual and the crossed-out price of a card. With
// an old price present the old one is regular and the actual one is promo.
// An unreadable actual price leaves Regular empty.
func ReadCardPrices(card *goquery.Selection) CardPrices {
	actual, ok := blockPrice(card.Find(selActualPrice).First())
	if !ok {
		return CardPrices{}
	}
	if old, ok := blockPrice(card.Find(selOldPrice).First()); ok {
		return CardPrices{Regular: old, Promo: &actual}
	}
	return CardPrices{Regular: actual}
}

func blockPrice(block *goquery.Selection) (string, bool) {
	if block.Length() == 0 {
		return "", false
	}
	rubles, ok := extract.Text(block, selRubles)
	if !ok {
		return "", false
	}
	pennies, _ := extract.Text(block, selPennies)
	return extract.NormalizePrice(rubles, pennies), true
}

// ExtractProduct builds a Product from a product page and the card prices in
// task.Parent. A missing identifier, name, brand or regular price yields an
// *extract.MissingFieldError and no record.
func ExtractProduct(page pipeline.Page, task pipeline.FetchTask) (Product, error) {
	prices, _ := task.Parent.(CardPrices)
	if prices.Regular == "" {
		return Product{}, extract.Missing("regular_price", task.URL)
	}
	doc, err := extract.Document(page)
	if err != nil {
		return Product{}, err
	}
	root := doc.Selection

	article, err := extract.RequiredText(root, selArticle, "id", task.URL)
	if err != nil {
		return Product{}, err
	}
	fields := strings.Fields(article)
	name, err := extract.RequiredText(root, selName, "name", task.URL)
	if err != nil {
		return Product{}, err
	}
	brand, err := extract.RequiredText(root, selBrand, "brand", task.URL)
	if err != nil {
		return Product{}, err
	}

	p := Product{
		ID:           fields[len(fields)-1],
		Name:         name,
		RegularPrice: prices.Regular + currencySuffix,
		Brand:        brand,
		Link:         task.URL,
	}
	if prices.Promo != nil {
		promo := *prices.Promo + currencySuffix
		p.PromoPrice = &promo
	}
	return p, nil
}
