// Package images downloads every image reachable from a gallery index. The
// index links gallery pages, optionally through one intermediate level of
// category pages, and each image URL is downloaded once per run.
package images

import (
	"github.com/JakeFAU/async-scrapers/internal/frontier"
	"github.com/JakeFAU/async-scrapers/internal/orchestrator"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

// Name identifies the plan in logs, metrics and exports.
const Name = "images"

// DefaultSeed is the single-level gallery index.
const DefaultSeed = "https://parsinger.ru/asyncio/aiofile/2/index.html"

// NestedSeed is the index of the layout with category pages.
const NestedSeed = "https://parsinger.ru/asyncio/aiofile/3/"

// galleryDir holds the gallery pages of the nested layout. Category pages
// link them by bare file name.
const galleryDir = "depth2/"

// Options select the gallery layout.
type Options struct {
	// Categories adds a level of category pages between the index and the
	// gallery pages.
	Categories bool
	// GalleryBase is the directory gallery links on category pages resolve
	// against. Empty resolves them against the category page.
	GalleryBase string
}

// GalleryBase returns the gallery directory of the nested layout rooted at
// seed.
func GalleryBase(seed string) string {
	base, ok := frontier.Resolve(seed, galleryDir)
	if !ok {
		return ""
	}
	return base
}

// Plan builds the index → (categories →) galleries → images chain.
func Plan(streamer pipeline.Streamer, dest pipeline.ByteSink, opts Options) orchestrator.Plan {
	levels := []orchestrator.Level{{Name: "index", Discover: links(frontier.Scope{Selector: "a"})}}
	if opts.Categories {
		levels = append(levels, orchestrator.Level{
			Name:     "category",
			Discover: links(frontier.Scope{Selector: "a", Base: opts.GalleryBase}),
		})
	}
	levels = append(levels, orchestrator.Level{
		Name:     "gallery",
		Discover: links(frontier.Scope{Selector: "img", Attr: "src"}),
		Dedupe:   true,
	})
	return orchestrator.Plan{
		Name:         Name,
		Levels:       levels,
		TerminalName: "image",
		Terminal:     &orchestrator.DownloadHandler{Streamer: streamer, Sink: dest},
	}
}

func links(scope frontier.Scope) orchestrator.DiscoverFunc {
	return func(page pipeline.Page, task pipeline.FetchTask) ([]pipeline.FetchTask, error) {
		urls, err := frontier.DiscoverLinks(page.Body, page.BaseURL(), scope)
		if err != nil {
			return nil, err
		}
		return frontier.Tasks(urls, task.Depth+1, nil), nil
	}
}
