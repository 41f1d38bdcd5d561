package images

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/async-scrapers/internal/fetcher/colly"
	"github.com/JakeFAU/async-scrapers/internal/fetcher/stream"
	"github.com/JakeFAU/async-scrapers/internal/orchestrator"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/storage/local"
)

func TestPlanLevels(t *testing.T) {
	t.Parallel()

	flat := Plan(nil, nil, Options{})
	require.Len(t, flat.Levels, 2)
	assert.Equal(t, "index", flat.Levels[0].Name)
	assert.Equal(t, "gallery", flat.Levels[1].Name)
	assert.True(t, flat.Levels[1].Dedupe)

	nested := Plan(nil, nil, Options{Categories: true})
	require.Len(t, nested.Levels, 3)
	assert.Equal(t, "category", nested.Levels[1].Name)
	assert.Equal(t, "image", nested.TerminalName)
}

func TestGalleryBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://parsinger.ru/asyncio/aiofile/3/depth2/", GalleryBase(NestedSeed))
	assert.Equal(t, "https://example.com/g/depth2/", GalleryBase("https://example.com/g/index.html"))
}

func TestCategoryLinksResolveAgainstGalleryBase(t *testing.T) {
	t.Parallel()

	page := pipeline.Page{
		URL:  "https://parsinger.ru/asyncio/aiofile/3/depth1/1.html",
		Body: []byte(`<a href="1_1.html">a</a><a href="1_2.html">b</a>`),
	}
	task := pipeline.FetchTask{URL: page.URL, Depth: 1}

	fixed := Plan(nil, nil, Options{Categories: true, GalleryBase: GalleryBase(NestedSeed)})
	tasks, err := fixed.Levels[1].Discover(page, task)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "https://parsinger.ru/asyncio/aiofile/3/depth2/1_1.html", tasks[0].URL)
	assert.Equal(t, "https://parsinger.ru/asyncio/aiofile/3/depth2/1_2.html", tasks[1].URL)
	assert.Equal(t, 2, tasks[0].Depth)

	relative := Plan(nil, nil, Options{Categories: true})
	tasks, err = relative.Levels[1].Discover(page, task)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "https://parsinger.ru/asyncio/aiofile/3/depth1/1_1.html", tasks[0].URL)
}

func TestPlanEndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/aiofile/3/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/aiofile/3/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<a href="depth1/1.html">c1</a><a href="depth1/2.html">c2</a>`)
	})
	mux.HandleFunc("/aiofile/3/depth1/1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a href="1_1.html">g1</a>`)
	})
	mux.HandleFunc("/aiofile/3/depth1/2.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a href="2_1.html">g2</a>`)
	})
	mux.HandleFunc("/aiofile/3/depth2/1_1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<img src="/img/1.jpg"><img src="/img/2.jpg">`)
	})
	mux.HandleFunc("/aiofile/3/depth2/2_1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<img src="/img/2.jpg"><img src="/img/3.jpg">`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		fmt.Fprint(w, "bytes-of-"+r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dest, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	fetcher := collyfetcher.New(srv.Client().Transport, collyfetcher.Config{Timeout: 5 * time.Second})
	streamer := stream.New(srv.Client().Transport, stream.Config{}, nil)

	seed := srv.URL + "/aiofile/3/"
	opts := Options{Categories: true, GalleryBase: GalleryBase(seed)}
	o, err := orchestrator.New(Plan(streamer, dest, opts), orchestrator.Deps{Fetcher: fetcher})
	require.NoError(t, err)
	agg, err := o.Run(context.Background(), seed, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, agg.Files)
	assert.Equal(t, 3, agg.Succeeded)
	assert.Equal(t, 0, agg.Failed)
	assert.Equal(t, int64(3*len("bytes-of-/img/1.jpg")), agg.Bytes)
	require.Len(t, agg.Levels, 4)
	assert.Equal(t, 2, agg.Levels[2].Tasks)
}
