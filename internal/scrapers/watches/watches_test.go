package watches

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/async-scrapers/internal/extract"
	collyfetcher "github.com/JakeFAU/async-scrapers/internal/fetcher/colly"
	"github.com/JakeFAU/async-scrapers/internal/orchestrator"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/sink"
)

func itemHTML(article, stock, oldPrice string) string {
	old := ""
	if oldPrice != "" {
		old = fmt.Sprintf(`<p id="old_price">%s</p>`, oldPrice)
	}
	return fmt.Sprintf(`<html><body><div class="description">
<p id="p_header">Jacques Lemans 1-2000C</p>
<p class="article">Артикул: %s</p>
<ul>
<li id="brand">Бренд: Jacques Lemans</li>
<li id="model">Модель: 1-2000C</li>
<li id="type">Тип: Наручные часы</li>
<li id="display">Тип дисплея: Аналоговый</li>
<li id="material_frame">Материал корпуса: Нержавеющая сталь</li>
<li id="material_bracer">Материал браслета: Кожа</li>
<li id="size">Размер: 40x40 мм</li>
<li id="site">Сайт производителя: jacques-lemans.com</li>
</ul>
<span id="in_stock">В наличии: %s</span>
<span id="price">26550 руб</span>
%s
</div></body></html>`, article, stock, old)
}

func TestExtractWatch(t *testing.T) {
	t.Parallel()

	task := pipeline.FetchTask{URL: "https://parsinger.ru/html/watch/1/1_1.html"}
	w, err := ExtractWatch(pipeline.Page{Body: []byte(itemHTML("80244813", "15", "29500 руб"))}, task)
	require.NoError(t, err)

	old := "29500 руб"
	assert.Equal(t, Watch{
		Title:          "Jacques Lemans 1-2000C",
		Article:        80244813,
		Brand:          "Jacques Lemans",
		Model:          "1-2000C",
		Type:           "Наручные часы",
		Display:        "Аналоговый",
		MaterialFrame:  "Нержавеющая сталь",
		MaterialBracer: "Кожа",
		Size:           "40x40 мм",
		Site:           "jacques-lemans.com",
		InStock:        15,
		Price:          "26550 руб",
		OldPrice:       &old,
		URL:            task.URL,
	}, w)
}

func TestExtractWatchOptionalOldPrice(t *testing.T) {
	t.Parallel()

	w, err := ExtractWatch(pipeline.Page{Body: []byte(itemHTML("1", "0", ""))}, pipeline.FetchTask{URL: "https://x.test/i"})
	require.NoError(t, err)
	assert.Nil(t, w.OldPrice)
	assert.Equal(t, 0, w.InStock)
}

func TestExtractWatchFailures(t *testing.T) {
	t.Parallel()

	url := "https://x.test/i"
	_, err := ExtractWatch(pipeline.Page{Body: []byte(`<p>no card</p>`)}, pipeline.FetchTask{URL: url})
	var missing *extract.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "description", missing.Field)

	_, err = ExtractWatch(pipeline.Page{Body: []byte(itemHTML("abc", "1", ""))}, pipeline.FetchTask{URL: url})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "article")

	_, err = ExtractWatch(pipeline.Page{Body: []byte(itemHTML("1", "many", ""))}, pipeline.FetchTask{URL: url})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in_stock")

	short := `<div class="description"><p id="p_header">T</p><p class="article">Артикул: 5</p><ul><li>Бренд: X</li></ul></div>`
	_, err = ExtractWatch(pipeline.Page{Body: []byte(short)}, pipeline.FetchTask{URL: url})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "model", missing.Field)
}

func TestPlanEndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/html/index1_page_1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div class="pagen"><a href="index1_page_1.html">1</a><a href="index1_page_2.html">2</a></div>`+
			`<a class="name_item" href="watch/1/1_1.html">one</a>`)
	})
	mux.HandleFunc("/html/index1_page_2.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div class="pagen"><a href="index1_page_1.html">1</a></div>`+
			`<a class="name_item" href="watch/1/1_2.html">two</a><a class="name_item" href="watch/1/1_1.html">one</a>`)
	})
	mux.HandleFunc("/html/watch/1/1_1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, itemHTML("100", "3", ""))
	})
	mux.HandleFunc("/html/watch/1/1_2.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, itemHTML("200", "4", "1 руб"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := collyfetcher.New(srv.Client().Transport, collyfetcher.Config{Timeout: 5 * time.Second})
	records := sink.NewCollection[Watch]()
	o, err := orchestrator.New(Plan(fetcher, records), orchestrator.Deps{Fetcher: fetcher})
	require.NoError(t, err)

	agg, err := o.Run(context.Background(), srv.URL+"/html/index1_page_1.html", 4, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, agg.Records)
	assert.Equal(t, 0, agg.Failed)
	articles := map[int]string{}
	for _, w := range records.Items() {
		articles[w.Article] = w.URL
	}
	assert.Equal(t, map[int]string{
		100: srv.URL + "/html/watch/1/1_1.html",
		200: srv.URL + "/html/watch/1/1_2.html",
	}, articles)
}
