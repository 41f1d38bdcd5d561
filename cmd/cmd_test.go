package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/publisher/memory"
)

func testApp(out *bytes.Buffer, pub *memory.Publisher) *app {
	return &app{
		out:        out,
		registerer: prometheus.NewRegistry(),
		newPublisher: func(context.Context, string) (summaryPublisher, error) {
			return pub, nil
		},
	}
}

func execute(t *testing.T, a *app, args ...string) error {
	t.Helper()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

const watchItem = `<html><body><div class="description">
<p id="p_header">Watch %[1]s</p>
<p class="article">Артикул: %[1]s</p>
<ul>
<li>Бренд: Casio</li><li>Модель: %[1]s</li><li>Тип: Наручные часы</li>
<li>Тип дисплея: Цифровой</li><li>Материал корпуса: Пластик</li>
<li>Материал браслета: Резина</li><li>Размер: 40 мм</li><li>Сайт производителя: casio.com</li>
</ul>
<span id="in_stock">В наличии: 2</span>
<span id="price">1000 руб</span>
</div></body></html>`

func watchesServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/html/index1_page_1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div class="pagen"><a href="index1_page_1.html">1</a></div>`+
			`<a class="name_item" href="watch/1.html">one</a><a class="name_item" href="watch/2.html">two</a>`)
	})
	mux.HandleFunc("/html/watch/1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, watchItem, "101")
	})
	mux.HandleFunc("/html/watch/2.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, watchItem, "202")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRootCommandListsSites(t *testing.T) {
	t.Parallel()

	root := newRootCmd(testApp(&bytes.Buffer{}, memory.New()))
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"metro", "watches", "images"}, names)
	for _, flag := range []string{"config", "concurrency", "max-attempts", "seed", "output-dir", "storage"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestConcurrencyIsRequired(t *testing.T) {
	t.Parallel()

	err := execute(t, testApp(&bytes.Buffer{}, memory.New()), "watches", "--dev=false", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.concurrency")
}

func TestWatchesCommandExportsRecords(t *testing.T) {
	t.Parallel()

	srv := watchesServer(t)
	dir := t.TempDir()
	var out bytes.Buffer
	err := execute(t, testApp(&out, memory.New()), "watches",
		"--concurrency", "2",
		"--seed", srv.URL+"/html/index1_page_1.html",
		"--output-dir", dir,
		"--user-agent", "scraper-test",
		"--dev=false",
		"--log-level", "error",
	)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "watches.json"))
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Len(t, rows, 2)

	_, err = os.Stat(filepath.Join(dir, "watches.csv"))
	require.NoError(t, err)

	summary := out.String()
	assert.Contains(t, summary, "watches run")
	assert.Contains(t, summary, "completed")
	assert.Contains(t, summary, "records")
	assert.Contains(t, summary, "catalogue")
}

func TestWatchesCommandPublishesSummary(t *testing.T) {
	t.Parallel()

	srv := watchesServer(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("pubsub:\n  project_id: test-project\n  topic: runs\noutput:\n  formats: [json]\n"), 0o600))

	pub := memory.New()
	err := execute(t, testApp(&bytes.Buffer{}, pub), "watches",
		"--config", cfgPath,
		"--concurrency", "1",
		"--seed", srv.URL+"/html/index1_page_1.html",
		"--output-dir", dir,
		"--dev=false",
		"--log-level", "error",
	)
	require.NoError(t, err)

	msgs := pub.Messages("runs")
	require.Len(t, msgs, 1)
	var agg pipeline.RunAggregate
	require.NoError(t, json.Unmarshal(msgs[0].Data, &agg))
	assert.Equal(t, "watches", agg.Plan)
	assert.Equal(t, 2, agg.Records)
	assert.NotEmpty(t, agg.RunID)

	_, err = os.Stat(filepath.Join(dir, "watches.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestImagesCommandWritesToMemoryStorage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/gallery/index.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a href="g1.html">g1</a>`)
	})
	mux.HandleFunc("/gallery/g1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<img src="/img/a.jpg"><img src="/img/b.jpg">`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "jpeg")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var out bytes.Buffer
	err := execute(t, testApp(&out, memory.New()), "images",
		"--concurrency", "2",
		"--seed", srv.URL+"/gallery/index.html",
		"--storage", "memory",
		"--dev=false",
		"--log-level", "error",
	)
	require.NoError(t, err)

	summary := out.String()
	assert.Contains(t, summary, "images run")
	assert.Contains(t, summary, "files")
	assert.Contains(t, summary, "8 B")
	assert.Contains(t, summary, "memory")
}

func TestSeedFailureIsReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var out bytes.Buffer
	err := execute(t, testApp(&out, memory.New()), "watches",
		"--concurrency", "1",
		"--max-attempts", "1",
		"--seed", srv.URL+"/missing.html",
		"--output-dir", t.TempDir(),
		"--dev=false",
		"--log-level", "error",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed")
}
