package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID    string  `csv:"id" json:"id"`
	Name  string  `csv:"name" json:"name"`
	Promo *string `csv:"promo_price" json:"promo_price"`
}

func sampleRows() []row {
	promo := "89 руб."
	return []row{
		{ID: "1", Name: "Кофе <зерно>", Promo: &promo},
		{ID: "2", Name: "Чай"},
	}
}

func TestParseFormats(t *testing.T) {
	t.Parallel()

	got, err := ParseFormats([]string{"CSV", " json ", "csv"})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatCSV, FormatJSON}, got)

	_, err = ParseFormats([]string{"xml"})
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRows()))
	assert.Equal(t, "id,name,promo_price\n1,Кофе <зерно>,89 руб.\n2,Чай,\n", buf.String())
}

func TestWriteJSONKeepsTextAndNulls(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRows()))
	out := buf.String()
	assert.Contains(t, out, `"name": "Кофе <зерно>"`)
	assert.Contains(t, out, `"promo_price": null`)
	assert.Contains(t, out, "\n    {")

	var decoded []row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
}

func TestWriteJSONEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON[row](&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteFiles(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WriteFiles(dir, "metro_products", []Format{FormatCSV, FormatJSON}, sampleRows())
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "metro_products.csv"),
		filepath.Join(dir, "metro_products.json"),
	}, paths)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}
