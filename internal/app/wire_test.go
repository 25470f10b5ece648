package app

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"manual-smart-go/internal/config"
	"manual-smart-go/internal/model"
	"manual-smart-go/pkg/loader"
	"manual-smart-go/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLite.Path = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	cfg.Embedding.BaseURL = "http://127.0.0.1:0"
	return cfg
}

func TestOpenDatabase(t *testing.T) {
	cfg := testConfig(t)
	db, err := OpenDatabase(cfg.Database)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&model.SourceDocument{}))

	_, err = OpenDatabase(config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "oracle")
}

func TestNewIndexerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Elasticsearch.Addresses = ""
	idx, err := NewIndexer(cfg)
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestNewProcessorWiresPipeline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tika.ServerURL = ""
	db, err := OpenDatabase(cfg.Database)
	require.NoError(t, err)
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	p, err := NewProcessor(cfg, db, store, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = p.Status("missing.pdf")
	assert.Error(t, err)

	cfg.Embedding.Provider = "cohere"
	_, err = NewProcessor(cfg, db, store, nil)
	assert.ErrorContains(t, err, "Embedding")

	cfg.Embedding.Provider = "openai"
	cfg.Ingestion.ChunkOverlap = cfg.Ingestion.ChunkSize
	_, err = NewProcessor(cfg, db, store, nil)
	assert.Error(t, err)
}

func TestNewLoaderWithoutTikaRejectsUnknownTypes(t *testing.T) {
	ld := NewLoader(config.TikaConfig{})
	_, err := ld.Load(context.Background(), loaderSource("manual.docx", "some docx bytes"))
	assert.Error(t, err)

	res, err := ld.Load(context.Background(), loaderSource("manual.txt", "Page one\fPage two"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)
}

func loaderSource(name, data string) loader.Source {
	return loader.Source{Filename: name, Data: strings.NewReader(data), Size: int64(len(data))}
}
