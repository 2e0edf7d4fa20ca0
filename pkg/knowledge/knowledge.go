// Package knowledge manages the embedded vector store behind the research
// capability: an on-disk chromem database of household documents, embedded
// through an OpenAI-compatible endpoint.
package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

// maxChunkRunes bounds one embedded chunk; paragraphs are merged up to
// this size so small documents stay whole.
const maxChunkRunes = 1500

type Config struct {
	Path           string `envconfig:"PATH" split_words:"true" default:"knowledge.db"`
	DocsDir        string `envconfig:"DOCS_DIR" split_words:"true"`
	Collection     string `envconfig:"COLLECTION" split_words:"true" default:"personal_knowledge"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" split_words:"true" default:"text-embedding-3-small"`
}

// Open loads (or creates) the persistent collection. When DocsDir is set
// and the collection is empty, every markdown and text file under it is
// chunked and embedded once.
func Open(ctx context.Context, cfg Config, client *openaisdk.Client) (*chromem.Collection, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding client is required")
	}

	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embeddingFunc(client, cfg.EmbeddingModel))
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", cfg.Collection, err)
	}

	if cfg.DocsDir != "" && collection.Count() == 0 {
		if err := ingest(ctx, collection, cfg.DocsDir); err != nil {
			return nil, err
		}
	}
	return collection, nil
}

func embeddingFunc(client *openaisdk.Client, model string) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
			Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(text)},
			Model: openaisdk.EmbeddingModel(model),
		})
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("embed: empty response")
		}
		vec := make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			vec[i] = float32(v)
		}
		return vec, nil
	}
}

func ingest(ctx context.Context, collection *chromem.Collection, docsDir string) error {
	var docs []chromem.Document

	err := filepath.WalkDir(docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isDocument(path) {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(docsDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}

		for i, chunk := range chunks(string(raw)) {
			docs = append(docs, chromem.Document{
				ID:       fmt.Sprintf("%s#%d", rel, i),
				Metadata: map[string]string{"source": rel},
				Content:  chunk,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan docs dir: %w", err)
	}
	if len(docs) == 0 {
		log.Warn().Str("dir", docsDir).Msg("knowledge: no documents found to ingest")
		return nil
	}

	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	log.Info().Int("documents", len(docs)).Str("dir", docsDir).Msg("knowledge: ingested documents")
	return nil
}

func isDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// chunks splits text on blank lines and merges adjacent paragraphs until
// the next one would push a chunk past maxChunkRunes.
func chunks(text string) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(para)) > maxChunkRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return out
}
