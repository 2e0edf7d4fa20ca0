package tool

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	chromem "github.com/philippgille/chromem-go"
)

const ToolSearchKnowledgeBase = "search_knowledge_base"

const defaultSearchResults = 4

type knowledgeSnippet struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
	Source     string  `json:"source,omitempty"`
}

// RegisterResearch wires the knowledge-base search tool against a chromem
// collection of ingested documents.
func RegisterResearch(c *Catalog, collection *chromem.Collection) error {
	if collection == nil {
		return fmt.Errorf("knowledge base collection is required")
	}

	return c.Register(Spec{
		Name: ToolSearchKnowledgeBase,
		Desc: "Searches the document knowledge base and returns the most relevant snippets.",
		Params: map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "Natural language search query", Required: true},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		query := stringArg(args, "query")

		limit := defaultSearchResults
		if count := collection.Count(); count < limit {
			limit = count
		}
		if limit == 0 {
			return []knowledgeSnippet{}, nil
		}

		results, err := collection.Query(ctx, query, limit, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("knowledge base query: %w", err)
		}

		snippets := make([]knowledgeSnippet, 0, len(results))
		for _, r := range results {
			snippet := knowledgeSnippet{
				DocumentID: r.ID,
				Content:    r.Content,
				Similarity: r.Similarity,
			}
			if source, ok := r.Metadata["source"]; ok {
				snippet.Source = source
			}
			snippets = append(snippets, snippet)
		}
		return snippets, nil
	})
}
