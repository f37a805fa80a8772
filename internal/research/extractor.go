package research

import (
	"context"

	"github.com/prismnews/research-engine/pkg/extract"
	"github.com/prismnews/research-engine/pkg/reader"
)

// Content is plain title and text pulled from a URL.
type Content struct {
	Title string
	Text  string
}

// Extractor turns a URL into content. Implementations must return an
// error rather than panic; the orchestrator converts failures into a
// degraded placeholder.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Content, error)
}

// ReaderExtractor adapts the reader API client to the Extractor contract.
type ReaderExtractor struct {
	client reader.Client
}

func NewReaderExtractor(client reader.Client) *ReaderExtractor {
	return &ReaderExtractor{client: client}
}

func (e *ReaderExtractor) Extract(ctx context.Context, url string) (*Content, error) {
	resp, err := e.client.Read(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Content{Title: resp.Data.Title, Text: resp.Data.Content}, nil
}

// LocalExtractor adapts the direct goquery-based extractor. Used when no
// reader API key is configured.
type LocalExtractor struct {
	ex *extract.Extractor
}

func NewLocalExtractor(ex *extract.Extractor) *LocalExtractor {
	return &LocalExtractor{ex: ex}
}

func (e *LocalExtractor) Extract(ctx context.Context, url string) (*Content, error) {
	c, err := e.ex.Extract(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Content{Title: c.Title, Text: c.Text}, nil
}
