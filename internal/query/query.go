// Package query implements the retrieval strategy dispatcher: semantic
// (vector kNN), metadata-only, and full-text search, plus the two
// companion operations that return a single top-ranked document's raw
// bytes or concatenated chunk text.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/spherical-ai/raged/internal/blobstore"
	"github.com/spherical-ai/raged/internal/embedding"
	"github.com/spherical-ai/raged/internal/filterdsl"
	"github.com/spherical-ai/raged/internal/storage"
)

const (
	DefaultTopK = 8
	MinTopK     = 1
	MaxTopK     = 100
)

// Sentinel errors the HTTP transport maps to status codes.
var (
	ErrNoMatch        = errors.New("no matching result")
	ErrNoRawPayload   = errors.New("document has no raw payload")
	ErrBlobUnavailable = errors.New("blob store retrieval failed")
)

// Request is the decoded body of POST /query (and its two companion
// endpoints, which share the same shape and strategy resolution).
type Request struct {
	Collection  string
	Query       string
	Filter      json.RawMessage
	Strategy    string // "", "semantic", "metadata", "fulltext"
	TopK        int
	MinScore    *float64
	GraphEntity string
	GraphDepth  int
}

// ResultItem is one scored, document-joined chunk.
type ResultItem struct {
	ID              string  `json:"id"`
	DocumentID      string  `json:"documentId"`
	BaseID          string  `json:"baseId"`
	Collection      string  `json:"collection"`
	Score           float64 `json:"score"`
	Text            string  `json:"text"`
	DocType         string  `json:"docType"`
	Source          string  `json:"source"`
	Summary         *string `json:"summary,omitempty"`
	PayloadChecksum string  `json:"payloadChecksum"`
}

// Routing reports which strategy actually ran and how it performed.
type Routing struct {
	Strategy   string  `json:"strategy"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	MS         int64   `json:"ms"`
}

// Response is the shape of POST /query.
type Response struct {
	OK      bool         `json:"ok"`
	Results []ResultItem `json:"results"`
	Routing *Routing     `json:"routing,omitempty"`
	Graph   *GraphResult `json:"graph,omitempty"`
}

// Service dispatches queries to the semantic/metadata/fulltext
// strategies and serves the download-first/fulltext-first companions.
type Service struct {
	repos    *storage.Repositories
	embedder embedding.Embedder
	blobs    blobstore.Store
	graph    *GraphService
}

// New builds a query Service.
func New(repos *storage.Repositories, embedder embedding.Embedder, blobs blobstore.Store, graph *GraphService) *Service {
	return &Service{repos: repos, embedder: embedder, blobs: blobs, graph: graph}
}

// Query dispatches to the resolved strategy and shapes a unified response.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	topK := clampTopK(req.TopK)
	strategy := resolveStrategy(req.Strategy, req.Query)

	results, method, err := s.run(ctx, strategy, req, topK)
	if err != nil {
		return nil, err
	}

	items := make([]ResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, toResultItem(r))
	}

	resp := &Response{
		OK:      true,
		Results: items,
		Routing: &Routing{
			Strategy:   strategy,
			Method:     method,
			Confidence: confidence(items),
			MS:         time.Since(start).Milliseconds(),
		},
	}

	if req.GraphEntity != "" && s.graph != nil {
		g, err := s.graph.Expand(ctx, req.Collection, req.GraphEntity, req.GraphDepth)
		if err == nil {
			resp.Graph = g
		}
	}

	return resp, nil
}

// run executes one strategy and returns its raw results plus a method
// label describing exactly what ran (useful for the routing field when a
// fulltext query silently falls back to ILIKE).
func (s *Service) run(ctx context.Context, strategy string, req Request, topK int) ([]storage.SemanticSearchResult, string, error) {
	switch strategy {
	case "semantic":
		filterSQL, filterArgs, err := filterdsl.ParseAndCompile(req.Filter, 3)
		if err != nil {
			return nil, "", err
		}
		if strings.TrimSpace(req.Query) == "" {
			return nil, "", fmt.Errorf("semantic search requires a non-empty query")
		}
		vectors, err := s.embedder.EmbedBatch(ctx, []string{req.Query}, 1)
		if err != nil {
			return nil, "", err
		}
		minScore := autoMinScore(req.Query)
		if req.MinScore != nil {
			minScore = *req.MinScore
		}
		results, err := s.repos.Chunks.SemanticSearch(ctx, req.Collection, pgvector.NewVector(vectors[0]), filterSQL, filterArgs, minScore, topK)
		return results, "cosine_knn", err

	case "metadata":
		filterSQL, filterArgs, err := filterdsl.ParseAndCompile(req.Filter, 2)
		if err != nil {
			return nil, "", err
		}
		results, err := s.repos.Chunks.MetadataSearch(ctx, req.Collection, filterSQL, filterArgs, topK)
		return results, "metadata_scan", err

	case "fulltext":
		filterSQL, filterArgs, err := filterdsl.ParseAndCompile(req.Filter, 3)
		if err != nil {
			return nil, "", err
		}
		results, err, needsILIKE := s.repos.Chunks.FullTextSearch(ctx, req.Collection, req.Query, filterSQL, filterArgs, topK, false)
		if needsILIKE {
			results, err, _ = s.repos.Chunks.FullTextSearch(ctx, req.Collection, req.Query, filterSQL, filterArgs, topK, true)
			return results, "fulltext_ilike_fallback", err
		}
		return results, "fulltext_tsquery", err

	default:
		return nil, "", fmt.Errorf("unknown query strategy %q", strategy)
	}
}

// resolveStrategy honours an explicit request strategy; otherwise picks
// semantic when a query string is present and metadata-only scan
// otherwise, per §4.6's "dispatched by caller request or by an internal
// rule."
func resolveStrategy(explicit, queryText string) string {
	if explicit != "" {
		return explicit
	}
	if strings.TrimSpace(queryText) != "" {
		return "semantic"
	}
	return "metadata"
}

func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK < MinTopK {
		return MinTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}

// autoMinScore derives the semantic similarity floor from the query's
// term count: short queries are noisier, so they tolerate a lower bar.
func autoMinScore(query string) float64 {
	n := len(strings.Fields(query))
	switch {
	case n <= 1:
		return 0.3
	case n == 2:
		return 0.4
	case n <= 4:
		return 0.5
	default:
		return 0.6
	}
}

func confidence(items []ResultItem) float64 {
	if len(items) == 0 {
		return 0
	}
	return items[0].Score
}

func toResultItem(r storage.SemanticSearchResult) ResultItem {
	return ResultItem{
		ID:              storage.ChunkID(r.Document.BaseID, r.Chunk.ChunkIndex),
		DocumentID:      r.Document.ID.String(),
		BaseID:          r.Document.BaseID,
		Collection:      r.Document.Collection,
		Score:           r.Score,
		Text:            r.Chunk.Text,
		DocType:         r.Chunk.DocType,
		Source:          r.Chunk.Source,
		Summary:         r.Document.Summary,
		PayloadChecksum: payloadChecksum(r.Chunk),
	}
}

// payloadChecksum is a stable content hash over a chunk's text and
// metadata tiers, letting callers detect when a previously fetched chunk
// has changed without re-downloading it.
func payloadChecksum(c storage.Chunk) string {
	h := sha256.New()
	io.WriteString(h, c.Text)
	h.Write(c.Tier1Meta)
	h.Write(c.Tier2Meta)
	h.Write(c.Tier3Meta)
	return hex.EncodeToString(h.Sum(nil))
}

// DownloadResult is the payload of POST /query/download-first.
type DownloadResult struct {
	BaseID      string
	MimeType    string
	Data        []byte
}

// DownloadFirst returns the raw bytes of the top-ranked document for req,
// reading from blob storage when the document's payload was offloaded.
func (s *Service) DownloadFirst(ctx context.Context, req Request) (*DownloadResult, error) {
	doc, err := s.topDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(doc.RawData) > 0 {
		return &DownloadResult{BaseID: doc.BaseID, MimeType: doc.MimeType, Data: doc.RawData}, nil
	}
	if doc.RawKey == nil || *doc.RawKey == "" {
		return nil, ErrNoRawPayload
	}

	rc, err := s.blobs.Get(ctx, *doc.RawKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlobUnavailable, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlobUnavailable, err)
	}
	return &DownloadResult{BaseID: doc.BaseID, MimeType: doc.MimeType, Data: data}, nil
}

// FulltextResult is the payload of POST /query/fulltext-first.
type FulltextResult struct {
	BaseID string
	Text   string
}

// FulltextFirst concatenates, in chunk_index order, the text of every
// chunk belonging to the top-ranked document for req.
func (s *Service) FulltextFirst(ctx context.Context, req Request) (*FulltextResult, error) {
	doc, err := s.topDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks, err := s.repos.Chunks.ByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(c.Text)
	}
	return &FulltextResult{BaseID: doc.BaseID, Text: sb.String()}, nil
}

// topDocument runs the query and resolves the highest-ranked result's
// owning document. Returns ErrNoMatch when the query yields nothing.
func (s *Service) topDocument(ctx context.Context, req Request) (storage.Document, error) {
	topK := req.TopK
	req.TopK = 1
	strategy := resolveStrategy(req.Strategy, req.Query)
	results, _, err := s.run(ctx, strategy, req, 1)
	req.TopK = topK
	if err != nil {
		return storage.Document{}, err
	}
	if len(results) == 0 {
		return storage.Document{}, ErrNoMatch
	}
	return s.repos.Documents.GetByID(ctx, results[0].Document.ID)
}
