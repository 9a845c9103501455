// Package ingest orchestrates the ingestion pipeline: resolve each item
// (fetching URLs as needed), classify its doc type, chunk and embed its
// text, upsert the owning document, atomically replace its chunks, and
// optionally enqueue enrichment work. One item's failure never aborts
// the rest of the batch; its reason is recorded in the result's errors.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/spherical-ai/raged/internal/blobstore"
	"github.com/spherical-ai/raged/internal/chunker"
	"github.com/spherical-ai/raged/internal/embedding"
	"github.com/spherical-ai/raged/internal/fetch"
	"github.com/spherical-ai/raged/internal/observability"
	"github.com/spherical-ai/raged/internal/queue"
	"github.com/spherical-ai/raged/internal/storage"
)

// Item is one caller-supplied ingestion unit: either inline text with a
// source label, or a URL the service must fetch.
type Item struct {
	BaseID   string
	Text     string
	URL      string
	Source   string
	DocType  string
	MimeType string
	Path     *string
	Lang     *string
	RepoID   *string
	RepoURL  *string
	ItemURL  *string
}

// Request is the decoded body of POST /ingest.
type Request struct {
	Collection string
	Items      []Item
	Enrich     bool
	Overwrite  bool
}

// ItemError reports one item's failure without aborting the batch.
type ItemError struct {
	Source string `json:"source,omitempty"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason"`
}

// DocumentResult summarizes one successfully ingested document.
type DocumentResult struct {
	BaseID             string `json:"baseId"`
	DocumentID         string `json:"documentId"`
	Collection         string `json:"collection"`
	ChunkCount         int    `json:"chunkCount"`
	Created            bool   `json:"created"`
	EnrichmentEnqueued int    `json:"enrichmentEnqueued,omitempty"`
}

// Result is the response shape of POST /ingest.
type Result struct {
	Upserted  int              `json:"upserted"`
	Documents []DocumentResult `json:"documents"`
	Errors    []ItemError      `json:"errors,omitempty"`
}

// Config tunes chunking, embedding concurrency, blob offload, and the
// enrichment gate.
type Config struct {
	Chunk              chunker.Config
	VectorDim          int
	EmbedConcurrency   int
	EnrichmentEnabled  bool
	BlobThresholdBytes int64
}

// Service implements the ingestion pipeline over its collaborators. Every
// dependency is an interface or a narrow struct so the pipeline is
// testable with in-memory fakes.
type Service struct {
	logger   *observability.Logger
	repos    *storage.Repositories
	embedder embedding.Embedder
	fetcher  *fetch.Fetcher
	blobs    blobstore.Store
	queue    *queue.Service
	cfg      Config
}

// New builds an ingestion Service.
func New(logger *observability.Logger, repos *storage.Repositories, embedder embedding.Embedder, fetcher *fetch.Fetcher, blobs blobstore.Store, q *queue.Service, cfg Config) *Service {
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 10
	}
	return &Service{logger: logger, repos: repos, embedder: embedder, fetcher: fetcher, blobs: blobs, queue: q, cfg: cfg}
}

// Ingest runs the pipeline over every item in req, never aborting the
// batch on a single item's failure.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	result := &Result{}

	for _, item := range req.Items {
		doc, err := s.ingestOne(ctx, req.Collection, item, req.Overwrite, req.Enrich)
		if err != nil {
			result.Errors = append(result.Errors, toItemError(item, err))
			s.logger.Warn().Str("source", item.Source).Str("url", item.URL).Err(err).Msg("ingest item failed")
			continue
		}
		result.Upserted++
		result.Documents = append(result.Documents, *doc)
	}

	return result, nil
}

func (s *Service) ingestOne(ctx context.Context, collection string, item Item, overwrite, enrich bool) (*DocumentResult, error) {
	text, source, mimeType, err := s.resolveContent(ctx, item)
	if err != nil {
		return nil, err
	}

	identityKey := identityKeyFor(item.URL, source)
	docType := classifyDocType(item.DocType, item.URL, text, source)
	tier1, err := json.Marshal(extractTier1(docType, text))
	if err != nil {
		return nil, fmt.Errorf("marshal tier1 metadata: %w", err)
	}

	pieces := chunker.Split(text, s.cfg.Chunk)
	if len(pieces) == 0 {
		pieces = []string{""}
	}

	vectors, err := s.embedder.EmbedBatch(ctx, pieces, s.cfg.EmbedConcurrency)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	enqueueNow := enrich && s.cfg.EnrichmentEnabled
	status := storage.EnrichmentStatusNone
	if enqueueNow {
		status = storage.EnrichmentStatusPending
	}

	chunks := make([]storage.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = storage.Chunk{
			Text:             p,
			Embedding:        pgvector.NewVector(vectors[i]),
			DocType:          docType,
			Source:           source,
			Path:             item.Path,
			Lang:             item.Lang,
			RepoID:           item.RepoID,
			RepoURL:          item.RepoURL,
			ItemURL:          item.ItemURL,
			Tier1Meta:        tier1,
			EnrichmentStatus: status,
		}
	}

	baseID := item.BaseID
	if baseID == "" {
		baseID = identityKey
	}

	rawData, rawKey, err := s.offloadRaw(ctx, collection, baseID, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("offload raw payload: %w", err)
	}

	tx, err := s.repos.Documents.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	doc, created, err := s.repos.Documents.Upsert(ctx, tx, storage.UpsertInput{
		BaseID:      baseID,
		Collection:  collection,
		Source:      source,
		IdentityKey: identityKey,
		MimeType:    mimeType,
		Overwrite:   overwrite,
		RawData:     rawData,
		RawKey:      rawKey,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}

	replacedChunks := created || overwrite
	if replacedChunks {
		if _, err := s.repos.Chunks.ReplaceAll(ctx, tx, doc.ID, chunks, s.cfg.VectorDim); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingest tx: %w", err)
	}

	chunkCount := len(chunks)
	if !replacedChunks {
		// Re-ingest without overwrite only refreshes last_seen; the
		// document's chunks are untouched, so report their actual count
		// rather than the freshly computed (but unwritten) set.
		existing, err := s.repos.Chunks.ByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("count existing chunks: %w", err)
		}
		chunkCount = len(existing)
	}

	out := &DocumentResult{
		BaseID:     doc.BaseID,
		DocumentID: doc.ID.String(),
		Collection: doc.Collection,
		ChunkCount: chunkCount,
		Created:    created,
	}

	if enqueueNow && replacedChunks {
		n, err := s.queue.EnqueueChunks(ctx, collection, baseID, chunks)
		if err != nil {
			// Per the idempotence contract, a failed enqueue never rolls
			// back the upsert that already committed; it surfaces as a
			// warning only.
			s.logger.Warn().Str("baseId", baseID).Err(err).Msg("enrichment enqueue failed after commit")
		}
		out.EnrichmentEnqueued = n
	}

	return out, nil
}

// resolveContent fetches URL items and returns inline text items
// unchanged. Fetch failures are returned as typed errors for the caller
// to record in the batch's errors[] without aborting the rest.
func (s *Service) resolveContent(ctx context.Context, item Item) (text, source, mimeType string, err error) {
	if item.URL != "" {
		res, fetchErr := s.fetcher.Fetch(ctx, item.URL)
		if fetchErr != nil {
			return "", "", "", fetchErr
		}
		src := item.Source
		if src == "" {
			src = res.URL
		}
		return string(res.Body), src, res.ContentType, nil
	}
	return item.Text, item.Source, item.MimeType, nil
}

// offloadRaw writes the raw payload to blob storage when it exceeds the
// configured threshold, returning (nil, &key) in that case, or
// (data, nil) when inlined. Absence of a configured blob store (or a
// payload under threshold) always inlines.
func (s *Service) offloadRaw(ctx context.Context, collection, baseID string, data []byte) ([]byte, *string, error) {
	if s.cfg.BlobThresholdBytes <= 0 || int64(len(data)) <= s.cfg.BlobThresholdBytes {
		return data, nil, nil
	}
	key := fmt.Sprintf("%s/%s", collection, baseID)
	if err := s.blobs.Put(ctx, key, strings.NewReader(string(data)), int64(len(data))); err != nil {
		if err == blobstore.ErrBlobStoreUnavailable {
			return data, nil, nil
		}
		return nil, nil, err
	}
	return nil, &key, nil
}

func toItemError(item Item, err error) ItemError {
	reason := err.Error()
	var fetchErr *fetch.FetchError
	if e, ok := err.(*fetch.FetchError); ok {
		fetchErr = e
	}
	if fetchErr != nil {
		reason = string(fetchErr.Kind)
	}
	return ItemError{Source: item.Source, URL: item.URL, Reason: reason}
}

// identityKeyFor canonicalises a source for idempotent re-ingest: for
// URLs, origin+path with query and fragment discarded; for everything
// else, the source verbatim.
func identityKeyFor(rawURL, source string) string {
	if rawURL == "" {
		return source
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return source
	}
	return u.Scheme + "://" + u.Host + u.Path
}

var extDocType = map[string]string{
	".md":   "markdown",
	".go":   "code",
	".py":   "code",
	".js":   "code",
	".ts":   "code",
	".tsx":  "code",
	".jsx":  "code",
	".java": "code",
	".rb":   "code",
	".rs":   "code",
	".c":    "code",
	".cpp":  "code",
	".h":    "code",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".html": "html",
	".xml":  "xml",
	".csv":  "csv",
}

// classifyDocType resolves a chunk's doc type: explicit item field wins,
// then URL path hints, then a crude content-pattern sniff, then the
// source's file extension, defaulting to "text".
func classifyDocType(explicit, rawURL, content, source string) string {
	if explicit != "" {
		return explicit
	}
	if rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil {
			if dt, ok := extDocType[strings.ToLower(path.Ext(u.Path))]; ok {
				return dt
			}
		}
	}
	if dt := sniffContent(content); dt != "" {
		return dt
	}
	if dt, ok := extDocType[strings.ToLower(path.Ext(source))]; ok {
		return dt
	}
	return "text"
}

func sniffContent(content string) string {
	trimmed := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(trimmed, "<?xml"):
		return "xml"
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return "json"
	case strings.HasPrefix(trimmed, "#!"):
		return "code"
	case strings.HasPrefix(trimmed, "# ") || strings.Contains(trimmed, "\n## "):
		return "markdown"
	case strings.Contains(trimmed, "\npackage ") || strings.Contains(trimmed, "\nfunc ") ||
		strings.Contains(trimmed, "\ndef ") || strings.Contains(trimmed, "\nimport "):
		return "code"
	default:
		return ""
	}
}

// tier1Meta is the synchronous, doc-type-specific metadata bag computed
// at ingest time. The core treats its contents as opaque JSON; this is a
// minimal built-in extractor covering the generic case, not the
// content-type-specific extractors (PDF/EXIF/etc.) that remain an
// external collaborator.
type tier1Meta struct {
	DocType    string `json:"docType"`
	Length     int    `json:"length"`
	LineCount  int    `json:"lineCount"`
	WordCount  int    `json:"wordCount"`
}

func extractTier1(docType, text string) tier1Meta {
	return tier1Meta{
		DocType:   docType,
		Length:    len(text),
		LineCount: strings.Count(text, "\n") + 1,
		WordCount: len(strings.Fields(text)),
	}
}
