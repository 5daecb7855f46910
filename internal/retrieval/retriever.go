package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalambet/scout/internal/apperr"
)

// File names inside an index directory.
const (
	IndexFile    = "index.faiss"
	MetadataFile = "metadata.json"
)

// Index pairs the vector index with its metadata side table. Both are
// read-only after Open.
type Index struct {
	flat   *FlatIndex
	corpus *Corpus
}

// Candidate is a document returned by nearest-neighbor search.
type Candidate struct {
	Document Document
	Distance float32
}

// NewIndex validates that flat and corpus describe the same documents.
func NewIndex(flat *FlatIndex, corpus *Corpus) (*Index, error) {
	if flat.Len() != corpus.Len() {
		return nil, fmt.Errorf("index holds %d vectors but metadata holds %d documents", flat.Len(), corpus.Len())
	}
	return &Index{flat: flat, corpus: corpus}, nil
}

// Open loads index.faiss and its metadata sidecar from dir. The sidecar is
// metadata.json, or metadata.yaml/metadata.yml when no JSON file exists.
// Every failure is an apperr.KindIndexLoad error.
func Open(dir string) (*Index, error) {
	const op = "index.open"

	flat, err := OpenFlatIndex(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, apperr.E(apperr.KindIndexLoad, op, err)
	}

	metaPath, err := findMetadata(dir)
	if err != nil {
		return nil, apperr.E(apperr.KindIndexLoad, op, err)
	}
	corpus, err := LoadCorpus(metaPath)
	if err != nil {
		return nil, apperr.E(apperr.KindIndexLoad, op, err)
	}

	idx, err := NewIndex(flat, corpus)
	if err != nil {
		return nil, apperr.E(apperr.KindIndexLoad, op, err)
	}
	return idx, nil
}

func findMetadata(dir string) (string, error) {
	for _, name := range []string{MetadataFile, "metadata.yaml", "metadata.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no metadata sidecar in %s", dir)
}

// Len returns the number of documents.
func (x *Index) Len() int { return x.flat.Len() }

// Dim returns the embedding dimension.
func (x *Index) Dim() int { return x.flat.Dim() }

// Document returns the document at id.
func (x *Index) Document(id int) (Document, bool) {
	if id < 0 || id >= x.corpus.Len() {
		return Document{}, false
	}
	return x.corpus.Document(id), true
}

// Search returns the k documents nearest to vec, closest first.
func (x *Index) Search(vec []float32, k int) ([]Candidate, error) {
	hits, err := x.flat.Search(vec, k)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{Document: x.corpus.Document(h.ID), Distance: h.Distance}
	}
	return out, nil
}

// Retriever combines query embedding and index search.
type Retriever struct {
	embedder *Embedder
	index    *Index
}

// NewRetriever creates a Retriever backed by the given Embedder and Index.
func NewRetriever(embedder *Embedder, index *Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Candidates embeds query and returns its n nearest documents.
func (r *Retriever) Candidates(ctx context.Context, query string, n int) ([]Candidate, error) {
	const op = "retrieval.candidates"

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.E(apperr.KindRetrieval, op, err)
	}
	cands, err := r.index.Search(vec, n)
	if err != nil {
		return nil, apperr.E(apperr.KindRetrieval, op, err)
	}
	return cands, nil
}

// Build embeds every contractor and writes index.faiss and metadata.json to dir.
func Build(ctx context.Context, embedder *Embedder, dir string, contractors []Contractor, urls []string) (*Index, error) {
	if len(urls) != 0 && len(urls) != len(contractors) {
		return nil, fmt.Errorf("got %d contractors but %d urls", len(contractors), len(urls))
	}
	corpus := &Corpus{Contractors: contractors, URLs: urls}
	corpus.Texts = make([]string, len(contractors))
	for i, c := range contractors {
		url := ""
		if len(urls) > 0 {
			url = urls[i]
		}
		corpus.Texts[i] = ContractorText(c, url)
	}

	vecs, err := embedder.EmbedBatch(ctx, corpus.Texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no contractors to index")
	}
	flat, err := NewFlatIndex(len(vecs[0]), vecs)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	if err := WriteFlatIndex(filepath.Join(dir, IndexFile), flat); err != nil {
		return nil, err
	}
	if err := WriteCorpus(filepath.Join(dir, MetadataFile), corpus); err != nil {
		return nil, err
	}
	return NewIndex(flat, corpus)
}
