// Package artifact writes, loads and packages the on-disk build output: one
// directory file plus numbered postings and document chunk files.
package artifact

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

const (
	DirectoryFile   = "directory.esd"
	postingsPrefix  = "postings_"
	documentsPrefix = "documents_"
	chunkExt        = ".esc"
)

// PostingsFile returns the file name of a postings chunk.
func PostingsFile(id uint32) string {
	return fmt.Sprintf("%s%06d%s", postingsPrefix, id, chunkExt)
}

// DocumentsFile returns the file name of a document chunk.
func DocumentsFile(id uint32) string {
	return fmt.Sprintf("%s%06d%s", documentsPrefix, id, chunkExt)
}

// Artifact is a loaded, fully validated artifact. It is read-only.
type Artifact struct {
	*codec.Index
}

// Query returns the evaluator view over resident postings chunks.
func (a *Artifact) Query() query.Index {
	return query.Index{Directory: a.Directory, Postings: query.MemorySource(a.Postings)}
}

// Document returns the payload of a document.
func (a *Artifact) Document(id uint32) ([]byte, error) {
	return codec.DecodeDocument(a.Index, id)
}

// Write stores idx under outputDir. All files are written into a temporary
// sibling directory which then replaces outputDir, so outputDir holds either
// the previous artifact or the complete new one.
func Write(outputDir string, idx *codec.Index) error {
	outputDir = filepath.Clean(outputDir)
	parent := filepath.Dir(outputDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("creating output parent directory: %w", err)
	}
	tmpDir, err := os.MkdirTemp(parent, filepath.Base(outputDir)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp artifact directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmpDir)
		}
	}()

	dirBytes, err := idx.Directory.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding directory: %w", err)
	}
	if err := writeFile(filepath.Join(tmpDir, DirectoryFile), dirBytes); err != nil {
		return err
	}
	for _, c := range idx.Postings {
		if err := writeFile(filepath.Join(tmpDir, PostingsFile(c.ID)), c.Data); err != nil {
			return err
		}
	}
	for _, c := range idx.Documents {
		if err := writeFile(filepath.Join(tmpDir, DocumentsFile(c.ID)), c.Data); err != nil {
			return err
		}
	}

	oldDir := ""
	if _, err := os.Stat(outputDir); err == nil {
		oldDir = fmt.Sprintf("%s.old-%d", outputDir, time.Now().UnixNano())
		if err := os.Rename(outputDir, oldDir); err != nil {
			return fmt.Errorf("moving previous artifact aside: %w", err)
		}
	}
	if err := os.Rename(tmpDir, outputDir); err != nil {
		if oldDir != "" {
			os.Rename(oldDir, outputDir)
		}
		return fmt.Errorf("committing artifact: %w", err)
	}
	committed = true
	if oldDir != "" {
		if err := os.RemoveAll(oldDir); err != nil {
			slog.Warn("removing previous artifact failed", "path", oldDir, "error", err)
		}
	}
	slog.Info("artifact written",
		"path", outputDir,
		"terms", len(idx.Directory.Terms),
		"documents", idx.Directory.DocumentCount,
		"postings_chunks", len(idx.Postings),
		"document_chunks", len(idx.Documents),
	)
	return nil
}

func writeFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Load reads and validates the artifact in dir. Every chunk is checked and
// every posting set and document is decoded, so a corrupt artifact is refused
// here rather than at query time.
func Load(dir string) (*Artifact, error) {
	raw, err := os.ReadFile(filepath.Join(dir, DirectoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s has no %s", apperrors.ErrFormat, dir, DirectoryFile)
		}
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	directory, err := codec.UnmarshalDirectory(raw)
	if err != nil {
		return nil, err
	}
	postingChunks, err := loadChunks(dir, postingsPrefix, directory.PostingsChunks, PostingsFile)
	if err != nil {
		return nil, err
	}
	documentChunks, err := loadChunks(dir, documentsPrefix, directory.DocumentChunks, DocumentsFile)
	if err != nil {
		return nil, err
	}
	a := &Artifact{&codec.Index{Directory: directory, Postings: postingChunks, Documents: documentChunks}}
	if _, err := codec.DecodeTerms(a.Index); err != nil {
		return nil, err
	}
	for id := uint32(0); id < directory.DocumentCount; id++ {
		if _, err := a.Document(id); err != nil {
			return nil, fmt.Errorf("document %d: %w", id, err)
		}
	}
	return a, nil
}

func loadChunks(dir, prefix string, count uint32, name func(uint32) string) ([]codec.Chunk, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"+chunkExt))
	if err != nil {
		return nil, fmt.Errorf("listing %s chunks: %w", prefix, err)
	}
	if uint64(len(matches)) != uint64(count) {
		return nil, fmt.Errorf("%w: directory declares %d %s chunks, found %d files",
			apperrors.ErrFormat, count, strings.TrimSuffix(prefix, "_"), len(matches))
	}
	chunks := make([]codec.Chunk, count)
	for id := uint32(0); id < count; id++ {
		data, err := os.ReadFile(filepath.Join(dir, name(id)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: missing chunk file %s", apperrors.ErrFormat, name(id))
			}
			return nil, fmt.Errorf("reading %s: %w", name(id), err)
		}
		if err := codec.VerifyChunk(data, id); err != nil {
			return nil, fmt.Errorf("%s: %w", name(id), err)
		}
		chunks[id] = codec.Chunk{ID: id, Data: data}
	}
	return chunks, nil
}

// ParseDefaultResults decodes a default results blob: a JSON array of
// DocumentIds, each below documentCount.
func ParseDefaultResults(data []byte, documentCount uint32) ([]uint32, error) {
	var ids []uint32
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: default results must be a JSON array of document ids: %v",
			apperrors.ErrInvalidInput, err)
	}
	for i, id := range ids {
		if id >= documentCount {
			return nil, fmt.Errorf("%w: default result %d is document %d of %d",
				apperrors.ErrInvalidInput, i, id, documentCount)
		}
	}
	if ids == nil {
		ids = []uint32{}
	}
	return ids, nil
}
