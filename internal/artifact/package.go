package artifact

import (
	"fmt"
	"strings"
)

const (
	DirectoryBlob = "directory"
	DefaultBlob   = "default"
)

// PostingsBlob names a postings chunk in a remote store.
func PostingsBlob(id uint32) string { return fmt.Sprintf("postings_%d", id) }

// DocumentsBlob names a document chunk in a remote store.
func DocumentsBlob(id uint32) string { return fmt.Sprintf("documents_%d", id) }

// Blob is one named object handed to the deployment target, unmodified.
type Blob struct {
	Name string
	Data []byte
}

// Package lists the blobs of a deployment in upload order. Chunks come
// first and the directory last, so a reader that finds the directory finds
// every chunk it references. Without uploadData only the directory and the
// default results are included.
func Package(a *Artifact, defaultResults []byte, uploadData bool) ([]Blob, error) {
	dir, err := a.Directory.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding directory: %w", err)
	}
	var blobs []Blob
	if uploadData {
		blobs = make([]Blob, 0, len(a.Postings)+len(a.Documents)+2)
		for _, c := range a.Postings {
			blobs = append(blobs, Blob{Name: PostingsBlob(c.ID), Data: c.Data})
		}
		for _, c := range a.Documents {
			blobs = append(blobs, Blob{Name: DocumentsBlob(c.ID), Data: c.Data})
		}
	}
	blobs = append(blobs,
		Blob{Name: DefaultBlob, Data: defaultResults},
		Blob{Name: DirectoryBlob, Data: dir},
	)
	return blobs, nil
}

// Key returns the store key of a blob: <prefix>:<name>[:<namespace>]:<blob>.
func Key(prefix, name, namespace, blob string) string {
	parts := []string{prefix, name}
	if namespace != "" {
		parts = append(parts, namespace)
	}
	parts = append(parts, blob)
	return strings.Join(parts, ":")
}
