// Package archive persists completed chat transcripts.
//
// A transcript is stored once, under {chatID}/{requestID}.txt, and never
// deleted: the archive is an append-only record of what was served. Backends
// cover local disk and any S3-compatible object store.
package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Store is transcript storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create opens the named transcript for writing, truncating any
	// existing content. The caller must close the writer to flush data.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Open opens the named transcript for reading.
	// If it does not exist, an error wrapping os.ErrNotExist is returned.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether the named transcript exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Path returns the canonical transcript path for a request.
func Path(chatID, requestID string) string {
	return chatID + "/" + requestID + ".txt"
}

// Save writes one transcript under its canonical path.
func Save(ctx context.Context, s Store, chatID, requestID, text string) error {
	w, err := s.Create(ctx, Path(chatID, requestID))
	if err != nil {
		return fmt.Errorf("archive %s/%s: %w", chatID, requestID, err)
	}
	if _, err := io.Copy(w, strings.NewReader(text)); err != nil {
		w.Close()
		return fmt.Errorf("archive %s/%s: %w", chatID, requestID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive %s/%s: %w", chatID, requestID, err)
	}
	return nil
}
