package notes

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/memoai/memopush/internal/chunkstore"
	"github.com/memoai/memopush/internal/pushstore"
)

// Stats summarizes one reconciliation pass.
type Stats struct {
	Files    int
	Sections int
	Created  int
	Deleted  int
	Errors   int
}

// Reconcile walks every markdown file under root and brings the chunk
// store in line with the vault: unseen sections become new chunks, and
// chunks whose section no longer exists are deleted along with any
// pushes that reference them. Identity is the normalized content hash,
// so an edited section retires the old chunk and starts a fresh one.
// A note that fails to read keeps its existing chunks; a read error must
// never cascade into deletions.
func Reconcile(chunks *chunkstore.DB, pushes *pushstore.Store, root string) (Stats, error) {
	var stats Stats

	existing, err := chunks.GetAll()
	if err != nil {
		return stats, fmt.Errorf("load chunks: %w", err)
	}
	byHash := make(map[string]string, len(existing)) // content hash -> chunk id
	for _, c := range existing {
		byHash[c.ContentHash] = c.ID
	}

	found := make(map[string]bool)
	failed := make(map[string]bool)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		stats.Files++

		notePath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			notePath = path
		}

		sections, err := ExtractFile(path)
		if err != nil {
			slog.Warn("failed to extract note", "path", path, "error", err)
			stats.Errors++
			failed[notePath] = true
			return nil
		}

		for _, section := range sections {
			stats.Sections++
			hash := Hash(section.Content)
			found[hash] = true
			if _, ok := byHash[hash]; ok {
				continue
			}
			created, err := chunks.Create(notePath, section.Content, hash, section.Importance)
			if err != nil {
				slog.Warn("failed to create chunk", "note", notePath, "error", err)
				stats.Errors++
				continue
			}
			byHash[hash] = created.ID
			stats.Created++
			slog.Debug("new chunk", "note", notePath, "chunk", created.ID)
		}
		return nil
	})
	if walkErr != nil {
		return stats, fmt.Errorf("walk vault %s: %w", root, walkErr)
	}

	for _, c := range existing {
		if found[c.ContentHash] {
			continue
		}
		// The note could not be extracted this pass, so its sections are
		// unknown; treating them as gone would turn a read error into
		// data loss.
		if failed[c.NotePath] {
			slog.Debug("keeping chunk for unreadable note", "chunk", c.ID, "note", c.NotePath)
			continue
		}
		if _, err := pushes.DeleteForChunk(c.ID); err != nil {
			slog.Warn("failed to delete pushes for orphaned chunk", "chunk", c.ID, "error", err)
			stats.Errors++
			continue
		}
		if err := chunks.Delete(c.ID); err != nil {
			slog.Warn("failed to delete orphaned chunk", "chunk", c.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.Deleted++
		slog.Debug("orphaned chunk deleted", "chunk", c.ID, "note", c.NotePath)
	}

	slog.Info("vault reconciled",
		"files", stats.Files,
		"sections", stats.Sections,
		"created", stats.Created,
		"deleted", stats.Deleted,
		"errors", stats.Errors,
	)
	return stats, nil
}
