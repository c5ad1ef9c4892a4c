// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package archive maintains a local git mirror of checkpoint exports.
// Every checkpoint writes the store as markdown-with-frontmatter files
// and commits them, giving a human-diffable history of the memory
// alongside the binary snapshots.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/export"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"gorm.io/gorm"
)

const (
	commitAuthor = "Engram"
	commitEmail  = "memory@engram.local"
)

// Archive wraps the export mirror repository
type Archive struct {
	path string
	repo *git.Repository
}

// Open opens the mirror at path, initializing it on first use
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	repo, err := git.PlainOpen(path)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive repository: %w", err)
	}

	return &Archive{path: path, repo: repo}, nil
}

// Path returns the mirror's working directory
func (a *Archive) Path() string {
	return a.path
}

// CommitCheckpoint exports every live record as a markdown file and
// commits the tree under the checkpoint name. Files for records that
// no longer exist are removed so the mirror tracks the store exactly.
func (a *Archive) CommitCheckpoint(db *gorm.DB, checkpointName string) error {
	var records []database.MemoryRecord
	if err := db.Find(&records).Error; err != nil {
		return fmt.Errorf("failed to read records for export: %w", err)
	}

	expected := make(map[string]bool, len(records))
	for i := range records {
		rel := export.Filename(&records[i])
		expected[rel] = true

		data, err := export.Encode(&records[i])
		if err != nil {
			return err
		}

		full := filepath.Join(a.path, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("failed to create scope directory: %w", err)
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}
	}

	if err := a.removeStale(expected); err != nil {
		return err
	}

	worktree, err := a.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage export: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	message := fmt.Sprintf("checkpoint: %s (%d memories)", checkpointName, len(records))
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthor,
			Email: commitEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: status.IsClean(),
	})
	if err != nil {
		return fmt.Errorf("failed to commit export: %w", err)
	}
	return nil
}

// removeStale deletes exported files whose records are gone
func (a *Archive) removeStale(expected map[string]bool) error {
	return filepath.Walk(a.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}
		rel, err := filepath.Rel(a.path, path)
		if err != nil {
			return err
		}
		if !expected[filepath.ToSlash(rel)] {
			return os.Remove(path)
		}
		return nil
	})
}

// History returns the most recent archive commits, newest first
func (a *Archive) History(maxCount int) ([]*object.Commit, error) {
	ref, err := a.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	iter, err := a.repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to get commit log: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if maxCount > 0 && len(commits) >= maxCount {
			return fmt.Errorf("stop iteration")
		}
		commits = append(commits, c)
		return nil
	})
	if err != nil && err.Error() != "stop iteration" {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}
	return commits, nil
}
