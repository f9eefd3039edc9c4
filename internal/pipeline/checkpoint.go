package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"archivist/internal/dataset"
)

// FailedBook is a book that exhausted its batch retries.
type FailedBook struct {
	Book     string `json:"book"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Checkpoint is the batch progress file. Books are keyed by file name.
type Checkpoint struct {
	ProcessedBooks []string     `json:"processed_books"`
	FailedBooks    []FailedBook `json:"failed_books"`
	LastBook       *string      `json:"last_book"`
	Timestamp      *string      `json:"timestamp"`

	path string
}

// LoadCheckpoint reads path. A missing file yields an empty checkpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	cp := &Checkpoint{ProcessedBooks: []string{}, FailedBooks: []FailedBook{}, path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if cp.ProcessedBooks == nil {
		cp.ProcessedBooks = []string{}
	}
	if cp.FailedBooks == nil {
		cp.FailedBooks = []FailedBook{}
	}
	return cp, nil
}

// Path is where Save writes.
func (c *Checkpoint) Path() string { return c.path }

// Processed reports whether book completed in an earlier run.
func (c *Checkpoint) Processed(book string) bool {
	return slices.Contains(c.ProcessedBooks, book)
}

// MarkProcessed records a completed book and clears an earlier failure.
func (c *Checkpoint) MarkProcessed(book string) {
	c.clearFailure(book)
	if !c.Processed(book) {
		c.ProcessedBooks = append(c.ProcessedBooks, book)
	}
	c.LastBook = &book
}

// MarkFailed records a book that failed after attempts tries.
func (c *Checkpoint) MarkFailed(book, errMsg string, attempts int) {
	c.clearFailure(book)
	c.FailedBooks = append(c.FailedBooks, FailedBook{Book: book, Error: errMsg, Attempts: attempts})
	c.LastBook = &book
}

func (c *Checkpoint) clearFailure(book string) {
	c.FailedBooks = slices.DeleteFunc(c.FailedBooks, func(f FailedBook) bool { return f.Book == book })
}

// Save stamps the checkpoint with now and writes it atomically.
func (c *Checkpoint) Save(now time.Time) error {
	ts := now.Format(time.RFC3339)
	c.Timestamp = &ts
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := dataset.WriteFileAtomic(c.path, append(data, '\n')); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", c.path, err)
	}
	return nil
}
