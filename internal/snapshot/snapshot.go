// Package snapshot implements the on-disk ASCII-framed dump format: a
// header, a sequence of per-database blocks each holding per-family
// sub-blocks of length-prefixed entries, and a trailing EOF marker.
package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"kvstore/internal/database"
	"kvstore/internal/instrumentation"
)

const (
	header = "KV0001"
	eof    = "EOF"
)

// Writer serializes a point-in-time view of all 16 databases to a single
// file, using the temp-file-then-rename pattern so readers never observe a
// half-written dump.
type Writer struct {
	path  string
	instr instrumentation.Instrumentation
}

// NewWriter returns a Writer targeting path, reporting through instr.
func NewWriter(path string, instr instrumentation.Instrumentation) *Writer {
	if instr == nil {
		instr = instrumentation.NopInstrumentation{}
	}
	return &Writer{path: path, instr: instr}
}

// Save serializes dbs synchronously. Callers that want the non-blocking
// contract in spec §5 should pass already-Clone()'d databases and invoke
// this from a background goroutine — see SaveInBackground.
func (w *Writer) Save(dbs [16]*database.Database) error {
	tempPath := w.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}

	bw := bufio.NewWriter(file)
	if err := writeFile(bw, dbs); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("snapshot: flush: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tempPath, w.path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// SaveInBackground runs Save on a clone of dbs in its own goroutine, so the
// caller (which is expected to be holding the engine's dispatch lock only
// long enough to take the clones) is never blocked on file I/O. It reports
// through the Writer's instrumentation.
func (w *Writer) SaveInBackground(dbs [16]*database.Database) {
	var clones [16]*database.Database
	for i, db := range dbs {
		if db != nil {
			clones[i] = db.Clone()
		}
	}

	w.instr.SnapshotAttempted()
	go func() {
		start := time.Now()
		if err := w.Save(clones); err != nil {
			w.instr.SnapshotFailed()
			return
		}
		w.instr.SnapshotSucceeded(time.Since(start))
	}()
}

func writeFile(w *bufio.Writer, dbs [16]*database.Database) error {
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for i, db := range dbs {
		if db == nil || db.Size() == 0 {
			continue
		}
		if err := writeDatabase(w, i, db); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, eof)
	return err
}

func writeDatabase(w *bufio.Writer, index int, db *database.Database) error {
	if _, err := fmt.Fprintf(w, "SD%d", index); err != nil {
		return err
	}

	if err := writeStringFamily(w, db); err != nil {
		return err
	}
	if err := writeListFamily(w, db); err != nil {
		return err
	}
	if err := writeHashFamily(w, db); err != nil {
		return err
	}
	if err := writeSetFamily(w, db); err != nil {
		return err
	}
	return writeSortedSetFamily(w, db)
}

func writeEntryHeader(w *bufio.Writer, db *database.Database, family database.Family, key string) error {
	micros, _ := db.MicrosecondDeadline(family, key)
	if _, err := fmt.Fprintf(w, "ST%d", micros); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "!%d#%s", len(key), key)
	return err
}

func writeStringFamily(w *bufio.Writer, db *database.Database) error {
	entries := db.StringEntries()
	if len(entries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "^%d", database.FamilyString); err != nil {
		return err
	}
	for key, value := range entries {
		if err := writeEntryHeader(w, db, database.FamilyString, key); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "!%d$%s", len(value), value); err != nil {
			return err
		}
	}
	return nil
}

func writeListFamily(w *bufio.Writer, db *database.Database) error {
	entries := db.ListEntries()
	if len(entries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "^%d", database.FamilyList); err != nil {
		return err
	}
	for key, list := range entries {
		if err := writeEntryHeader(w, db, database.FamilyList, key); err != nil {
			return err
		}
		values := list.ToSlice()
		if _, err := fmt.Fprintf(w, "!%d", len(values)); err != nil {
			return err
		}
		for _, v := range values {
			if _, err := fmt.Fprintf(w, "!%d$%s", len(v), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeHashFamily(w *bufio.Writer, db *database.Database) error {
	entries := db.HashEntries()
	if len(entries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "^%d", database.FamilyHash); err != nil {
		return err
	}
	for key, hash := range entries {
		if err := writeEntryHeader(w, db, database.FamilyHash, key); err != nil {
			return err
		}
		fields := hash.SortedFields()
		if _, err := fmt.Fprintf(w, "!%d", len(fields)); err != nil {
			return err
		}
		for _, field := range fields {
			value, _ := hash.Get(field)
			if _, err := fmt.Fprintf(w, "!%d#%s!%d$%s", len(field), field, len(value), value); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSetFamily(w *bufio.Writer, db *database.Database) error {
	entries := db.SetEntries()
	if len(entries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "^%d", database.FamilySet); err != nil {
		return err
	}
	for key, set := range entries {
		if err := writeEntryHeader(w, db, database.FamilySet, key); err != nil {
			return err
		}
		members := set.Members()
		if _, err := fmt.Fprintf(w, "!%d", len(members)); err != nil {
			return err
		}
		for _, m := range members {
			if _, err := fmt.Fprintf(w, "!%d$%s", len(m), m); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSortedSetFamily(w *bufio.Writer, db *database.Database) error {
	entries := db.SortedSetEntries()
	if len(entries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "^%d", database.FamilySortedSet); err != nil {
		return err
	}
	for key, zset := range entries {
		if err := writeEntryHeader(w, db, database.FamilySortedSet, key); err != nil {
			return err
		}
		members := zset.All()
		if _, err := fmt.Fprintf(w, "!%d", len(members)); err != nil {
			return err
		}
		for _, m := range members {
			scoreText := strconv.FormatFloat(m.Score, 'g', -1, 64)
			if _, err := fmt.Fprintf(w, "!%d#%s!%d$%s", len(m.Member), m.Member, len(scoreText), scoreText); err != nil {
				return err
			}
		}
	}
	return nil
}
