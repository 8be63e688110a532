package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const durableExt = ".rec"

// durableQueue is a crash-surviving staging area for records awaiting
// network delivery: one file per record, named by a zero-padded insertion
// sequence so lexical order equals insertion order. A record file is
// removed only after its chunk was confirmed delivered, which makes
// delivery at-least-once across process restarts.
type durableQueue struct {
	dir string

	mu      sync.Mutex
	nextSeq uint64
}

func openDurableQueue(dir string) (*durableQueue, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory %s: %w", dir, err)
	}

	q := &durableQueue{dir: dir}

	// Resume the sequence after whatever survived the last run.
	names, err := q.sortedNames()
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		last := strings.TrimSuffix(names[len(names)-1], durableExt)
		if seq, err := strconv.ParseUint(last, 10, 64); err == nil {
			q.nextSeq = seq
		}
	}
	return q, nil
}

// Push persists records in insertion order.
func (q *durableQueue) Push(records [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, record := range records {
		q.nextSeq++
		name := fmt.Sprintf("%020d%s", q.nextSeq, durableExt)
		if err := os.WriteFile(filepath.Join(q.dir, name), record, 0644); err != nil {
			return fmt.Errorf("failed to persist record: %w", err)
		}
	}
	return nil
}

// Oldest reads up to n records from the front of the queue, returning the
// file names needed to remove them after delivery.
func (q *durableQueue) Oldest(n int) ([]string, [][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.sortedNames()
	if err != nil {
		return nil, nil, err
	}
	if len(names) > n {
		names = names[:n]
	}

	records := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(q.dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read queued record: %w", err)
		}
		records = append(records, data)
	}
	return names, records, nil
}

// Remove deletes delivered record files.
func (q *durableQueue) Remove(names []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, name := range names {
		if err := os.Remove(filepath.Join(q.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove queued record: %w", err)
		}
	}
	return nil
}

// Len returns the number of records still staged.
func (q *durableQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.sortedNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (q *durableQueue) sortedNames() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), durableExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
