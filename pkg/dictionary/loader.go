// Package dictionary loads ranked word lists into a prefix trie. It reads the
// chunked binary format (dict_NNNN.bin) and plain text word lists.
package dictionary

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/tchap/go-patricia/v2/patricia"
)

// Entry is one dictionary word. Rank 1 is the most frequent word.
type Entry struct {
	Word string
	Rank uint16
}

// Dictionary holds the loaded words keyed by their lower-cased form.
type Dictionary struct {
	mu    sync.RWMutex
	trie  *patricia.Trie
	words int
	files []string
}

func New() *Dictionary {
	return &Dictionary{trie: patricia.NewTrie()}
}

// Add inserts a word, keeping the better rank when it is already present.
func (d *Dictionary) Add(word string, rank uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addLocked(word, rank)
}

func (d *Dictionary) addLocked(word string, rank uint16) {
	if word == "" {
		return
	}
	key := patricia.Prefix(strings.ToLower(word))
	if old := d.trie.Get(key); old != nil {
		if e := old.(Entry); e.Rank <= rank {
			return
		}
		d.trie.Set(key, Entry{Word: word, Rank: rank})
		return
	}
	d.trie.Insert(key, Entry{Word: word, Rank: rank})
	d.words++
}

// LoadDir loads every chunk and text file of dir, chunks in id order.
func (d *Dictionary) LoadDir(dir string) error {
	chunks, err := filepath.Glob(filepath.Join(dir, "dict_*.bin"))
	if err != nil {
		return errors.Wrap(err, "scan for chunk files")
	}
	texts, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return errors.Wrap(err, "scan for text files")
	}
	sort.Strings(chunks)
	sort.Strings(texts)
	files := append(chunks, texts...)
	if len(files) == 0 {
		return errors.Newf("no dictionary files found in %s", dir)
	}

	log.Debugf("Found %d dictionary files in %s", len(files), dir)
	loaded := 0
	for _, f := range files {
		if err := d.LoadFile(f); err != nil {
			log.Warnf("Skipping dictionary file %s: %v", f, err)
			continue
		}
		loaded++
	}
	if loaded == 0 {
		return errors.Newf("no dictionary file in %s could be loaded", dir)
	}
	return nil
}

// LoadFile loads one dictionary file of a detected format.
func (d *Dictionary) LoadFile(filename string) error {
	format := DetectFileFormat(filename)
	if format == FormatUnknown {
		return errors.Newf("unknown dictionary format for %s", filename)
	}
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open %s", filename)
	}
	defer file.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	var n int
	switch format {
	case FormatChunk:
		n, err = readChunk(file, d.addLocked)
	case FormatText:
		n, err = readText(file, d.addLocked)
	}
	if err != nil {
		return errors.Wrapf(err, "load %s", filename)
	}
	d.files = append(d.files, filename)
	log.Debugf("Loaded %s dictionary %s: %d words", format, filename, n)
	return nil
}

// Visit calls fn for every entry whose lower-cased form starts with the
// lower-cased prefix. Returning false stops the walk.
func (d *Dictionary) Visit(prefix string, fn func(Entry) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stop := errors.New("stop")
	err := d.trie.VisitSubtree(patricia.Prefix(strings.ToLower(prefix)), func(_ patricia.Prefix, item patricia.Item) error {
		if !fn(item.(Entry)) {
			return stop
		}
		return nil
	})
	if err != nil && err != stop {
		log.Errorf("Error visiting trie subtree: %v", err)
	}
}

// Len returns the number of distinct words.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.words
}

// Files lists the loaded files.
func (d *Dictionary) Files() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.files...)
}
