// Package knowledge loads the reply-grounding corpus and caches it for the
// lifetime of the process.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"leadpilot/metrics"
	"leadpilot/utils"
)

// Chunk is an immutable text segment with the file it came from
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// corpusExtensions lists the file types read from the knowledge directory
var corpusExtensions = []string{".txt", ".md"}

// Store loads the corpus lazily, exactly once
type Store struct {
	dir     string
	logger  *utils.Logger
	metrics *metrics.Metrics

	once   sync.Once
	chunks []Chunk
}

// NewStore creates a store over every .txt and .md file in dir
func NewStore(dir string, logger *utils.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Store{dir: dir, logger: logger.Named("knowledge"), metrics: m}
}

// NewStaticStore creates an already-loaded store over fixed chunks
func NewStaticStore(chunks []Chunk) *Store {
	s := &Store{logger: utils.NewNopLogger()}
	s.once.Do(func() { s.chunks = chunks })
	return s
}

// EnsureLoaded reads the corpus on first call and returns the cached chunks
// on every call. Concurrent first callers wait for the single load.
func (s *Store) EnsureLoaded() []Chunk {
	s.once.Do(s.load)
	return s.chunks
}

func (s *Store) load() {
	start := time.Now()
	defer func() { s.metrics.SetCorpusChunks(len(s.chunks)) }()

	files, err := corpusFiles(s.dir)
	if err != nil {
		s.logger.Warn("Knowledge directory %s unavailable: %v", s.dir, err)
		return
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping knowledge file %s: %v", path, err)
			continue
		}
		s.chunks = append(s.chunks, SplitChunks(string(data), filepath.Base(path))...)
	}
	s.logger.Info("Loaded %d knowledge chunks from %d file(s) in %s", len(s.chunks), len(files), time.Since(start).Round(time.Millisecond))
}

// corpusFiles lists corpus files in lexical order
func corpusFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("no knowledge directory configured")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isCorpusFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func isCorpusFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range corpusExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// SplitChunks splits text on blank lines, trimming each segment and dropping
// empty ones.
func SplitChunks(text, source string) []Chunk {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		chunks  []Chunk
		current []string
	)
	flush := func() {
		if seg := strings.TrimSpace(strings.Join(current, "\n")); seg != "" {
			chunks = append(chunks, Chunk{Text: seg, Source: source})
		}
		current = current[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return chunks
}

// Texts returns the text of each chunk
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
