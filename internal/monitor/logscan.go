package monitor

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	DefaultMaxLines   = 10
	DefaultMaxLineLen = 1000

	// MoreMarker closes a capped finding list.
	MoreMarker = "and more..."
)

var keywords = []string{"error", "exception", "fail"}

// LogScanner reads the operational log incrementally and collects lines that
// look like failures. The read position lives in memory only.
type LogScanner struct {
	path       func() string
	maxLines   int
	maxLineLen int

	mu     sync.Mutex
	offset int64
}

// NewLogScanner scans the file path() names at call time, so a log file
// moved by a config reload is picked up on the next scan.
func NewLogScanner(path func() string, maxLines, maxLineLen int) *LogScanner {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if maxLineLen <= 0 {
		maxLineLen = DefaultMaxLineLen
	}
	return &LogScanner{path: path, maxLines: maxLines, maxLineLen: maxLineLen}
}

func (s *LogScanner) Path() string { return s.path() }

// Offset returns the byte position the next scan starts from.
func (s *LogScanner) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Reset rewinds to the start of the file.
func (s *LogScanner) Reset() {
	s.mu.Lock()
	s.offset = 0
	s.mu.Unlock()
}

// Scan returns the distinct matching lines appended since the previous scan,
// each cut to the max line length. When more than maxLines distinct lines
// match, the result holds maxLines lines followed by MoreMarker. A trailing
// line without a newline is left for the next scan. A missing file scans
// clean.
func (s *LogScanner) Scan() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path()
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.offset = 0
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < s.offset {
		// truncated or rotated underneath us
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, err
	}

	var (
		found []string
		seen  = map[string]struct{}{}
		more  bool
		pos   = s.offset
		r     = bufio.NewReader(f)
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		pos += int64(len(line))
		if more || !matches(line) {
			continue
		}
		line = truncateRunes(strings.TrimRight(line, "\r\n"), s.maxLineLen)
		if _, dup := seen[line]; dup {
			continue
		}
		if len(found) == s.maxLines {
			more = true
			continue
		}
		seen[line] = struct{}{}
		found = append(found, line)
	}
	s.offset = pos

	if more {
		found = append(found, MoreMarker)
	}
	return found, nil
}

func matches(line string) bool {
	l := strings.ToLower(line)
	for _, k := range keywords {
		if strings.Contains(l, k) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
