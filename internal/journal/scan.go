package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Block is one framed record read back from a journal file.
type Block struct {
	CorrelationID string
	// Title is the first non-empty line inside the frame.
	Title string
	Body  string
	Line  int
}

// Scan splits a journal into its framed blocks. Text outside frames is
// ignored; a nested start, a stray end or a missing end is an error.
func Scan(r io.Reader) ([]Block, error) {
	var (
		blocks []Block
		cur    *Block
		body   []string
		lineNo int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, startPrefix) && strings.HasSuffix(line, startSuffix):
			if cur != nil {
				return nil, fmt.Errorf("line %d: start marker inside block opened at line %d", lineNo, cur.Line)
			}
			id := strings.TrimSuffix(strings.TrimPrefix(line, startPrefix), startSuffix)
			if id == "" {
				return nil, fmt.Errorf("line %d: start marker without id", lineNo)
			}
			cur = &Block{CorrelationID: id, Line: lineNo}
			body = body[:0]
		case line == EndMarker:
			if cur == nil {
				return nil, fmt.Errorf("line %d: end marker without start", lineNo)
			}
			cur.Body = strings.Join(body, "\n")
			for _, l := range body {
				if strings.TrimSpace(l) != "" {
					cur.Title = l
					break
				}
			}
			blocks = append(blocks, *cur)
			cur = nil
		case cur != nil:
			body = append(body, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	if cur != nil {
		return nil, fmt.Errorf("block opened at line %d is never closed", cur.Line)
	}
	return blocks, nil
}

// Blocks scans the journal file for the day containing day. A day with no
// file has no blocks.
func (w *Writer) Blocks(day time.Time) ([]Block, error) {
	f, err := w.fs.Open(w.Path(day))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()
	return Scan(f)
}
