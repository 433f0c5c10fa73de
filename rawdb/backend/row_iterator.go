package backend

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// RowIterator yields payload rows in written order. Next returns io.EOF when
// the payload is exhausted.
type RowIterator interface {
	Next() (map[string]interface{}, error)
	Close() error
}

type jsonlIterator struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	line    int
}

// NewRowIterator iterates one JSON object per line, skipping blank lines.
func NewRowIterator(rc io.ReadCloser) RowIterator {
	scanner := bufio.NewScanner(rc)
	// payload rows can exceed the default token size
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &jsonlIterator{rc: rc, scanner: scanner}
}

func (i *jsonlIterator) Next() (map[string]interface{}, error) {
	for i.scanner.Scan() {
		i.line++
		text := strings.TrimSpace(i.scanner.Text())
		if text == "" {
			continue
		}
		row := map[string]interface{}{}
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, errors.Wrapf(err, "parsing payload line %d", i.line)
		}
		return row, nil
	}
	if err := i.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading payload")
	}
	return nil, io.EOF
}

func (i *jsonlIterator) Close() error {
	return i.rc.Close()
}
