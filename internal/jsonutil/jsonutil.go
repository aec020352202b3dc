// Package jsonutil prints structs as colored "Field: value" lines for the command line.
package jsonutil

import (
	"bytes"
	"io"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var compact = newFormatter(0, "")

func newFormatter(indent int, newline string) *prettyjson.Formatter {
	f := prettyjson.NewFormatter()
	f.Indent = indent
	f.Newline = newline
	return f
}

// MarshalCompactPretty formats exported fields of struct v one per line, sorted by name.
// Each value is written as compact JSON with color information.
// Fields named in omit are skipped.
func MarshalCompactPretty(v any, omit ...string) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFields(&buf, v, omit...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFields is like MarshalCompactPretty but writes to w.
func WriteFields(w io.Writer, v any, omit ...string) error {
	skip := make(map[string]struct{}, len(omit))
	for _, name := range omit {
		skip[name] = struct{}{}
	}
	m := structs.Map(v)
	names := make([]string, 0, len(m))
	for name := range m {
		if _, ok := skip[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := compact.Marshal(m[name])
		if err != nil {
			return err
		}
		line := make([]byte, 0, len(name)+len(b)+3)
		line = append(line, name...)
		line = append(line, ": "...)
		line = append(line, b...)
		line = append(line, '\n')
		if _, err = w.Write(line); err != nil {
			return err
		}
	}
	return nil
}
