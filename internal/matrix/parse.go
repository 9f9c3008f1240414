// Package matrix turns a parameter table into test cases.
package matrix

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"regrun/pkg/model"
)

var ErrNoHeader = errors.New("matrix has no header row")

// ParseError reports malformed matrix input.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse matrix line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse matrix: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a comma separated parameter table. All whitespace except line
// breaks is removed and lines whose trimmed content starts with '#' are
// dropped before parsing; the first remaining line is the header. Input with
// nothing but comments is an empty matrix. A header line without any column
// name fails with ErrNoHeader.
// On error the returned slice is empty.
func Parse(r io.Reader) ([]model.TestCase, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	content := stripWhitespace(string(raw))
	reader := csv.NewReader(strings.NewReader(removeComments(content)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []model.TestCase{}, nil
	}
	if err != nil {
		return []model.TestCase{}, &ParseError{Err: err}
	}
	if err := checkHeader(header); err != nil {
		return []model.TestCase{}, &ParseError{Line: 1, Err: err}
	}

	cases := make([]model.TestCase, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return []model.TestCase{}, &ParseError{Err: err}
		}

		params := make([]model.Param, len(header))
		for i, name := range header {
			params[i] = model.Param{Name: name}
			// 缺失的列取空值，多余的列忽略
			if i < len(record) {
				params[i].Value = strings.TrimSpace(record[i])
			}
		}
		cases = append(cases, model.NewTestCase(params))
	}
	return cases, nil
}

func removeComments(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func checkHeader(header []string) error {
	if strings.Join(header, "") == "" {
		return ErrNoHeader
	}
	seen := make(map[string]struct{}, len(header))
	for _, name := range header {
		if name == "" {
			return errors.New("empty column name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// stripWhitespace drops every whitespace rune but the line breaks.
func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if r != '\n' && r != '\r' && unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
