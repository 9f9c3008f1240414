// Package logscan reads and classifies simulation log files.
package logscan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"regrun/pkg/model"
)

var markers = []struct {
	text   string
	result model.Result
}{
	{"sim pass", model.ResultPass},
	{"sim fail", model.ResultFail},
	{"sim timout", model.ResultTimeout},
	{"sim timeout", model.ResultTimeout},
}

// Classify folds over every line and returns the verdict of the last marker found.
// A log without any marker is a failure.
func Classify(lines []string) model.Result {
	verdict := model.ResultFail
	for _, line := range lines {
		if r, ok := classifyLine(line); ok {
			verdict = r
		}
	}
	return verdict
}

func classifyLine(line string) (model.Result, bool) {
	normalized := strings.ToLower(strings.TrimSpace(line))
	for _, m := range markers {
		if strings.Contains(normalized, m.text) {
			return m.result, true
		}
	}
	return model.ResultNone, false
}

// ClassifyFile reads the whole log and classifies it. Lines of any length are accepted.
func ClassifyFile(path string) (model.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.ResultNone, err
	}
	defer f.Close()

	verdict := model.ResultFail
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if r, ok := classifyLine(line); ok {
				verdict = r
			}
		}
		if errors.Is(err, io.EOF) {
			return verdict, nil
		}
		if err != nil {
			return model.ResultNone, fmt.Errorf("read %s: %w", path, err)
		}
	}
}
