package logscan

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// NoData is the preview of a log that is missing, empty or unreadable.
	NoData = "no data"

	tailWindow   = 1024
	previewWidth = 80
)

// TailReader produces a one-line preview of the most recent log output.
type TailReader struct {
	Retry  RetryPolicy
	Logger *zap.Logger

	stat func(string) (fs.FileInfo, error)
	open func(string) (io.ReadSeekCloser, error)
}

func NewTailReader(retry RetryPolicy, logger *zap.Logger) *TailReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TailReader{
		Retry:  retry,
		Logger: logger,
		stat:   os.Stat,
		open: func(name string) (io.ReadSeekCloser, error) {
			return os.Open(name)
		},
	}
}

// Tail returns the last non-empty line of the file, at most 80 characters, or NoData.
// It never fails: read errors are retried and then absorbed.
func (r *TailReader) Tail(path string) string {
	info, err := r.stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.Logger.Warn("stat log", zap.String("path", path), zap.Error(err))
		}
		return NoData
	}
	if info.IsDir() || info.Size() == 0 {
		return NoData
	}

	var content string
	err = r.Retry.Do(func(int) error {
		var readErr error
		content, readErr = r.readTail(path, info.Size())
		return readErr
	}, func(attempt int, err error) {
		r.Logger.Warn("retry log tail", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		r.Logger.Warn("give up log tail", zap.String("path", path), zap.Error(err))
		return NoData
	}

	return lastLine(content)
}

func (r *TailReader) readTail(path string, size int64) (string, error) {
	f, err := r.open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if size > tailWindow {
		if _, err := f.Seek(size-tailWindow, io.SeekStart); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(io.LimitReader(f, tailWindow))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func lastLine(content string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return truncate(line, previewWidth)
		}
	}
	return NoData
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width])
}
