package logscan

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noSleepReader() *TailReader {
	r := NewTailReader(DefaultRetryPolicy(), zap.NewNop())
	r.Retry.Sleep = func(time.Duration) {}
	return r
}

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xrun.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTailMissingAndEmpty(t *testing.T) {
	t.Parallel()
	r := noSleepReader()

	assert.Equal(t, NoData, r.Tail(filepath.Join(t.TempDir(), "nope.log")))
	assert.Equal(t, NoData, r.Tail(writeLog(t, "")))
	assert.Equal(t, NoData, r.Tail(writeLog(t, "\n  \n\t\n")))
}

func TestTailLastNonEmptyLine(t *testing.T) {
	t.Parallel()
	r := noSleepReader()

	assert.Equal(t, "running test 3", r.Tail(writeLog(t, "running test 1\nrunning test 3\n\n   \n")))
}

func TestTailTruncatesPreview(t *testing.T) {
	t.Parallel()
	r := noSleepReader()

	got := r.Tail(writeLog(t, strings.Repeat("x", 200)+"\n"))
	assert.Len(t, got, previewWidth)
}

func TestTailReadsOnlyFinalWindow(t *testing.T) {
	t.Parallel()
	r := noSleepReader()

	// the only non-empty line sits before the final 1024 bytes
	content := "early marker line\n" + strings.Repeat("\n", 2*tailWindow)
	assert.Equal(t, NoData, r.Tail(writeLog(t, content)))

	content = "early marker line\n" + strings.Repeat("filler\n", 400) + "latest"
	assert.Equal(t, "latest", r.Tail(writeLog(t, content)))
}

type fakeFile struct {
	*strings.Reader
}

func (fakeFile) Close() error { return nil }

func TestTailRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	r := noSleepReader()
	path := writeLog(t, "line one\nline two\n")

	var sleeps []time.Duration
	r.Retry.Sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	calls := 0
	r.open = func(string) (io.ReadSeekCloser, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("resource temporarily unavailable")
		}
		return fakeFile{strings.NewReader("line one\nline two\n")}, nil
	}

	assert.Equal(t, "line two", r.Tail(path))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, sleeps)
}

func TestTailExhaustedRetriesYieldNoData(t *testing.T) {
	t.Parallel()
	r := noSleepReader()
	path := writeLog(t, "content\n")

	calls := 0
	r.open = func(string) (io.ReadSeekCloser, error) {
		calls++
		return nil, errors.New("locked")
	}

	assert.Equal(t, NoData, r.Tail(path))
	assert.Equal(t, 3, calls)
}
