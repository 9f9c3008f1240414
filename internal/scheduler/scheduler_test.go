package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bjobsOutput = `JOBID   USER    STAT  QUEUE      FROM_HOST   EXEC_HOST   JOB_NAME   SUBMIT_TIME
123     dv      RUN   normal     titan01     titan06     make       Oct 19 10:02
4567    dv      PEND  normal     titan01                 make       Oct 19 10:03
`

func TestListingActiveSubstring(t *testing.T) {
	t.Parallel()
	l := NewListing(bjobsOutput)

	assert.True(t, l.Active("123", MatchSubstring))
	assert.True(t, l.Active("4567", MatchSubstring))
	assert.False(t, l.Active("999", MatchSubstring))
	assert.False(t, l.Active("", MatchSubstring))

	// substring containment matches inside another id
	assert.True(t, l.Active("12", MatchSubstring))
	assert.True(t, l.Active("456", MatchSubstring))
}

func TestListingActiveToken(t *testing.T) {
	t.Parallel()
	l := NewListing(bjobsOutput)

	assert.True(t, l.Active("123", MatchToken))
	assert.False(t, l.Active("12", MatchToken))
	assert.False(t, l.Active("456", MatchToken))
}

func TestParseMatchMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchSubstring, mode)

	mode, err = ParseMatchMode(" Token ")
	require.NoError(t, err)
	assert.Equal(t, MatchToken, mode)

	_, err = ParseMatchMode("regex")
	assert.Error(t, err)
}

func TestExtractJobID(t *testing.T) {
	t.Parallel()

	id, ok := ExtractJobID("Job <83112> is submitted to queue <normal>.\n")
	require.True(t, ok)
	assert.Equal(t, "83112", id)

	_, ok = ExtractJobID("Request aborted by esub. Job not submitted.")
	assert.False(t, ok)
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()

	var subErr error = &SubmissionError{Dir: "/x", Err: ErrNoJobID}
	assert.ErrorIs(t, subErr, ErrNoJobID)
	assert.Contains(t, subErr.Error(), "/x")

	cause := errors.New("bjobs: not found")
	var listErr error = &ListingError{Err: cause}
	assert.ErrorIs(t, listErr, cause)
}
