package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListSource struct {
	hits []map[string]any
	err  error
}

func (s *fakeListSource) ListJobs(context.Context, string, Options) ([]map[string]any, error) {
	return s.hits, s.err
}

type fakeDetailsSource struct {
	details map[string]map[string]any
	errs    map[string]error
	calls   int
}

func (s *fakeDetailsSource) FetchDetails(_ context.Context, jobURL, _ string) (map[string]any, error) {
	s.calls++
	if err, ok := s.errs[jobURL]; ok {
		return nil, err
	}
	return s.details[jobURL], nil
}

func TestRetrieveJobs_RequiresKeywordsOrLocation(t *testing.T) {
	acquirer := NewAcquirer(&fakeListSource{}, &fakeDetailsSource{})

	_, err := acquirer.RetrieveJobs(context.Background(), "token", Options{MaxJobs: 50})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestRetrieveJobs_MaxJobsBounds(t *testing.T) {
	acquirer := NewAcquirer(&fakeListSource{}, &fakeDetailsSource{})

	_, err := acquirer.RetrieveJobs(context.Background(), "token", Options{Keywords: "go", MaxJobs: 5})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = acquirer.RetrieveJobs(context.Background(), "token", Options{Keywords: "go", MaxJobs: 1001})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestRetrieveJobs_AssemblesDetails(t *testing.T) {
	list := &fakeListSource{hits: []map[string]any{
		{"title": "Engineer A", "url": "https://x.test/jobs/1"},
		{"title": "Engineer B", "url": "https://x.test/jobs/2"},
	}}
	details := &fakeDetailsSource{details: map[string]map[string]any{
		"https://x.test/jobs/1": {"description": "Build Go services for job matching at scale."},
		"https://x.test/jobs/2": {"description": "Maintain data pipelines and scraping actors."},
	}}
	acquirer := NewAcquirer(list, details)

	jobs, err := acquirer.RetrieveJobs(context.Background(), "token", Options{Keywords: "go"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "1", jobs[0].ExternalID)
	assert.Contains(t, jobs[0].Description, "Go services")
	assert.Equal(t, 2, details.calls)
}

func TestRetrieveJobs_DetailFailureIsSoft(t *testing.T) {
	list := &fakeListSource{hits: []map[string]any{
		{"title": "Engineer A", "url": "https://x.test/jobs/1"},
		{"title": "Engineer B", "url": "https://x.test/jobs/2"},
	}}
	details := &fakeDetailsSource{
		details: map[string]map[string]any{
			"https://x.test/jobs/2": {"description": "Full description here."},
		},
		errs: map[string]error{
			"https://x.test/jobs/1": errors.New("connection reset"),
		},
	}
	acquirer := NewAcquirer(list, details)

	jobs, err := acquirer.RetrieveJobs(context.Background(), "token", Options{Keywords: "go"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// Job 1 survives with an empty description for downstream rejection.
	assert.Empty(t, jobs[0].Description)
	assert.Equal(t, "Full description here.", jobs[1].Description)
}

func TestRetrieveJobs_ListFailureAborts(t *testing.T) {
	list := &fakeListSource{err: errors.New("bad credential")}
	acquirer := NewAcquirer(list, &fakeDetailsSource{})

	_, err := acquirer.RetrieveJobs(context.Background(), "token", Options{Keywords: "go"})
	assert.ErrorContains(t, err, "bad credential")
}

func TestRetrieveJobs_CollapsesDuplicateIDs(t *testing.T) {
	list := &fakeListSource{hits: []map[string]any{
		{"title": "First", "url": "https://x.test/jobs/1"},
		{"title": "Second", "url": "https://x.test/jobs/1"},
	}}
	acquirer := NewAcquirer(list, &fakeDetailsSource{})

	jobs, err := acquirer.RetrieveJobs(context.Background(), "token", Options{Keywords: "go"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "First", jobs[0].Title)
}

func TestRetrieveJobs_DropsHitsWithoutID(t *testing.T) {
	list := &fakeListSource{hits: []map[string]any{
		{"title": "No URL at all"},
		{"title": "Fine", "url": "https://x.test/jobs/3"},
	}}
	acquirer := NewAcquirer(list, &fakeDetailsSource{})

	jobs, err := acquirer.RetrieveJobs(context.Background(), "token", Options{Location: "Berlin"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "3", jobs[0].ExternalID)
}
