package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/airsync/internal/domain"
)

func TestMetrics_ObserveDecision(t *testing.T) {
	m := New()

	m.ObserveDecision("A", domain.Decision{
		Outcome: domain.OutcomeMatched,
		Mutations: []domain.Mutation{
			{Kind: domain.MutationMerge, ID: 1, DupeID: 2},
			{Kind: domain.MutationUpdate, ID: 1, Fields: domain.FieldSet{
				domain.FieldName:     "New",
				domain.FieldCallsign: "NEW",
			}},
		},
	})
	m.ObserveDecision("A", domain.Decision{
		Outcome:   domain.OutcomeAdded,
		Mutations: []domain.Mutation{{Kind: domain.MutationInsert}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.candidates.WithLabelValues("A", domain.OutcomeMatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.candidates.WithLabelValues("A", domain.OutcomeAdded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fieldsUpdated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues(domain.MutationMerge)))
}

func TestMetrics_ObservePartition(t *testing.T) {
	m := New()
	m.ObservePartition(domain.PartitionResult{Key: "B", Status: domain.StatusOK, Dropped: []domain.RowIssue{{Row: 1}, {Row: 3}}})
	m.ObservePartition(domain.PartitionResult{Key: "C", Status: domain.StatusFailed, ErrorCode: domain.ErrCodeFetchFailed})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.droppedRows.WithLabelValues("B")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partitionErrors.WithLabelValues(domain.ErrCodeFetchFailed)))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveDecision("Z", domain.Decision{Outcome: domain.OutcomeAdded})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `airsync_candidates_total{outcome="added",partition="Z"} 1`), string(b))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("A", domain.Decision{})
	m.ObservePartition(domain.PartitionResult{})
}
