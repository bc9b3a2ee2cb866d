package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/labeling"
	"github.com/pbaille/triage/internal/metrics"
	"github.com/pbaille/triage/internal/ranking"
	"github.com/pbaille/triage/internal/rules"
	"github.com/pbaille/triage/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticRules struct{ cfg *config.RulesConfig }

func (s staticRules) Current() *config.RulesConfig { return s.cfg }

func newLabeler(rc *config.RulesConfig) *labeling.Pipeline {
	chain := labeling.Build(labeling.Deps{Matcher: rules.NewMatcher(rc.Rules, nil), Rules: rc}, nil)
	return labeling.NewPipeline(chain, labeling.Options{ConfidenceThreshold: 0.6}, nil)
}

func newTestServer(t *testing.T, history History) (*httptest.Server, *Server, *metrics.Collector) {
	t.Helper()
	rc := config.DefaultRulesConfig()
	rc.Rules = append(rc.Rules, config.Rule{Contains: config.Keywords{"dentist"}, Label: "health"})

	rk := config.DefaultRankingConfig()
	wednesday := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	scorer := ranking.NewScorer(rk, nil, ranking.WithClock(func() time.Time { return wednesday }))
	reranker := ranking.NewReranker(scorer, nil, ranking.RerankOptions{
		Config: config.GPTReranking{Enabled: true, CandidateLimit: 5, ConfidenceThreshold: 0.7, CostLimitPerRunUSD: 1},
		Mock:   true,
	}, nil)

	col := metrics.NewCollector()
	srv := New(Deps{
		Labeler:  newLabeler(rc),
		Reranker: reranker,
		Rules:    staticRules{rc},
		History:  history,
		Metrics:  col,
	}, Options{AllowedOrigins: []string{"http://localhost:3000"}, DefaultMode: "work"}, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		http.DefaultClient.CloseIdleConnections()
	})
	return ts, srv, col
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestLabel(t *testing.T) {
	ts, _, col := newTestServer(t, nil)

	t.Run("task payload", func(t *testing.T) {
		resp := post(t, ts.URL+"/label", LabelRequest{Task: domain.Task{ID: "1", Content: "Call dentist https://youtube.com/watch?v=x"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var res domain.LabelingResult
		decodeBody(t, resp, &res)
		assert.Equal(t, []string{"link", "health", "youtube"}, res.LabelsToAdd)
		assert.Equal(t, []string{"youtube"}, res.DomainLabels)
	})

	t.Run("content shorthand skips existing labels", func(t *testing.T) {
		resp := post(t, ts.URL+"/label", map[string]any{
			"content": "dentist",
			"task":    map[string]any{"labels": []string{"health"}},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var res domain.LabelingResult
		decodeBody(t, resp, &res)
		assert.Empty(t, res.LabelsToAdd)
	})

	t.Run("validation", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/label", LabelRequest{}).StatusCode)
		assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/label", LabelRequest{Content: "x", Mode: "party"}).StatusCode)

		resp, err := http.Post(ts.URL+"/label", "application/json", bytes.NewBufferString("{"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(col.LabelsApplied.WithLabelValues("domain")))
	assert.Equal(t, 2.0, testutil.ToFloat64(col.HTTPRequests.WithLabelValues("POST", "/label", "200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(col.HTTPRequests.WithLabelValues("POST", "/label", "400")))
}

func TestRank(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp := post(t, ts.URL+"/rank", RankRequest{
		Tasks: []domain.Task{
			{ID: "a", Content: "water plants", Priority: 4},
			{ID: "b", Content: "URGENT: prod is down", Priority: 2},
			{ID: "c", Content: "weekly meeting notes", Priority: 3},
		},
		Limit: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out RankResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "work", out.Mode)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "b", out.Results[0].Task.ID)
	assert.Equal(t, domain.RankGPTReranked, out.Results[0].Source)
	assert.Zero(t, out.Usage.Calls, "mock analyses are free")

	t.Run("empty task list", func(t *testing.T) {
		resp := post(t, ts.URL+"/rank", RankRequest{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"results":[]`)
	})

	t.Run("negative limit", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/rank", RankRequest{Limit: -1}).StatusCode)
	})
}

func TestRules(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/rules")
	require.NoError(t, err)
	defer resp.Body.Close()

	var rc config.RulesConfig
	decodeBody(t, resp, &rc)
	require.Len(t, rc.Rules, 2)
	assert.Equal(t, "health", rc.Rules[1].Label)
}

func TestSetLabeler(t *testing.T) {
	ts, srv, _ := newTestServer(t, nil)

	rc := config.DefaultRulesConfig()
	rc.Rules = []config.Rule{{Contains: config.Keywords{"dentist"}, Label: "teeth"}}
	srv.SetLabeler(newLabeler(rc))

	resp := post(t, ts.URL+"/label", LabelRequest{Content: "dentist"})
	var res domain.LabelingResult
	decodeBody(t, resp, &res)
	assert.Equal(t, []string{"teeth"}, res.LabelsToAdd)
}

func TestRuns(t *testing.T) {
	journal, err := store.New(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	defer journal.Close()

	run, err := journal.StartRun("today", "work", false)
	require.NoError(t, err)
	require.NoError(t, journal.SaveRanking(run.ID, []domain.EnhancedScoredTask{
		domain.BaseOnly(domain.ScoredTask{Task: domain.Task{ID: "a", Content: "ship"}, Score: 0.7}),
	}))

	ts, _, _ := newTestServer(t, journal)

	resp, err := http.Get(ts.URL + "/runs?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list struct {
		Runs  []domain.Run `json:"runs"`
		Limit int          `json:"limit"`
	}
	decodeBody(t, resp, &list)
	assert.Equal(t, 5, list.Limit)
	require.Len(t, list.Runs, 1)

	resp2, err := http.Get(ts.URL + "/runs/" + run.ID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	var detail struct {
		Run     domain.Run            `json:"run"`
		Ranking []domain.RankingEntry `json:"ranking"`
	}
	decodeBody(t, resp2, &detail)
	assert.Equal(t, "today", detail.Run.Command)
	require.Len(t, detail.Ranking, 1)
	assert.Equal(t, "a", detail.Ranking[0].TaskID)

	resp3, err := http.Get(ts.URL + "/runs/missing")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestRuns_NoJournal(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `triage_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestCORS(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/label", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := New(Deps{}, Options{Addr: "127.0.0.1:0"}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
