package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/database"
	"github.com/pulseboard/pulseboard/internal/queue"
	"github.com/pulseboard/pulseboard/internal/survey"
)

type testEnv struct {
	executor   *Executor
	responses  *survey.Repository
	aggregates *survey.AggregateRepository
	cache      *cache.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Name: "analytics",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	responses := survey.NewRepository(db.Conn())
	aggregates := survey.NewAggregateRepository(db.Conn())
	store := cache.NewStore(cache.Config{DefaultTTL: time.Minute}, nil)

	return &testEnv{
		executor:   NewExecutor(responses, aggregates, store),
		responses:  responses,
		aggregates: aggregates,
		cache:      store,
	}
}

func (env *testEnv) seedDailyAggregates(t *testing.T, orgID string, scores []float64) {
	t.Helper()

	now := time.Now()
	for i, score := range scores {
		windowStart := midnight(now).AddDate(0, 0, -(len(scores) - i))
		require.NoError(t, env.aggregates.UpsertAggregate(survey.PeriodAggregate{
			OrganizationID: orgID,
			Period:         survey.PeriodDaily,
			WindowStart:    windowStart,
			WindowEnd:      windowStart.AddDate(0, 0, 1),
			ResponseCount:  10,
			AvgScore:       score,
			CompletionRate: 0.9,
			ComputedAt:     now,
		}))
	}
}

func job(jobType queue.JobType, orgID string) *queue.Job {
	return &queue.Job{
		ID:             "job-1",
		Type:           jobType,
		OrganizationID: orgID,
		Status:         queue.StatusRunning,
	}
}

func TestExecutor_DailyRollup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	window := DailyWindow(time.Now())
	clarity := 0.8
	for i := 0; i < 4; i++ {
		resp := survey.Response{
			ID:              fmt.Sprintf("resp-%d", i),
			OrganizationID:  "org-1",
			SurveyID:        "survey-1",
			SubmittedAt:     window.Start.Add(time.Duration(i+1) * time.Hour),
			DurationSeconds: 100,
			Completed:       i != 3, // one abandoned
			Score:           8,
			Forces:          survey.ForceScores{Push: 0.4, Pull: 0.8},
		}
		if i == 0 {
			resp.VoiceClarity = &clarity
		}
		require.NoError(t, env.responses.InsertResponse(resp))
	}
	// Outside the window; must not count.
	require.NoError(t, env.responses.InsertResponse(survey.Response{
		ID:             "resp-today",
		OrganizationID: "org-1",
		SurveyID:       "survey-1",
		SubmittedAt:    window.End.Add(time.Hour),
		Completed:      true,
	}))

	// A stale cached summary tagged with the org must be replaced by the rollup.
	require.NoError(t, env.cache.Set(SummaryKey("org-1"), "stale", cache.WithTags(OrgTag("org-1"))))

	require.NoError(t, env.executor.Execute(ctx, job(queue.JobDailyAggregation, "org-1")))

	agg, err := env.aggregates.GetAggregate("org-1", survey.PeriodDaily, window.Start)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 4, agg.ResponseCount)
	assert.InDelta(t, 0.75, agg.CompletionRate, 1e-9)
	assert.InDelta(t, 100.0, agg.AvgDurationSeconds, 1e-9)
	assert.InDelta(t, 0.4, agg.Forces.Push, 1e-9)
	assert.InDelta(t, 0.8, agg.Forces.Pull, 1e-9)
	assert.Equal(t, 1, agg.Voice.SampleCount)
	assert.InDelta(t, 0.8, agg.Voice.AvgClarity, 1e-9)

	// The stale summary was dropped and the key re-warmed with fresh data.
	payload, err := env.cache.Get(ctx, SummaryKey("org-1"), nil)
	require.NoError(t, err)
	var summary map[string]survey.PeriodAggregate
	require.NoError(t, json.Unmarshal(payload, &summary))
	require.Contains(t, summary, survey.PeriodDaily)
	assert.Equal(t, 4, summary[survey.PeriodDaily].ResponseCount)
	assert.Equal(t, 1, env.cache.Stats().TotalEntries)
}

func TestExecutor_RollupEmptyWindowPersistsZeroAggregate(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.executor.Execute(context.Background(), job(queue.JobWeeklyAggregation, "org-1")))

	window := WeeklyWindow(time.Now())
	agg, err := env.aggregates.GetAggregate("org-1", survey.PeriodWeekly, window.Start)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 0, agg.ResponseCount)
	assert.Zero(t, agg.CompletionRate)
}

func TestExecutor_TrendAnalysisJob(t *testing.T) {
	env := newTestEnv(t)

	scores := make([]float64, 30)
	for i := range scores {
		scores[i] = 2 + 0.2*float64(i) // steadily improving
	}
	env.seedDailyAggregates(t, "org-1", scores)

	require.NoError(t, env.executor.Execute(context.Background(), job(queue.JobTrendAnalysis, "org-1")))

	reports, err := env.aggregates.ListTrendReports("org-1")
	require.NoError(t, err)
	require.Len(t, reports, len(survey.TrackedMetrics))

	byMetric := make(map[string]survey.TrendReport)
	for _, report := range reports {
		byMetric[report.Metric] = report
	}
	assert.Equal(t, survey.TrendIncreasing, byMetric[survey.MetricAvgScore].Trend)
	assert.Equal(t, survey.TrendStable, byMetric[survey.MetricResponseCount].Trend)
}

func TestExecutor_AnomalyDetectionJob(t *testing.T) {
	env := newTestEnv(t)

	scores := make([]float64, 30)
	for i := range scores {
		scores[i] = 5
	}
	scores[20] = 50 // single spike
	env.seedDailyAggregates(t, "org-1", scores)

	require.NoError(t, env.executor.Execute(context.Background(), job(queue.JobAnomalyDetection, "org-1")))

	reports, err := env.aggregates.ListTrendReports("org-1")
	require.NoError(t, err)
	require.Len(t, reports, len(survey.TrackedMetrics))

	for _, report := range reports {
		if report.Metric == survey.MetricAvgScore {
			assert.Equal(t, 1, report.AnomalyCount)
		} else {
			assert.Zero(t, report.AnomalyCount, report.Metric)
		}
	}
}

func TestExecutor_ForecastGenerationJob(t *testing.T) {
	env := newTestEnv(t)

	scores := make([]float64, 30)
	for i := range scores {
		scores[i] = 4 + 0.1*float64(i)
	}
	env.seedDailyAggregates(t, "org-1", scores)

	require.NoError(t, env.executor.Execute(context.Background(), job(queue.JobForecastGeneration, "org-1")))

	forecast, err := env.aggregates.GetForecast("org-1", survey.MetricAvgScore)
	require.NoError(t, err)
	require.NotNil(t, forecast)
	assert.Len(t, forecast.Points, defaultForecastPeriods)
	for _, point := range forecast.Points {
		assert.LessOrEqual(t, point.Lower, point.Value)
		assert.GreaterOrEqual(t, point.Upper, point.Value)
	}
}

func TestExecutor_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.executor.Execute(ctx, job(queue.JobDailyAggregation, ""))
	assert.ErrorIs(t, err, ErrValidation)

	err = env.executor.Execute(ctx, job(queue.JobType("bogus"), "org-1"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExecutor_CancelledContextAbortsPipeline(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.executor.Execute(ctx, job(queue.JobDailyAggregation, "org-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
