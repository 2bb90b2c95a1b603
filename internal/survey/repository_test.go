package survey

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/database"
)

func newTestRepos(t *testing.T) (*Repository, *AggregateRepository) {
	t.Helper()

	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Name: "analytics",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(db.Conn()), NewAggregateRepository(db.Conn())
}

func TestRepository_Organizations(t *testing.T) {
	repo, _ := newTestRepos(t)

	require.NoError(t, repo.UpsertOrganization(Organization{
		ID:        "org-1",
		Name:      "Acme",
		CreatedAt: time.Now(),
	}))
	require.NoError(t, repo.UpsertOrganization(Organization{
		ID:        "org-2",
		Name:      "Globex",
		CreatedAt: time.Now(),
	}))

	orgs, err := repo.ListOrganizations()
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, "org-1", orgs[0].ID)
	assert.Equal(t, "Globex", orgs[1].Name)
}

func TestRepository_FetchResponses(t *testing.T) {
	repo, _ := newTestRepos(t)

	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.Local)
	clarity := 0.85

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.InsertResponse(Response{
			ID:              fmt.Sprintf("resp-%d", i),
			OrganizationID:  "org-1",
			SurveyID:        "survey-1",
			SubmittedAt:     base.Add(time.Duration(i) * time.Hour),
			DurationSeconds: 120,
			Completed:       true,
			Score:           7.5,
			Forces:          ForceScores{Push: 0.6, Pull: 0.4},
			VoiceClarity:    &clarity,
		}))
	}
	// Response outside window
	require.NoError(t, repo.InsertResponse(Response{
		ID:             "resp-late",
		OrganizationID: "org-1",
		SurveyID:       "survey-1",
		SubmittedAt:    base.Add(48 * time.Hour),
		Completed:      true,
	}))
	// Response for another org
	require.NoError(t, repo.InsertResponse(Response{
		ID:             "resp-other",
		OrganizationID: "org-2",
		SurveyID:       "survey-9",
		SubmittedAt:    base,
		Completed:      true,
	}))

	got, err := repo.FetchResponses("org-1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "resp-0", got[0].ID)
	assert.Equal(t, 0.6, got[0].Forces.Push)
	require.NotNil(t, got[0].VoiceClarity)
	assert.Equal(t, 0.85, *got[0].VoiceClarity)
	assert.Nil(t, got[0].VoiceSentiment)
}

func TestAggregateRepository_RoundTrip(t *testing.T) {
	_, aggRepo := newTestRepos(t)

	windowStart := time.Date(2026, 8, 14, 0, 0, 0, 0, time.Local)
	agg := PeriodAggregate{
		OrganizationID:     "org-1",
		Period:             PeriodDaily,
		WindowStart:        windowStart,
		WindowEnd:          windowStart.AddDate(0, 0, 1),
		ResponseCount:      42,
		CompletionRate:     0.9,
		AvgDurationSeconds: 130,
		AvgScore:           7.1,
		Forces:             ForceScores{Push: 0.5, Pull: 0.3, Habit: 0.2, Anxiety: 0.1},
		Voice:              VoiceQuality{AvgClarity: 0.8, SampleCount: 10},
		ComputedAt:         time.Now(),
	}
	require.NoError(t, aggRepo.UpsertAggregate(agg))

	got, err := aggRepo.GetAggregate("org-1", PeriodDaily, windowStart)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 42, got.ResponseCount)
	assert.Equal(t, 0.5, got.Forces.Push)
	assert.Equal(t, 10, got.Voice.SampleCount)

	missing, err := aggRepo.GetAggregate("org-1", PeriodWeekly, windowStart)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAggregateRepository_DailySeries(t *testing.T) {
	_, aggRepo := newTestRepos(t)

	now := time.Now()
	for i := 0; i < 5; i++ {
		windowStart := now.AddDate(0, 0, -(5 - i))
		require.NoError(t, aggRepo.UpsertAggregate(PeriodAggregate{
			OrganizationID: "org-1",
			Period:         PeriodDaily,
			WindowStart:    windowStart,
			WindowEnd:      windowStart.AddDate(0, 0, 1),
			ResponseCount:  10 + i,
			AvgScore:       float64(i),
			ComputedAt:     now,
		}))
	}

	series, err := aggRepo.DailySeries("org-1", MetricResponseCount, 30)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12, 13, 14}, series)

	scores, err := aggRepo.DailySeries("org-1", MetricAvgScore, 30)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, scores)
}

func TestAggregateRepository_TrendsAndForecasts(t *testing.T) {
	_, aggRepo := newTestRepos(t)

	report := TrendReport{
		OrganizationID: "org-1",
		Metric:         MetricAvgScore,
		Trend:          TrendIncreasing,
		Strength:       0.8,
		Confidence:     0.7,
		ChangeRate:     0.05,
		ComputedAt:     time.Now(),
	}
	require.NoError(t, aggRepo.UpsertTrendReport(report))

	reports, err := aggRepo.ListTrendReports("org-1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, TrendIncreasing, reports[0].Trend)

	forecast := Forecast{
		OrganizationID: "org-1",
		Metric:         MetricAvgScore,
		Model:          ModelLinear,
		Accuracy:       0.75,
		Points: []ForecastPoint{
			{Period: 1, Value: 7.2, Lower: 6.8, Upper: 7.6},
		},
		ComputedAt: time.Now(),
	}
	require.NoError(t, aggRepo.UpsertForecast(forecast))

	got, err := aggRepo.GetForecast("org-1", MetricAvgScore)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ModelLinear, got.Model)
	require.Len(t, got.Points, 1)
	assert.Equal(t, 7.2, got.Points[0].Value)

	missing, err := aggRepo.GetForecast("org-1", MetricForcePush)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
