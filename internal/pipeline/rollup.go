package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/internal/survey"
)

// runRollup aggregates one organization's responses over the most recently
// closed window of the given period. Empty windows still persist a zero
// aggregate so downstream series stay continuous.
func (e *Executor) runRollup(ctx context.Context, orgID, period string) error {
	window, err := WindowFor(period, time.Now())
	if err != nil {
		return err
	}

	var (
		responses []survey.Response
		aggregate survey.PeriodAggregate
	)

	p := newPipeline(period+"_rollup", orgID)

	p.addStage("fetch", func(ctx context.Context) (int, error) {
		responses, err = e.responses.FetchResponses(orgID, window.Start, window.End)
		if err != nil {
			return 0, err
		}
		return len(responses), nil
	})

	p.addStage("aggregate", func(ctx context.Context) (int, error) {
		aggregate = survey.PeriodAggregate{
			OrganizationID: orgID,
			Period:         period,
			WindowStart:    window.Start,
			WindowEnd:      window.End,
			ResponseCount:  len(responses),
		}
		if len(responses) == 0 {
			return 0, nil
		}

		completed := 0
		var durationSum, scoreSum float64
		for _, resp := range responses {
			if resp.Completed {
				completed++
			}
			durationSum += resp.DurationSeconds
			scoreSum += resp.Score
		}

		n := float64(len(responses))
		aggregate.CompletionRate = float64(completed) / n
		aggregate.AvgDurationSeconds = durationSum / n
		aggregate.AvgScore = scoreSum / n
		return len(responses), nil
	})

	p.addStage("derive-forces", func(ctx context.Context) (int, error) {
		if len(responses) == 0 {
			return 0, nil
		}

		var forces survey.ForceScores
		for _, resp := range responses {
			forces.Push += resp.Forces.Push
			forces.Pull += resp.Forces.Pull
			forces.Habit += resp.Forces.Habit
			forces.Anxiety += resp.Forces.Anxiety
		}

		n := float64(len(responses))
		aggregate.Forces = survey.ForceScores{
			Push:    forces.Push / n,
			Pull:    forces.Pull / n,
			Habit:   forces.Habit / n,
			Anxiety: forces.Anxiety / n,
		}
		return len(responses), nil
	})

	p.addStage("derive-voice-quality", func(ctx context.Context) (int, error) {
		var claritySum, sentimentSum float64
		samples := 0
		for _, resp := range responses {
			if resp.VoiceClarity == nil && resp.VoiceSentiment == nil {
				continue
			}
			samples++
			if resp.VoiceClarity != nil {
				claritySum += *resp.VoiceClarity
			}
			if resp.VoiceSentiment != nil {
				sentimentSum += *resp.VoiceSentiment
			}
		}

		if samples > 0 {
			aggregate.Voice = survey.VoiceQuality{
				AvgClarity:   claritySum / float64(samples),
				AvgSentiment: sentimentSum / float64(samples),
				SampleCount:  samples,
			}
		}
		return samples, nil
	})

	p.addStage("persist", func(ctx context.Context) (int, error) {
		aggregate.ComputedAt = time.Now()
		if err := e.aggregates.UpsertAggregate(aggregate); err != nil {
			return 0, fmt.Errorf("failed to persist %s aggregate: %w", period, err)
		}
		return 1, nil
	})

	if err := e.run(ctx, p); err != nil {
		return err
	}

	e.refreshOrgCache(ctx, orgID)
	return nil
}
