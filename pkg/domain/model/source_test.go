package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
)

func TestSourceCooldown(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	attempt := now.Add(-30 * time.Second)

	t.Run("below threshold never cools down", func(t *testing.T) {
		src := &model.Source{ConsecutiveFailures: 9, LastAttemptAt: &attempt}
		gt.Bool(t, src.InCooldown(now)).False()
	})

	t.Run("at threshold cools down one minute", func(t *testing.T) {
		src := &model.Source{ConsecutiveFailures: 10, LastAttemptAt: &attempt}
		gt.Bool(t, src.InCooldown(now)).True()
		gt.Bool(t, src.InCooldown(now.Add(time.Minute))).False()
	})

	t.Run("cooldown doubles per failure", func(t *testing.T) {
		src := &model.Source{ConsecutiveFailures: 13, LastAttemptAt: &attempt}
		// 2^3 = 8 minutes past the last attempt.
		gt.Bool(t, src.InCooldown(attempt.Add(7*time.Minute))).True()
		gt.Bool(t, src.InCooldown(attempt.Add(9*time.Minute))).False()
	})

	t.Run("cooldown exponent is capped", func(t *testing.T) {
		src := &model.Source{ConsecutiveFailures: 100, LastAttemptAt: &attempt}
		// 2^12 minutes regardless of how far past the threshold.
		gt.Bool(t, src.InCooldown(attempt.Add(4095*time.Minute))).True()
		gt.Bool(t, src.InCooldown(attempt.Add(4097*time.Minute))).False()
	})
}

func TestSourceStale(t *testing.T) {
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

	fresh := now.Add(-71 * time.Hour)
	src := &model.Source{LastSuccessAt: &fresh}
	gt.Bool(t, src.Stale(now)).False()

	old := now.Add(-73 * time.Hour)
	src = &model.Source{LastSuccessAt: &old}
	gt.Bool(t, src.Stale(now)).True()

	// Never-succeeded sources go stale from creation.
	src = &model.Source{CreatedAt: now.Add(-74 * time.Hour)}
	gt.Bool(t, src.Stale(now)).True()
}

func TestSourceHealthRecording(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &model.Source{}

	src.RecordFailure(now, errors.New("listing page returned frameset"))
	src.RecordFailure(now.Add(time.Hour), errors.New("timeout"))
	gt.Value(t, src.ConsecutiveFailures).Equal(2)
	gt.Value(t, src.LastError).Equal("timeout")

	src.RecordSuccess(now.Add(2 * time.Hour))
	gt.Value(t, src.ConsecutiveFailures).Equal(0)
	gt.Value(t, src.LastError).Equal("")
	gt.Value(t, src.LastSuccessAt).NotNil()
}
