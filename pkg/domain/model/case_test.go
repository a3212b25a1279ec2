package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

func TestCaseValidate(t *testing.T) {
	valid := func() *model.Case {
		return &model.Case{
			PrimaryCategory: types.CategoryZoning,
			Headline:        "Rantakaavan muutos",
		}
	}

	t.Run("valid case passes", func(t *testing.T) {
		gt.NoError(t, valid().Validate())
	})

	t.Run("invalid category rejected", func(t *testing.T) {
		c := valid()
		c.PrimaryCategory = "misc"
		gt.Value(t, c.Validate()).NotNil()
	})

	t.Run("missing headline rejected", func(t *testing.T) {
		c := valid()
		c.Headline = ""
		gt.Value(t, c.Validate()).NotNil()
	})

	t.Run("updated_at before first_seen_at rejected", func(t *testing.T) {
		c := valid()
		c.FirstSeenAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		c.UpdatedAt = c.FirstSeenAt.Add(-time.Hour)
		gt.Value(t, c.Validate()).NotNil()
	})
}

func TestCaseMergeSets(t *testing.T) {
	c := &model.Case{
		Municipalities: []string{"Kittilä"},
		Entities:       []string{"Lapin Sora Oy"},
		Locations:      []string{"Ounasjoki"},
	}

	c.MergeSets(
		[]string{"Kittilä", "Sodankylä"},
		[]string{"MAL-2025-42", "Lapin Sora Oy"},
		[]string{"", "Ounasjoki"},
	)

	gt.Array(t, c.Municipalities).Length(2)
	gt.Array(t, c.Entities).Length(2)
	gt.Array(t, c.Locations).Length(1)
	gt.Value(t, c.Municipalities[0]).Equal("Kittilä")
	gt.Value(t, c.Entities[1]).Equal("MAL-2025-42")
}
