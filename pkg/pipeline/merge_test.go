package pipeline

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

func TestScoreMergeComponents(t *testing.T) {
	base := &model.Case{
		PrimaryCategory: types.CategoryPermitsExtraction,
		Headline:        "Maa-aineslupa vireillä Ounasjoen läheisyydessä",
		Entities:        []string{"MAL-2025-42"},
		Locations:       []string{"Ounasjoen itäpuoli"},
	}

	t.Run("full match", func(t *testing.T) {
		probe := mergeProbe{
			Entities:  []string{"mal-2025-42"},
			Locations: []string{"Ounasjoen itäpuoli"},
			Headline:  "Maa-aineslupa vireillä Ounasjoen läheisyydessä",
			Category:  types.CategoryPermitsExtraction,
		}
		score := scoreMerge(base, probe)
		gt.Bool(t, score > 0.99 && score < 1.01).True()
	})

	t.Run("entity match alone stays below threshold", func(t *testing.T) {
		probe := mergeProbe{
			Entities: []string{"MAL-2025-42"},
			Headline: "Jotain ihan muuta",
			Category: types.CategoryZoning,
		}
		score := scoreMerge(base, probe)
		gt.Bool(t, score > 0.59 && score < 0.61).True()
	})

	t.Run("entity plus location crosses threshold", func(t *testing.T) {
		probe := mergeProbe{
			Entities:  []string{"MAL-2025-42"},
			Locations: []string{"Ounasjoen itäpuoli"},
			Headline:  "Eri otsikko kokonaan tässä",
			Category:  types.CategoryPermitsExtraction,
		}
		gt.Bool(t, scoreMerge(base, probe) > mergeThreshold).True()
	})

	t.Run("no overlap scores near zero", func(t *testing.T) {
		probe := mergeProbe{
			Entities:  []string{"Toinen Yhtiö Oy"},
			Locations: []string{"Kemijärven ranta"},
			Headline:  "Tuulivoimapuiston osayleiskaava",
			Category:  types.CategoryIndustryInfra,
		}
		gt.Bool(t, scoreMerge(base, probe) < 0.2).True()
	})
}

func TestBestMergeRequiresThreshold(t *testing.T) {
	cases := []*model.Case{
		{
			PrimaryCategory: types.CategoryPermitsExtraction,
			Headline:        "Maa-aineslupa",
			Entities:        []string{"MAL-2025-42"},
		},
	}

	weak := mergeProbe{Entities: []string{"MAL-2025-42"}, Category: types.CategoryZoning}
	matched, _ := bestMerge(cases, weak)
	gt.Value(t, matched).Nil()

	strong := mergeProbe{
		Entities:  []string{"MAL-2025-42"},
		Headline:  "Maa-aineslupa",
		Category:  types.CategoryPermitsExtraction,
		Locations: nil,
	}
	matched, score := bestMerge(cases, strong)
	// 0.6 + 0.1 + 0.1 = 0.8 does not cross the strict threshold.
	gt.Value(t, matched).Nil()
	gt.Bool(t, score > 0.79 && score < 0.81).True()
}

func TestTitleSimilarity(t *testing.T) {
	gt.Value(t, titleSimilarity("Maa-aineslupa", "maa-aineslupa")).Equal(1.0)
	gt.Bool(t, titleSimilarity("Maa-aineslupa Sallassa", "Maa-aineslupa Sallasa") >= 0.7).True()
	gt.Bool(t, titleSimilarity("Maa-aineslupa", "Tuulivoimapuisto") < 0.5).True()
	gt.Value(t, titleSimilarity("", "jotain")).Equal(0.0)
}
