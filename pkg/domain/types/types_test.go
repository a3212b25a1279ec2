package types_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

func TestDocumentStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to types.DocumentStatus
	}{
		{types.DocStatusNew, types.DocStatusFetched},
		{types.DocStatusFetched, types.DocStatusExtracted},
		{types.DocStatusExtracted, types.DocStatusProcessed},
		{types.DocStatusNew, types.DocStatusError},
		{types.DocStatusFetched, types.DocStatusError},
		{types.DocStatusExtracted, types.DocStatusError},
		{types.DocStatusProcessed, types.DocStatusError},
		// Re-observation resets.
		{types.DocStatusProcessed, types.DocStatusFetched},
		{types.DocStatusExtracted, types.DocStatusFetched},
	}
	for _, tc := range allowed {
		gt.Bool(t, tc.from.CanTransition(tc.to)).True()
	}

	forbidden := []struct {
		from, to types.DocumentStatus
	}{
		{types.DocStatusNew, types.DocStatusExtracted},
		{types.DocStatusNew, types.DocStatusProcessed},
		{types.DocStatusFetched, types.DocStatusProcessed},
		{types.DocStatusProcessed, types.DocStatusExtracted},
		{types.DocStatusError, types.DocStatusFetched},
		{types.DocStatusError, types.DocStatusError},
	}
	for _, tc := range forbidden {
		gt.Bool(t, tc.from.CanTransition(tc.to)).False()
	}
}

func TestParseDocumentStatus(t *testing.T) {
	for _, s := range types.AllDocumentStatuses() {
		parsed, err := types.ParseDocumentStatus(s.String())
		gt.NoError(t, err).Required()
		gt.Value(t, parsed).Equal(s)
	}

	_, err := types.ParseDocumentStatus("pending")
	gt.Value(t, err).NotNil()
}

func TestTextStatusPredicates(t *testing.T) {
	gt.Bool(t, types.TextStatusExtracted.Terminal()).True()
	gt.Bool(t, types.TextStatusOCRDone.Terminal()).True()
	gt.Bool(t, types.TextStatusFailed.Terminal()).True()
	gt.Bool(t, types.TextStatusPending.Terminal()).False()
	gt.Bool(t, types.TextStatusOCRQueued.Terminal()).False()

	gt.Bool(t, types.TextStatusExtracted.HasText()).True()
	gt.Bool(t, types.TextStatusOCRDone.HasText()).True()
	gt.Bool(t, types.TextStatusFailed.HasText()).False()
}

func TestCaseStatusNormalize(t *testing.T) {
	gt.Value(t, types.CaseStatus("").Normalize()).Equal(types.CaseStatusUnknown)
	gt.Value(t, types.CaseStatus("rejected").Normalize()).Equal(types.CaseStatusUnknown)
	gt.Value(t, types.CaseStatusProposed.Normalize()).Equal(types.CaseStatusProposed)
}

func TestParseCategories(t *testing.T) {
	cats := types.ParseCategories([]string{"zoning", "unknown_thing", "water_wetlands"})
	gt.Array(t, cats).Length(2)
	gt.Value(t, cats[0]).Equal(types.CategoryZoning)
	gt.Value(t, cats[1]).Equal(types.CategoryWaterWetlands)
}
