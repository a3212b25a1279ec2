package repository_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/repository/memory"
	"github.com/ymparistovahti/vahti/pkg/repository/sqlite"
)

// backends returns a fresh repository per backend for each subtest
func backends(t *testing.T) map[string]func(t *testing.T) interfaces.Repository {
	t.Helper()
	return map[string]func(t *testing.T) interfaces.Repository{
		"memory": func(t *testing.T) interfaces.Repository {
			return memory.New()
		},
		"sqlite": func(t *testing.T) interfaces.Repository {
			client, err := sqlite.New(filepath.Join(t.TempDir(), "watchdog.db"))
			if err != nil {
				t.Fatalf("failed to open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = client.Close() })
			return client
		},
	}
}

func runOnBackends(t *testing.T, test func(t *testing.T, repo interfaces.Repository)) {
	t.Helper()
	for name, newRepo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			test(t, newRepo(t))
		})
	}
}

func testSource(municipality string) *model.Source {
	return &model.Source{
		Municipality: municipality,
		Platform:     types.PlatformTWeb,
		BaseURL:      "https://" + municipality + ".tweb.fi",
		Enabled:      true,
		Config: model.SourceConfig{
			Paths: model.DocPaths{Meetings: "/ktwebscr/pk_tek_tweb.htm"},
		},
	}
}

func testRef(externalID string) *model.DocumentRef {
	meeting := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	return &model.DocumentRef{
		Municipality: "Salla",
		Platform:     types.PlatformTWeb,
		Body:         "Tekninen lautakunta",
		MeetingDate:  &meeting,
		DocType:      types.DocTypeMinutes,
		Title:        "Tekninen lautakunta 12.3.2025",
		SourceURL:    "http://salla.tweb.fi/ktwebscr/pk_tek_tweb.htm?docid=" + externalID,
		FileURLs:     []string{"http://salla.tweb.fi/ktwebscr/fileshow?doctype=3&docid=" + externalID},
		ExternalID:   externalID,
	}
}
