package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/utilitywarehouse/github-mirror/pkg/github"
	"github.com/utilitywarehouse/github-mirror/pkg/mirror"
)

type fakeSource struct {
	repos []github.Repository
	err   error
}

func (f *fakeSource) ListRepositories(ctx context.Context, user string) ([]github.Repository, error) {
	return f.repos, f.err
}

type fakeDestination struct {
	groupID   int
	ensureErr error
	existing  map[string]bool
	existsErr map[string]error
	createErr map[string]error

	ensureCalls    int
	created        []string
	createdPrivate map[string]bool
}

func (f *fakeDestination) EnsureGroup(ctx context.Context, name string) (int, error) {
	f.ensureCalls++
	return f.groupID, f.ensureErr
}

func (f *fakeDestination) ProjectExists(ctx context.Context, group, name string) (bool, error) {
	if err := f.existsErr[name]; err != nil {
		return false, err
	}
	return f.existing[name], nil
}

func (f *fakeDestination) CreateProject(ctx context.Context, groupID int, name, description string, private bool) error {
	if err := f.createErr[name]; err != nil {
		return err
	}
	f.created = append(f.created, name)
	if f.createdPrivate == nil {
		f.createdPrivate = map[string]bool{}
	}
	f.createdPrivate[name] = private
	return nil
}

func (f *fakeDestination) PushURL(group, name string) string {
	return fmt.Sprintf("https://gitlab.example.com/%s/%s.git", group, name)
}

type fakeMirrorer struct {
	conf mirror.RepositoryConfig
	err  error
	runs *[]string
}

func (f *fakeMirrorer) Mirror(ctx context.Context) error {
	if f.err == nil {
		*f.runs = append(*f.runs, f.conf.Name)
	}
	return f.err
}

func testConfig() Config {
	return Config{
		Group:       "github",
		Host:        "gitlab.example.com",
		User:        "octocat",
		WorkDir:     "/tmp/github-mirror-test",
		CreateDelay: time.Millisecond,
	}
}

// newTestSyncer wires a syncer with fakes and records mirrored repo
// names and per-repo mirror errors via the returned slice.
func newTestSyncer(t *testing.T, conf Config, src *fakeSource, dst *fakeDestination, mirrorErrs map[string]error) (*Syncer, *[]string) {
	t.Helper()

	s, err := New(conf, src, dst, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error creating syncer: %v", err)
	}

	mirrored := &[]string{}
	s.newMirrorer = func(rc mirror.RepositoryConfig) (Mirrorer, error) {
		return &fakeMirrorer{conf: rc, err: mirrorErrs[rc.Name], runs: mirrored}, nil
	}
	return s, mirrored
}

func TestSync_filtersAndCounts(t *testing.T) {
	repos := []github.Repository{
		{Name: "A", CloneURL: "https://github.com/octocat/a.git"},
		{Name: "B", CloneURL: "https://github.com/octocat/b.git", Fork: true},
		{Name: "C", CloneURL: "https://github.com/octocat/c.git", Archived: true},
	}

	tests := []struct {
		name         string
		conf         Config
		wantSummary  Summary
		wantMirrored []string
	}{
		{
			"default_filters",
			testConfig(),
			Summary{Total: 3, Synced: 1, Skipped: 2, Failed: 0},
			[]string{"A"},
		},
		{
			"include_forks",
			func() Config { c := testConfig(); c.IncludeForks = true; return c }(),
			Summary{Total: 3, Synced: 2, Skipped: 1, Failed: 0},
			[]string{"A", "B"},
		},
		{
			"include_all",
			func() Config {
				c := testConfig()
				c.IncludeForks = true
				c.IncludeArchived = true
				return c
			}(),
			Summary{Total: 3, Synced: 3, Skipped: 0, Failed: 0},
			[]string{"A", "B", "C"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := &fakeDestination{groupID: 42, existing: map[string]bool{}}
			s, mirrored := newTestSyncer(t, tt.conf, &fakeSource{repos: repos}, dst, nil)

			summary, err := s.Sync(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(&tt.wantSummary, summary); diff != "" {
				t.Errorf("summary mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantMirrored, *mirrored); diff != "" {
				t.Errorf("mirrored repos mismatch (-want +got):\n%s", diff)
			}
			if summary.Total != summary.Synced+summary.Skipped+summary.Failed {
				t.Errorf("count conservation violated: %s", summary)
			}
		})
	}
}

func TestSync_forkAndArchivedSkippedOnce(t *testing.T) {
	repos := []github.Repository{
		{Name: "A", CloneURL: "https://github.com/octocat/a.git", Fork: true, Archived: true},
	}
	dst := &fakeDestination{groupID: 42, existing: map[string]bool{}}
	s, mirrored := newTestSyncer(t, testConfig(), &fakeSource{repos: repos}, dst, nil)

	summary, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Summary{Total: 1, Skipped: 1}
	if diff := cmp.Diff(&want, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if len(*mirrored) != 0 {
		t.Errorf("expected no mirrors, got %v", *mirrored)
	}
}

func TestSync_emptyList(t *testing.T) {
	dst := &fakeDestination{groupID: 42}
	s, _ := newTestSyncer(t, testConfig(), &fakeSource{}, dst, nil)

	summary, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(&Summary{}, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if dst.ensureCalls != 1 {
		t.Errorf("expected one ensure group call, got %d", dst.ensureCalls)
	}
}

func TestSync_existingProjectNotRecreated(t *testing.T) {
	repos := []github.Repository{
		{Name: "A", CloneURL: "https://github.com/octocat/a.git"},
	}
	dst := &fakeDestination{groupID: 42, existing: map[string]bool{"A": true}}
	s, mirrored := newTestSyncer(t, testConfig(), &fakeSource{repos: repos}, dst, nil)

	summary, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dst.created) != 0 {
		t.Errorf("expected no project creation, got %v", dst.created)
	}
	if diff := cmp.Diff([]string{"A"}, *mirrored); diff != "" {
		t.Errorf("mirrored repos mismatch (-want +got):\n%s", diff)
	}
	if summary.Synced != 1 {
		t.Errorf("expected synced=1 got %s", summary)
	}
}

func TestSync_visibilityMapping(t *testing.T) {
	repos := []github.Repository{
		{Name: "pub", CloneURL: "https://github.com/octocat/pub.git"},
		{Name: "priv", CloneURL: "https://github.com/octocat/priv.git", Private: true},
	}
	dst := &fakeDestination{groupID: 42, existing: map[string]bool{}}
	s, _ := newTestSyncer(t, testConfig(), &fakeSource{repos: repos}, dst, nil)

	if _, err := s.Sync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]bool{"pub": false, "priv": true}
	if diff := cmp.Diff(want, dst.createdPrivate); diff != "" {
		t.Errorf("created visibility mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_perRepoFailureIsolation(t *testing.T) {
	repos := []github.Repository{
		{Name: "A", CloneURL: "https://github.com/octocat/a.git"},
		{Name: "B", CloneURL: "https://github.com/octocat/b.git"},
		{Name: "C", CloneURL: "https://github.com/octocat/c.git"},
	}

	tests := []struct {
		name        string
		dst         *fakeDestination
		mirrorErrs  map[string]error
		wantSummary Summary
		wantCreated []string
	}{
		{
			"push_failure",
			&fakeDestination{groupID: 42, existing: map[string]bool{}},
			map[string]error{"B": fmt.Errorf("push rejected")},
			Summary{Total: 3, Synced: 2, Failed: 1},
			[]string{"A", "B", "C"},
		},
		{
			"exists_check_transport_error",
			&fakeDestination{groupID: 42, existing: map[string]bool{},
				existsErr: map[string]error{"A": fmt.Errorf("503 from api")}},
			nil,
			Summary{Total: 3, Synced: 2, Failed: 1},
			[]string{"B", "C"},
		},
		{
			"create_failure_skips_mirror",
			&fakeDestination{groupID: 42, existing: map[string]bool{},
				createErr: map[string]error{"C": fmt.Errorf("quota exceeded")}},
			nil,
			Summary{Total: 3, Synced: 2, Failed: 1},
			[]string{"A", "B"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mirrored := newTestSyncer(t, testConfig(), &fakeSource{repos: repos}, tt.dst, tt.mirrorErrs)

			summary, err := s.Sync(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(&tt.wantSummary, summary); diff != "" {
				t.Errorf("summary mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCreated, tt.dst.created); diff != "" {
				t.Errorf("created projects mismatch (-want +got):\n%s", diff)
			}
			if summary.Total != summary.Synced+summary.Skipped+summary.Failed {
				t.Errorf("count conservation violated: %s", summary)
			}
			_ = mirrored
		})
	}
}

func TestSync_fatalErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		dst  *fakeDestination
	}{
		{
			"list_failure",
			&fakeSource{err: fmt.Errorf("api unavailable")},
			&fakeDestination{groupID: 42},
		},
		{
			"ensure_group_failure",
			&fakeSource{repos: []github.Repository{{Name: "A", CloneURL: "https://github.com/octocat/a.git"}}},
			&fakeDestination{ensureErr: fmt.Errorf("permission denied")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mirrored := newTestSyncer(t, testConfig(), tt.src, tt.dst, nil)

			summary, err := s.Sync(context.Background())
			if err == nil {
				t.Fatalf("expected fatal error, got summary %v", summary)
			}
			if summary != nil {
				t.Errorf("expected no summary for fatal error, got %v", summary)
			}
			if len(*mirrored) != 0 {
				t.Errorf("expected no mirrors, got %v", *mirrored)
			}
		})
	}
}

// dry-run must categorise repositories exactly like a real run while the
// mirror engine is told not to mutate anything
func TestSync_dryRunCounts(t *testing.T) {
	repos := []github.Repository{
		{Name: "A", CloneURL: "https://github.com/octocat/a.git"},
		{Name: "B", CloneURL: "https://github.com/octocat/b.git", Fork: true},
		{Name: "C", CloneURL: "https://github.com/octocat/c.git", Archived: true},
	}

	conf := testConfig()
	conf.DryRun = true

	dst := &fakeDestination{groupID: 42, existing: map[string]bool{}}
	s, _ := newTestSyncer(t, conf, &fakeSource{repos: repos}, dst, nil)

	var mirrorerConfs []mirror.RepositoryConfig
	inner := s.newMirrorer
	s.newMirrorer = func(rc mirror.RepositoryConfig) (Mirrorer, error) {
		mirrorerConfs = append(mirrorerConfs, rc)
		return inner(rc)
	}

	summary, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Summary{Total: 3, Synced: 1, Skipped: 2}
	if diff := cmp.Diff(&want, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	for _, rc := range mirrorerConfs {
		if !rc.DryRun {
			t.Errorf("mirrorer for %s not configured for dry-run", rc.Name)
		}
	}
}
