package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utilitywarehouse/github-mirror/pkg/github"
	"github.com/utilitywarehouse/github-mirror/pkg/mirror"
)

// Source lists the repositories of the source account.
type Source interface {
	ListRepositories(ctx context.Context, user string) ([]github.Repository, error)
}

// Destination manages the group and projects at the destination host.
type Destination interface {
	EnsureGroup(ctx context.Context, name string) (int, error)
	ProjectExists(ctx context.Context, group, name string) (bool, error)
	CreateProject(ctx context.Context, groupID int, name, description string, private bool) error
	PushURL(group, name string) string
}

// Mirrorer transfers the full history of one repository.
type Mirrorer interface {
	Mirror(ctx context.Context) error
}

// Syncer drives the filter -> ensure-destination -> mirror pipeline
// across the full repository list of the source account. Repositories
// are processed sequentially in listed order; one repository's failure
// never aborts the batch.
type Syncer struct {
	conf        Config
	source      Source
	destination Destination
	log         *slog.Logger

	// newMirrorer builds the Mirrorer for one repository, replaceable
	// in tests to run without git or network access
	newMirrorer func(conf mirror.RepositoryConfig) (Mirrorer, error)
}

// New creates a Syncer with the given collaborators. conf is treated as
// immutable after this call.
func New(conf Config, source Source, destination Destination, log *slog.Logger) (*Syncer, error) {
	conf.ApplyDefaults()

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	s := &Syncer{
		conf:        conf,
		source:      source,
		destination: destination,
		log:         log,
	}
	s.newMirrorer = func(rc mirror.RepositoryConfig) (Mirrorer, error) {
		return mirror.NewRepository(rc, conf.GitEnvs, log)
	}
	return s, nil
}

// Sync runs one full batch and returns its summary. The returned error
// is non-nil only for fatal conditions (listing failure, group ensure
// failure, cancellation), in which case no summary is produced.
func (s *Syncer) Sync(ctx context.Context) (*Summary, error) {
	start := time.Now()

	repos, err := s.source.ListRepositories(ctx, s.conf.User)
	if err != nil {
		return nil, fmt.Errorf("unable to list source repositories err:%w", err)
	}
	s.log.Info("listed source repositories", "count", len(repos))

	// no project can be created without the destination group, treat
	// ensure failure as fatal for the whole run
	groupID, err := s.destination.EnsureGroup(ctx, s.conf.Group)
	if err != nil {
		return nil, fmt.Errorf("unable to ensure destination group '%s' err:%w", s.conf.Group, err)
	}

	summary := &Summary{}
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome := s.syncOne(ctx, groupID, repo)
		summary.record(outcome)
		recordRepoOutcome(outcome)
	}

	recordRunComplete(start)
	s.log.Info("sync run complete", "time", time.Since(start),
		"total", summary.Total, "synced", summary.Synced,
		"skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

// syncOne runs the pipeline for a single repository. All errors are
// contained here and reported as a Failed outcome.
func (s *Syncer) syncOne(ctx context.Context, groupID int, repo github.Repository) Outcome {
	log := s.log.With("repo", repo.Name)

	if repo.Fork && !s.conf.IncludeForks {
		log.Info("skipping fork")
		return Skipped
	}
	if repo.Archived && !s.conf.IncludeArchived {
		log.Info("skipping archived repository")
		return Skipped
	}

	exists, err := s.destination.ProjectExists(ctx, s.conf.Group, repo.Name)
	if err != nil {
		log.Error("unable to check destination project", "err", err)
		return Failed
	}

	if !exists {
		if err := s.destination.CreateProject(ctx, groupID, repo.Name, repo.Description, repo.Private); err != nil {
			log.Error("unable to create destination project", "err", err)
			return Failed
		}
		if !s.conf.DryRun {
			// a freshly created project may not accept pushes right away
			s.sleep(ctx, s.conf.CreateDelay)
		}
	}

	m, err := s.newMirrorer(mirror.RepositoryConfig{
		Name:          repo.Name,
		Remote:        repo.CloneURL,
		PushRemote:    s.destination.PushURL(s.conf.Group, repo.Name),
		Root:          s.conf.WorkDir,
		MirrorTimeout: s.conf.MirrorTimeout,
		GitGC:         s.conf.GitGC,
		DryRun:        s.conf.DryRun,
	})
	if err != nil {
		log.Error("unable to create repository mirror", "err", err)
		return Failed
	}

	if err := m.Mirror(ctx); err != nil {
		log.Error("repository mirror failed", "err", err)
		return Failed
	}

	return Synced
}

func (s *Syncer) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
