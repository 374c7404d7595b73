// Package mirror maintains local bare mirror clones of remote git
// repositories and pushes their full ref set to a destination remote.
// The implementation borrows heavily from https://github.com/kubernetes/git-sync.
package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/utilitywarehouse/github-mirror/pkg/lock"
)

const (
	defaultDirMode fs.FileMode = os.FileMode(0755) // 'rwxr-xr-x'
	defaultRefSpec             = "+refs/*:refs/*"

	// name of the remote on the local clone pointing at the destination.
	// "origin" is reserved for the source remote.
	pushRemoteName = "mirror"
)

var (
	gitExecutablePath string

	// to parse output of "git ls-remote --symref origin HEAD"
	// ref: refs/heads/xxxx  HEAD
	remoteDefaultBranchRgx = regexp.MustCompile(`^ref:\s+([^\s]+)\s+HEAD`)
)

func init() {
	gitExecutablePath = exec.Command("git").String()
}

// Repository represents the local mirror clone of the given source remote
// together with the destination remote its refs are pushed to.
// A Repository is safe for concurrent use by multiple goroutines.
type Repository struct {
	lock          lock.RWMutex // repository will be locked during mirror
	name          string       // repository name, on-disk cache key
	remote        string       // source remote to mirror from
	pushRemote    string       // destination remote to mirror to
	root          string       // absolute path to the root where repo directory is created
	dir           string       // absolute path to the repo directory
	mirrorTimeout time.Duration
	gitGC         gcMode   // garbage collection
	dryRun        bool     // report without mutating anything
	envs          []string // envs which will be passed to git commands
	log           *slog.Logger
}

// NewRepository creates new repository from the given config.
// Remote repo will not be mirrored until Mirror() is called.
func NewRepository(repoConf RepositoryConfig, envs []string, log *slog.Logger) (*Repository, error) {
	repoConf.applyDefaults()

	if err := repoConf.validate(); err != nil {
		return nil, err
	}

	remoteURL := NormaliseURL(repoConf.Remote)

	gURL, err := ParseGitURL(remoteURL)
	if err != nil {
		return nil, err
	}

	name := repoConf.Name
	if name == "" {
		name = gURL.RepoName()
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("repo", name)

	// we are going to create bare repo which caller cannot use directly
	// hence we can add repo dir (with .git suffix to indicate bare repo)
	// to the provided root. this also makes it safe to delete this dir
	// and re-create it if needed. the root is shared with the local
	// mirrors of all other repositories of the sync run
	repoDir := filepath.Join(repoConf.Root, name+".git")

	return &Repository{
		name:          name,
		remote:        remoteURL,
		pushRemote:    repoConf.PushRemote,
		root:          repoConf.Root,
		dir:           repoDir,
		mirrorTimeout: repoConf.MirrorTimeout,
		gitGC:         gcMode(repoConf.GitGC),
		dryRun:        repoConf.DryRun,
		envs:          envs,
		log:           log,
	}, nil
}

// Name returns the repository name used as the on-disk cache key.
func (r *Repository) Name() string { return r.name }

// Dir returns the absolute path of the local bare clone.
func (r *Repository) Dir() string { return r.dir }

// Mirror runs one mirror cycle of the repository
//  1. init and validate existing repo dir
//  2. fetch remote (prunes refs deleted at the source)
//  3. ensure destination push remote
//  4. push all refs to the destination
//  5. cleanup if needed
func (r *Repository) Mirror(ctx context.Context) error {
	if r.dryRun {
		r.log.Info("dry-run: would mirror repository", "remote", r.remote, "push-remote", redactURL(r.pushRemote))
		return nil
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	// to stop mirror running indefinitely we will use time-out
	ctx, cancel := context.WithTimeout(ctx, r.mirrorTimeout)
	defer cancel()

	defer updateMirrorLatency(r.name, time.Now())

	start := time.Now()

	err := r.mirror(ctx)
	recordGitMirror(r.name, err == nil)
	if err != nil {
		return err
	}

	r.log.Info("mirror cycle complete", "time", time.Since(start))
	return nil
}

func (r *Repository) mirror(ctx context.Context) error {
	if err := r.init(ctx); err != nil {
		return fmt.Errorf("unable to init repo:%s  err:%w", r.name, err)
	}

	refs, err := r.fetch(ctx)
	if err != nil {
		return fmt.Errorf("unable to fetch repo:%s  err:%w", r.name, err)
	}

	if err := r.ensurePushRemote(ctx); err != nil {
		return fmt.Errorf("unable to set push remote repo:%s  err:%w", r.name, err)
	}

	if err := r.push(ctx); err != nil {
		return fmt.Errorf("unable to push repo:%s  err:%w", r.name, err)
	}

	// clean-up can be skipped if fetch was a no-op
	if len(refs) == 0 {
		return nil
	}

	if err := r.cleanup(ctx); err != nil {
		return fmt.Errorf("unable to cleanup repo:%s  err:%w", r.name, err)
	}

	r.log.Debug("refs updated", "updated-refs", len(refs))
	return nil
}

// init examines the git repo and determines if it is usable or not. If
// not, it will (re)initialize it.
// it will also make a remote call to get `symbolic-ref HEAD` of the remote
// to get default branch for the remote
func (r *Repository) init(ctx context.Context) error {
	_, err := os.Stat(r.dir)
	switch {
	case os.IsNotExist(err):
		// initial mirror
		r.log.Info("repo directory does not exist, creating it", "path", r.dir)
		if err := os.MkdirAll(r.dir, defaultDirMode); err != nil {
			return fmt.Errorf("unable to create repo dir err:%w", err)
		}
	case err != nil:
		return fmt.Errorf("unable to verify repo dir err:%w", err)
	default:
		// Make sure the directory we found is actually usable.
		if !r.sanityCheckRepo(ctx) {
			r.log.Error("repo directory was empty or failed checks, re-creating...", "path", r.dir)
			// Maybe a previous run crashed?  Git won't use this dir.
			// since we add own folder to given root path we could just
			// delete whole dir and re-create it
			if err := reCreate(r.dir); err != nil {
				return fmt.Errorf("unable to re-create repo dir err:%w", err)
			}
		} else {
			r.log.Log(ctx, -8, "existing repo directory is valid", "path", r.dir)
			return nil
		}
	}

	r.log.Info("initializing repo directory", "path", r.dir)
	// git init -q --bare
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "init", "-q", "--bare"); err != nil {
		return fmt.Errorf("unable to init repo err:%w", err)
	}

	// create new remote "origin"
	// use --mirror=fetch as we want to create mirrored bare repository. it will make sure
	// everything in refs/* on the remote will be directly mirrored into refs/* in the local repository.
	// git remote add --mirror=fetch origin <remote>
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "remote", "add", "--mirror=fetch", "origin", r.remote); err != nil {
		return fmt.Errorf("unable to set remote err:%w", err)
	}

	// get default branch from remote and set it as local HEAD
	headBranch, err := r.getRemoteDefaultBranch(ctx)
	if err != nil {
		return fmt.Errorf("unable to get remote default branch err:%w", err)
	}

	// set local HEAD to remote HEAD/default branch
	// git symbolic-ref HEAD <headBranch>(refs/heads/master)
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "symbolic-ref", "HEAD", headBranch); err != nil {
		return fmt.Errorf("unable to set local HEAD err:%w", err)
	}

	if !r.sanityCheckRepo(ctx) {
		return fmt.Errorf("can't initialize git repo directory")
	}

	return nil
}

// getRemoteDefaultBranch will run ls-remote to get HEAD of the remote
// and parse output to get default branch name
func (r *Repository) getRemoteDefaultBranch(ctx context.Context) (string, error) {
	// git ls-remote --symref origin HEAD
	out, err := runGitCommand(ctx, r.log, r.envs, r.dir, "ls-remote", "--symref", "origin", "HEAD")
	if err != nil {
		return "", fmt.Errorf("unable to get default branch err:%w", err)
	}

	sections := remoteDefaultBranchRgx.FindStringSubmatch(out)

	if len(sections) == 2 {
		r.log.Debug("fetched remote symbolic ref", "default-branch", sections[1])
		return sections[1], nil
	}

	return "", fmt.Errorf("unable to parse ls-remote output:%s sections:%s", out, sections)
}

// sanityCheckRepo tries to make sure that the repo dir is a valid git repository.
func (r *Repository) sanityCheckRepo(ctx context.Context) bool {
	// If it is empty, we are done.
	if empty, err := dirIsEmpty(r.dir); err != nil {
		r.log.Error("can't list repo directory", "path", r.dir, "err", err)
		return false
	} else if empty {
		r.log.Info("repo directory is empty", "path", r.dir)
		return false
	}

	// make sure repo is bare repository
	// git rev-parse --is-bare-repository
	if ok, err := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", "--is-bare-repository"); err != nil {
		r.log.Error("unable to verify bare repo", "path", r.dir, "err", err)
		return false
	} else if ok != "true" {
		r.log.Error("repo is not a bare repository", "path", r.dir)
		return false
	}

	// Check that this is actually the root of the repo.
	// git rev-parse --absolute-git-dir
	if root, err := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", "--absolute-git-dir"); err != nil {
		r.log.Error("can't get repo git dir", "path", r.dir, "err", err)
		return false
	} else {
		if root != r.dir {
			r.log.Error("repo directory is under another repo", "path", r.dir, "parent", root)
			return false
		}
	}

	// make sure origin exists with correct remote URL
	// git config --get remote.origin.url
	if stdout, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", "--get", "remote.origin.url"); err != nil {
		r.log.Error("can't get repo config remote.origin.url", "path", r.dir, "err", err)
		return false
	} else if stdout != r.remote {
		r.log.Error("repo configured with diff remote url", "path", r.dir, "remote.origin.url", stdout)
		return false
	}

	// verify origin's fetch refspec
	// git config --get remote.origin.fetch
	if stdout, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", "--get", "remote.origin.fetch"); err != nil {
		r.log.Error("can't get repo config remote.origin.fetch", "path", r.dir, "err", err)
		return false
	} else if stdout != defaultRefSpec {
		r.log.Error("repo configured with incorrect fetch refspec", "path", r.dir, "remote.origin.fetch", stdout)
		return false
	}

	// Consistency-check the repo.  Don't use --verbose because it can be
	// REALLY verbose.
	// git fsck --no-progress --connectivity-only
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "fsck", "--no-progress", "--connectivity-only"); err != nil {
		r.log.Error("repo fsck failed", "path", r.dir, "err", err)
		return false
	}

	return true
}

// fetch calls git fetch to update all references and prune the ones
// deleted at the source
func (r *Repository) fetch(ctx context.Context) ([]string, error) {
	// adding --porcelain so output can be parsed for updated refs
	// do not use -v output it will print all refs
	args := []string{"fetch", "origin", "--prune", "--no-progress", "--porcelain", "--no-auto-gc"}

	// git fetch origin --prune --no-progress --porcelain --no-auto-gc
	out, err := runGitCommand(ctx, r.log, r.envs, r.dir, args...)
	return updatedRefs(out), err
}

// ensurePushRemote makes sure the destination remote exists on the local
// clone with the expected URL. Idempotent regardless of prior run state.
func (r *Repository) ensurePushRemote(ctx context.Context) error {
	// git remote get-url mirror
	current, err := runGitCommand(ctx, r.log, r.envs, r.dir, "remote", "get-url", pushRemoteName)
	if err != nil {
		// remote is missing
		// git remote add mirror <push-remote>
		if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "remote", "add", pushRemoteName, r.pushRemote); err != nil {
			return fmt.Errorf("unable to add push remote err:%w", err)
		}
		return nil
	}

	if current == r.pushRemote {
		return nil
	}

	// stale URL from an earlier run (rotated token, host change)
	r.log.Info("updating stale push remote url", "remote", pushRemoteName)
	// git remote set-url mirror <push-remote>
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "remote", "set-url", pushRemoteName, r.pushRemote); err != nil {
		return fmt.Errorf("unable to update push remote url err:%w", err)
	}
	return nil
}

// push mirrors every local ref onto the destination, deleting refs that
// no longer exist locally. the destination is an exact mirror after a
// successful push, never a merge target.
func (r *Repository) push(ctx context.Context) error {
	// git push --mirror --no-progress mirror
	_, err := runGitCommand(ctx, r.log, r.envs, r.dir, "push", "--mirror", "--no-progress", pushRemoteName)
	return err
}

// cleanup runs git's garbage collection.
func (r *Repository) cleanup(ctx context.Context) error {
	var cleanupErrs []error

	// Expire old refs.
	// git reflog expire --expire-unreachable=all --all
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "reflog", "expire", "--expire-unreachable=all", "--all"); err != nil {
		cleanupErrs = append(cleanupErrs, err)
	}

	// Run GC if needed.
	if r.gitGC != gcOff {
		args := []string{"gc"}
		switch r.gitGC {
		case gcAuto:
			args = append(args, "--auto")
		case gcAlways:
			// no extra flags
		case gcAggressive:
			args = append(args, "--aggressive")
		}
		if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, args...); err != nil {
			cleanupErrs = append(cleanupErrs, err)
		}
	}

	if len(cleanupErrs) > 0 {
		return fmt.Errorf("%s", cleanupErrs)
	}
	return nil
}

// redactURL strips userinfo (embedded tokens) from a URL for logging.
func redactURL(rawURL string) string {
	if at := strings.LastIndex(rawURL, "@"); at != -1 {
		if scheme := strings.Index(rawURL, "://"); scheme != -1 && scheme < at {
			return rawURL[:scheme+3] + "*****" + rawURL[at:]
		}
	}
	return rawURL
}
