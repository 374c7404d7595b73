package mirror

import (
	"fmt"
	"path/filepath"
	"time"
)

type gcMode string

const (
	gcAuto       = "auto"
	gcAlways     = "always"
	gcAggressive = "aggressive"
	gcOff        = "off"
)

const defaultMirrorTimeout = 2 * time.Minute

// RepositoryConfig represents the config for one mirrored repository.
type RepositoryConfig struct {
	// Name of the repository, used as the on-disk cache key. The local
	// bare clone will be created at <Root>/<Name>.git. If empty it is
	// derived from the remote URL.
	Name string

	// Remote is the git URL of the source repo to mirror from
	Remote string

	// PushRemote is the git URL of the destination repo to mirror to
	PushRemote string

	// Root is the absolute path to the root dir where the repo dir
	// will be created
	Root string

	// MirrorTimeout represents the total time allowed for one complete
	// mirror cycle (fetch + push)
	MirrorTimeout time.Duration

	// GitGC garbage collection string. valid values are
	// 'auto', 'always', 'aggressive' or 'off'
	GitGC string

	// DryRun only reports what would be mirrored without touching
	// disk or network
	DryRun bool
}

// applyDefaults fills in optional fields before validation.
func (rc *RepositoryConfig) applyDefaults() {
	if rc.MirrorTimeout == 0 {
		rc.MirrorTimeout = defaultMirrorTimeout
	}
	if rc.GitGC == "" {
		rc.GitGC = gcAlways
	}
}

func (rc *RepositoryConfig) validate() error {
	if rc.Remote == "" {
		return fmt.Errorf("repository remote cannot be empty")
	}

	if rc.PushRemote == "" {
		return fmt.Errorf("repository push remote cannot be empty")
	}

	if !filepath.IsAbs(rc.Root) {
		return fmt.Errorf("repository root '%s' must be absolute", rc.Root)
	}

	switch rc.GitGC {
	case gcAuto, gcAlways, gcAggressive, gcOff:
	default:
		return fmt.Errorf("wrong gc value provided, must be one of %s, %s, %s, %s",
			gcAuto, gcAlways, gcAggressive, gcOff)
	}

	return nil
}
