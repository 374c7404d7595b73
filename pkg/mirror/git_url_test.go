package mirror

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseGitURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		want    *GitURL
		wantErr bool
	}{
		{"1",
			"user@host.xz:path/to/repo.git",
			&GitURL{Scheme: "scp", User: "user", Host: "host.xz", Path: "path/to", Repo: "repo.git"},
			false,
		},
		{"2",
			"git@github.com:org/repo.git",
			&GitURL{Scheme: "scp", User: "git", Host: "github.com", Path: "org", Repo: "repo.git"},
			false},
		{"3",
			"ssh://user@host.xz:123/path/to/repo.git",
			&GitURL{Scheme: "ssh", User: "user", Host: "host.xz:123", Path: "path/to", Repo: "repo.git"},
			false},
		{"4",
			"ssh://git@github.com/org/repo.git",
			&GitURL{Scheme: "ssh", User: "git", Host: "github.com", Path: "org", Repo: "repo.git"},
			false},
		{"5",
			"https://host.xz:345/path/to/repo.git",
			&GitURL{Scheme: "https", Host: "host.xz:345", Path: "path/to", Repo: "repo.git"},
			false},
		{"6",
			"https://github.com/org/repo.git",
			&GitURL{Scheme: "https", Host: "github.com", Path: "org", Repo: "repo.git"},
			false},
		{"7",
			"file:///path/to/repo.git",
			&GitURL{Scheme: "local", Path: "path/to", Repo: "repo.git"},
			false},

		{"invalid_ssh_hostname", "ssh://git@github.com:org/repo.git", nil, true},
		{"invalid_scp_url", "git@github.com/org/repo.git", nil, true},
		{"http", "http://host.xz:123/path/to/repo.git", nil, true},
		{"invalid_port1", "https://host.xz:yk/path/to/repo.git", nil, true},
		{"invalid_port2", "git@github.com:yk:org/repo.git", nil, true},

		{"invalid_path_1", "git@host.xz:/r.git", nil, true},
		{"invalid_path_2", "git@host.xz:.git", nil, true},
		{"invalid_path_3", "https://host.xz//r.git", nil, true},
		{"invalid_path_4", "https://host.xz/.git", nil, true},
		{"invalid_path_5", "https://host.xz/dd/.git", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGitURL(tt.rawURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseGitURL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseGitURL() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGitURL_RepoName(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"with_suffix", "https://github.com/octocat/my-repo.git", "my-repo"},
		{"without_suffix", "https://github.com/octocat/my-repo", "my-repo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gURL, err := ParseGitURL(tt.rawURL)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := gURL.RepoName(); got != tt.want {
				t.Errorf("RepoName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSameRawURL(t *testing.T) {
	type args struct {
		lRepo string
		rRepo string
	}
	tests := []struct {
		name    string
		args    args
		want    bool
		wantErr bool
	}{
		{"1", args{"user@host.xz:path/to/repo.git", "USER@HOST.XZ:PATH/TO/REPO.GIT"}, true, false},
		{"2", args{"git@github.com:org/repo.git", "ssh://git@github.com/org/repo.git"}, true, false},
		{"3", args{"git@github.com:org/repo.git", "https://github.com/org/repo.git"}, true, false},
		{"4", args{"https://github.com/org/repo.git", "https://github.com/org/repo.git"}, true, false},
		{"5", args{"https://github.com/org/repo.git", "https://github.com/org/other.git"}, false, false},
		{"6", args{"https://github.com/org/repo.git", "https://gitlab.com/org/repo.git"}, false, false},
		{"7", args{"https://github.com/org/repo.git", "not-a-url"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SameRawURL(tt.args.lRepo, tt.args.rRepo)
			if (err != nil) != tt.wantErr {
				t.Errorf("SameRawURL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SameRawURL() = %v, want %v", got, tt.want)
			}
		})
	}
}
