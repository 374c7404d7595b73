// Package github lists the repositories of the source account using the
// GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v61/github"
	"golang.org/x/oauth2"
)

// listing is bounded, pagination beyond this is out of scope
const maxRepositories = 1000

// ErrUnauthorized is returned when the configured token is missing,
// expired or lacks the required scopes.
var ErrUnauthorized = errors.New("github authentication failed")

// Repository is a read-only snapshot of one source repository.
type Repository struct {
	Name        string
	CloneURL    string
	Fork        bool
	Archived    bool
	Private     bool
	Description string
}

// Client lists repositories visible to the configured token.
type Client struct {
	gh  *github.Client
	log *slog.Logger
}

// NewClient creates a GitHub API client. If token is empty the client is
// unauthenticated and only public repositories will be visible.
func NewClient(ctx context.Context, token string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}

	return &Client{
		gh:  github.NewClient(hc),
		log: log.With("logger", "github"),
	}
}

// SetBaseURL points the client at a different API endpoint
// (GitHub Enterprise or a test server). url must end with a slash.
func (c *Client) SetBaseURL(rawURL string) error {
	gh, err := c.gh.WithEnterpriseURLs(rawURL, rawURL)
	if err != nil {
		return err
	}
	c.gh = gh
	return nil
}

// CheckAuth verifies the token against the API and returns the login of
// the authenticated user.
func (c *Client) CheckAuth(ctx context.Context) (string, error) {
	user, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", wrapAuthErr(resp, err)
	}
	return user.GetLogin(), nil
}

// ListRepositories returns all repositories owned by the given user, or
// by the authenticated user if user is empty. The result is a point-in-time
// snapshot, bounded at maxRepositories.
func (c *Client) ListRepositories(ctx context.Context, user string) ([]Repository, error) {
	var all []Repository

	page := 1
	for {
		repos, resp, err := c.listPage(ctx, user, page)
		if err != nil {
			return nil, wrapAuthErr(resp, err)
		}

		for _, repo := range repos {
			all = append(all, Repository{
				Name:        repo.GetName(),
				CloneURL:    repo.GetCloneURL(),
				Fork:        repo.GetFork(),
				Archived:    repo.GetArchived(),
				Private:     repo.GetPrivate(),
				Description: repo.GetDescription(),
			})
		}

		if resp.NextPage == 0 || len(all) >= maxRepositories {
			break
		}
		page = resp.NextPage
	}

	c.log.Debug("listed source repositories", "user", user, "count", len(all))
	return all, nil
}

func (c *Client) listPage(ctx context.Context, user string, page int) ([]*github.Repository, *github.Response, error) {
	lo := github.ListOptions{PerPage: 100, Page: page}

	if user == "" {
		opts := &github.RepositoryListByAuthenticatedUserOptions{
			Type:        "owner",
			ListOptions: lo,
		}
		return c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
	}

	opts := &github.RepositoryListByUserOptions{
		Type:        "owner",
		ListOptions: lo,
	}
	return c.gh.Repositories.ListByUser(ctx, user, opts)
}

func wrapAuthErr(resp *github.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}
