// Package gitlab manages the destination group and projects using the
// GitLab REST v4 API.
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Group is the destination namespace under which projects are created.
type Group struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	FullPath   string `json:"full_path"`
	Visibility string `json:"visibility"`
}

// Project is one destination repository record.
type Project struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	PathWithNamespace string `json:"path_with_namespace"`
	Visibility        string `json:"visibility"`
	Description       string `json:"description"`
}

type user struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Client talks to one GitLab host. In dry-run mode no mutating request
// is ever issued.
type Client struct {
	baseURL string
	token   string
	dryRun  bool
	hc      *http.Client
	log     *slog.Logger
}

// NewClient creates a client for the given host ("gitlab.com" or a
// self-hosted instance, scheme optional).
func NewClient(host, token string, dryRun bool, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	baseURL := strings.TrimRight(host, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		dryRun:  dryRun,
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     log.With("logger", "gitlab"),
	}
}

// CheckAuth verifies the token against the host and returns the username
// of the authenticated user.
func (c *Client) CheckAuth(ctx context.Context) (string, error) {
	var u user
	if err := c.do(ctx, http.MethodGet, "user", nil, &u); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
			return "", fmt.Errorf("%w: check GITLAB_TOKEN for host %s", ErrUnauthorized, c.baseURL)
		}
		return "", err
	}
	return u.Username, nil
}

// EnsureGroup makes sure the destination group exists and returns its id.
// A missing group is created with private visibility. In dry-run mode a
// missing group is reported as a hypothetical action and the zero id is
// returned.
func (c *Client) EnsureGroup(ctx context.Context, name string) (int, error) {
	group, err := c.getGroup(ctx, name)
	if err == nil {
		c.log.Debug("destination group exists", "group", name, "id", group.ID)
		return group.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("unable to query group %s err:%w", name, err)
	}

	if c.dryRun {
		c.log.Info("dry-run: would create group", "group", name, "visibility", "private")
		return 0, nil
	}

	c.log.Info("creating destination group", "group", name)
	form := url.Values{}
	form.Set("name", name)
	form.Set("path", name)
	form.Set("visibility", "private")

	var created Group
	if err := c.do(ctx, http.MethodPost, "groups", form, &created); err != nil {
		return 0, fmt.Errorf("unable to create group %s err:%w", name, err)
	}
	return created.ID, nil
}

// getGroup queries a group by its url-encoded full path.
func (c *Client) getGroup(ctx context.Context, path string) (*Group, error) {
	var group Group
	if err := c.do(ctx, http.MethodGet, "groups/"+url.PathEscape(path), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// ProjectExists checks existence of a single project by name within the
// group. The path separator is percent-encoded so the lookup is treated
// as one flat identifier. A not-found response returns (false, nil); any
// other failure is returned as an error and must not be treated as
// absence.
func (c *Client) ProjectExists(ctx context.Context, group, name string) (bool, error) {
	path := "projects/" + url.PathEscape(group+"/"+projectPath(name))
	if err := c.do(ctx, http.MethodGet, path, nil, &Project{}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("unable to query project %s/%s err:%w", group, name, err)
	}
	return true, nil
}

// CreateProject creates an empty project in the given namespace.
// initialize_with_readme stays false, mirror-pushing into a project that
// already has commits causes unrelated-history conflicts.
func (c *Client) CreateProject(ctx context.Context, groupID int, name, description string, private bool) error {
	visibility := "public"
	if private {
		visibility = "private"
	}

	if c.dryRun {
		c.log.Info("dry-run: would create project", "project", name, "visibility", visibility)
		return nil
	}

	form := url.Values{}
	form.Set("name", name)
	form.Set("path", projectPath(name))
	form.Set("namespace_id", strconv.Itoa(groupID))
	form.Set("visibility", visibility)
	form.Set("description", description)
	form.Set("initialize_with_readme", "false")

	var created Project
	if err := c.do(ctx, http.MethodPost, "projects", form, &created); err != nil {
		return fmt.Errorf("unable to create project %s err:%w", name, err)
	}

	c.log.Info("created destination project", "project", created.PathWithNamespace, "visibility", created.Visibility)
	return nil
}

// PushURL returns the authenticated https push endpoint of the project.
func (c *Client) PushURL(group, name string) string {
	u, _ := url.Parse(c.baseURL)
	u.User = url.UserPassword("oauth2", c.token)
	return fmt.Sprintf("%s/%s/%s.git", u.String(), group, projectPath(name))
}

// do issues one API request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/api/v4/%s", c.baseURL, path)

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.log.Log(ctx, -8, "api request", "method", method, "path", path)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &apiError{status: resp.StatusCode, body: string(msg)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var pathReplacer = strings.NewReplacer(" ", "-", "/", "-")

// projectPath derives the URL-safe path form of a project name. GitHub
// repository names are already restricted to safe characters so this is
// a no-op for the common case.
func projectPath(name string) string {
	return pathReplacer.Replace(name)
}
