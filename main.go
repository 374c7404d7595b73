package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/utilitywarehouse/github-mirror/pkg/auth"
	"github.com/utilitywarehouse/github-mirror/pkg/github"
	"github.com/utilitywarehouse/github-mirror/pkg/gitlab"
	"github.com/utilitywarehouse/github-mirror/pkg/mirror"
	"github.com/utilitywarehouse/github-mirror/pkg/syncer"
)

const metricsNamespace = "github_mirror"

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("GITHUB_MIRROR_CONFIG"),
			Usage:   "Absolute path to an optional config file.",
		},
		&cli.StringFlag{
			Name:    "gitlab-group",
			Aliases: []string{"g"},
			Sources: cli.EnvVars("GITLAB_GROUP"),
			Usage:   "Destination GitLab group.",
		},
		&cli.StringFlag{
			Name:    "gitlab-host",
			Aliases: []string{"H"},
			Sources: cli.EnvVars("GITLAB_HOST"),
			Usage:   "Destination GitLab host.",
		},
		&cli.StringFlag{
			Name:    "github-user",
			Aliases: []string{"u"},
			Sources: cli.EnvVars("GITHUB_USER"),
			Usage:   "Source GitHub account, defaults to the authenticated user.",
		},
		&cli.StringFlag{
			Name:    "work-dir",
			Aliases: []string{"w"},
			Sources: cli.EnvVars("WORK_DIR"),
			Usage:   "Absolute path of the local mirror clone cache.",
		},
		&cli.BoolFlag{
			Name:    "include-forks",
			Aliases: []string{"f"},
			Sources: cli.EnvVars("INCLUDE_FORKS"),
			Usage:   "Mirror forked repositories as well.",
		},
		&cli.BoolFlag{
			Name:    "include-archived",
			Aliases: []string{"a"},
			Sources: cli.EnvVars("INCLUDE_ARCHIVED"),
			Usage:   "Mirror archived repositories as well.",
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"d"},
			Sources: cli.EnvVars("DRY_RUN"),
			Usage:   "Report what would be done without creating or pushing anything.",
		},
		&cli.BoolFlag{
			Name:    "fail-on-error",
			Sources: cli.EnvVars("FAIL_ON_ERROR"),
			Usage:   "Exit non-zero when one or more repositories failed to sync.",
		},
		&cli.DurationFlag{
			Name:    "mirror-timeout",
			Sources: cli.EnvVars("MIRROR_TIMEOUT"),
			Usage:   "Total time allowed for one repository mirror cycle.",
		},
		&cli.DurationFlag{
			Name:    "create-delay",
			Sources: cli.EnvVars("CREATE_DELAY"),
			Usage:   "Wait between project creation and the first push.",
		},
		&cli.StringFlag{
			Name:    "git-gc",
			Sources: cli.EnvVars("GIT_GC"),
			Usage:   "Git garbage collection mode (auto, always, aggressive or off).",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Sources: cli.EnvVars("METRICS_ADDR"),
			Usage:   "Address to serve prometheus metrics on, disabled if empty.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

// buildConfig overlays flag/env values on top of the optional config file.
func buildConfig(c *cli.Command) (*syncer.Config, error) {
	conf := &syncer.Config{}

	if path := c.String("config"); path != "" {
		fileConf, err := syncer.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config file err:%w", err)
		}
		conf = fileConf
	}

	if v := c.String("gitlab-group"); v != "" {
		conf.Group = v
	}
	if v := c.String("gitlab-host"); v != "" {
		conf.Host = v
	}
	if v := c.String("github-user"); v != "" {
		conf.User = v
	}
	if v := c.String("work-dir"); v != "" {
		conf.WorkDir = v
	}
	if v := c.String("git-gc"); v != "" {
		conf.GitGC = v
	}
	if v := c.Duration("mirror-timeout"); v != 0 {
		conf.MirrorTimeout = v
	}
	if v := c.Duration("create-delay"); v != 0 {
		conf.CreateDelay = v
	}
	if c.Bool("include-forks") {
		conf.IncludeForks = true
	}
	if c.Bool("include-archived") {
		conf.IncludeArchived = true
	}
	if c.Bool("dry-run") {
		conf.DryRun = true
	}
	if c.Bool("fail-on-error") {
		conf.FailOnError = true
	}

	conf.ApplyDefaults()
	return conf, nil
}

// sourceToken resolves the GitHub credential, either a static token or a
// short-lived GitHub App installation token.
func sourceToken(ctx context.Context) (string, error) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token, nil
	}

	appID := os.Getenv("GITHUB_APP_ID")
	installID := os.Getenv("GITHUB_APP_INSTALLATION_ID")
	keyPath := os.Getenv("GITHUB_APP_PRIVATE_KEY_PATH")
	if appID == "" || installID == "" || keyPath == "" {
		return "", nil
	}

	appToken, err := auth.GithubAppInstallationToken(ctx, appID, installID, keyPath,
		auth.GithubAppTokenReqPermissions{
			Permissions: map[string]string{"contents": "read", "metadata": "read"},
		})
	if err != nil {
		return "", fmt.Errorf("unable to mint GitHub App installation token err:%w", err)
	}
	logger.Info("using GitHub App installation token", "expires-at", appToken.ExpiresAt)
	return appToken.Token, nil
}

// gitEnvs builds the environment for all git subprocesses. The source
// token is injected via git config env vars so it never appears in the
// stored remote URL of the local clones.
func gitEnvs(token string) []string {
	envs := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}
	if token != "" {
		envs = append(envs,
			"GIT_CONFIG_COUNT=1",
			fmt.Sprintf("GIT_CONFIG_KEY_0=url.https://x-access-token:%s@github.com/.insteadOf", token),
			"GIT_CONFIG_VALUE_0=https://github.com/",
		)
	}
	return envs
}

func serveMetrics(addr string) {
	registry := prometheus.NewRegistry()
	mirror.EnableMetrics(metricsNamespace, registry)
	syncer.EnableMetrics(metricsNamespace, registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener failed", "err", err)
		}
	}()
}

func run(ctx context.Context, c *cli.Command) error {
	// set log level according to argument
	if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
		loggerLevel.Set(v)
	}

	conf, err := buildConfig(c)
	if err != nil {
		return err
	}

	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git executable not found in PATH, install git to run this job")
	}

	if addr := c.String("metrics-addr"); addr != "" {
		serveMetrics(addr)
	}

	ghToken, err := sourceToken(ctx)
	if err != nil {
		return err
	}
	glToken := os.Getenv("GITLAB_TOKEN")
	if glToken == "" && !conf.DryRun {
		return fmt.Errorf("GITLAB_TOKEN is not set, create a token with api scope for host %s", conf.Host)
	}

	source := github.NewClient(ctx, ghToken, logger)
	destination := gitlab.NewClient(conf.Host, glToken, conf.DryRun, logger)

	// fail early on bad credentials rather than half way through a batch
	if ghToken != "" {
		login, err := source.CheckAuth(ctx)
		if errors.Is(err, github.ErrUnauthorized) {
			return fmt.Errorf("github authentication failed, set a valid GITHUB_TOKEN or GitHub App credentials err:%w", err)
		}
		if err != nil {
			return fmt.Errorf("unable to verify github identity err:%w", err)
		}
		logger.Info("authenticated against github", "login", login)
		if conf.User == "" {
			conf.User = login
		}
	}
	if conf.User == "" {
		// without a token only public repos of a named user are listable
		return fmt.Errorf("github user is not known, set GITHUB_USER or provide a token")
	}

	if !conf.DryRun {
		if username, err := destination.CheckAuth(ctx); err != nil {
			return fmt.Errorf("gitlab authentication failed for host %s, run with a valid GITLAB_TOKEN err:%w", conf.Host, err)
		} else {
			logger.Info("authenticated against gitlab", "host", conf.Host, "username", username)
		}
	}

	conf.GitEnvs = gitEnvs(ghToken)

	s, err := syncer.New(*conf, source, destination, logger.With("logger", "syncer"))
	if err != nil {
		return err
	}

	summary, err := s.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync run failed err:%w", err)
	}

	summary.WriteTable(os.Stdout)

	if conf.FailOnError && summary.Failed > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", summary.Failed, summary.Total)
	}
	return nil
}

func main() {
	// optional .env file for local runs
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:  "github-mirror",
		Usage: "github-mirror is a batch job to mirror GitHub repositories to a GitLab group.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c)
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}
