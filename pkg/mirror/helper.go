package mirror

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var (
	// to parse output of "git fetch --porcelain"
	// <flag> <old-object-id> <new-object-id> <local-reference>
	updatedRefRgx = regexp.MustCompile(`(?m)^[^=] \w+ \w+ (refs\/[^\s]+)`)
)

func dirIsEmpty(path string) (bool, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(dirents) == 0, nil
}

// reCreate removes dir and any children it contains and creates new dir
// on the same path
func reCreate(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("can't delete unusable dir: %w", err)
	}
	if err := os.MkdirAll(path, defaultDirMode); err != nil {
		return fmt.Errorf("unable to create repo dir err:%w", err)
	}
	return nil
}

// updatedRefs returns list of refs updated by the fetch based on
// its porcelain output
func updatedRefs(output string) []string {
	var refs []string

	for _, match := range updatedRefRgx.FindAllStringSubmatch(output, -1) {
		refs = append(refs, match[1])
	}

	return refs
}

// runGitCommand runs git command with given arguments on given CWD
func runGitCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, args ...string) (string, error) {

	cmdStr := gitExecutablePath + " " + strings.Join(args, " ")
	log.Log(ctx, -8, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, gitExecutablePath, args...)
	// force kill git & child process 5 seconds after sending it sigterm (when ctx is cancelled/timed out)
	cmd.WaitDelay = 5 * time.Second
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	if len(envs) > 0 {
		cmd.Env = append(cmd.Env, envs...)
	}

	start := time.Now()
	err := cmd.Run()
	runTime := time.Since(start)

	stdout := strings.TrimSpace(outbuf.String())
	stderr := strings.TrimSpace(errbuf.String())
	if ctx.Err() == context.DeadlineExceeded {
		err = ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("Run(%s): err:%w { stdout: %q, stderr: %q }", cmdStr, err, stdout, stderr)
	}
	log.Log(ctx, -8, "command result", "stdout", stdout, "stderr", stderr, "time", runTime)

	return stdout, nil
}
