// Package sourcereader implements the Source Reader collaborator: reading a
// git diff, reading an explicit list of files, and enumerating a
// repository's tracked and untracked-not-ignored files, all guarded against
// path escape, sensitive-file patterns, and per-file/total byte caps.
package sourcereader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roasbeef/councilreview/internal/logging"
)

var log = logging.New("SRCR")

// MaxFileSize is the per-file byte cap; oversize files are skipped with a
// warning rather than failing the read.
const MaxFileSize = 1 << 20 // 1 MiB

// MaxTotalSize is the cumulative byte cap across one ReadFiles call; once
// reached, reading stops and whatever was gathered so far is returned.
const MaxTotalSize = 200 << 20 // 200 MiB

// ReadConcurrency bounds how many files are read concurrently.
const ReadConcurrency = 16

// FileContent is a single file's relative path and UTF-8 content.
type FileContent struct {
	Path    string
	Content string
}

// defaultSensitivePatterns are the built-in sensitive-path regexes, each
// matched case-insensitively against every segment of the normalized path.
var defaultSensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\.env($|\.)`),
	regexp.MustCompile(`(?i)\.pem$`),
	regexp.MustCompile(`(?i)\.key$`),
	regexp.MustCompile(`(?i)\.p12$`),
	regexp.MustCompile(`(?i)\.pfx$`),
	regexp.MustCompile(`(?i)\.keystore$`),
	regexp.MustCompile(`(?i)\bsecrets?\b`),
	regexp.MustCompile(`(?i)\bcredentials?\b`),
}

// Reader is the Source Reader contract consumed by the review pipeline.
type Reader interface {
	Diff(ctx context.Context, repoPath, baseBranch string) (string, error)
	ReadFiles(ctx context.Context, repoPath string, paths []string) ([]FileContent, error)
	ListRepoFiles(ctx context.Context, repoPath string, extensions []string) ([]string, error)
	TopLevel(ctx context.Context, repoPath string) (string, error)
}

// GitReader is the concrete Reader backed by the system `git` binary.
type GitReader struct {
	// ExtraSensitivePatterns are merged with the defaults.
	ExtraSensitivePatterns []string
}

// New returns a GitReader with the given extra sensitive-path doublestar
// glob patterns merged in, in addition to the built-in defaults.
func New(extraSensitivePatterns []string) *GitReader {
	return &GitReader{ExtraSensitivePatterns: extraSensitivePatterns}
}

// normalize converts backslashes to forward slashes before segment
// matching, so Windows-style paths are treated the same as POSIX ones.
func normalize(path string) string {
	return strings.ReplaceAll(path, `\`, `/`)
}

// IsSensitive reports whether any segment of path matches a known-secret
// pattern, default or configured.
func (g *GitReader) IsSensitive(path string) bool {
	norm := normalize(path)

	for _, seg := range strings.Split(norm, "/") {
		for _, pat := range defaultSensitivePatterns {
			if pat.MatchString(seg) {
				return true
			}
		}
	}

	for _, extra := range g.ExtraSensitivePatterns {
		if ok, _ := doublestar.Match(extra, norm); ok {
			return true
		}
	}

	return false
}

// Contains reports whether target lies inside root, using a relative-path
// test rather than a string prefix comparison.
func Contains(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}

// Diff runs `git diff <baseBranch>`, falling back to `git diff --staged`
// when that is empty, and fails if both are empty.
func (g *GitReader) Diff(ctx context.Context, repoPath, baseBranch string) (string, error) {
	diff, err := g.runGit(ctx, repoPath, "diff", baseBranch)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(diff) != "" {
		return diff, nil
	}

	staged, err := g.runGit(ctx, repoPath, "diff", "--staged")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(staged) == "" {
		return "", fmt.Errorf("no changes found against %s or in the staging area", baseBranch)
	}
	return staged, nil
}

// ReadFiles reads the content of each path, relative to repoPath, skipping
// oversize or sensitive files and respecting the cumulative cap.
func (g *GitReader) ReadFiles(ctx context.Context, repoPath string, paths []string) ([]FileContent, error) {
	root, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}

	type result struct {
		idx     int
		content FileContent
		size    int64
		ok      bool
	}

	sem := make(chan struct{}, ReadConcurrency)
	var wg sync.WaitGroup
	results := make([]result, len(paths))

	for i, p := range paths {
		if g.IsSensitive(p) {
			log.WarnS(ctx, "skipping sensitive path", "path", p)
			continue
		}

		abs := filepath.Join(root, p)
		if !Contains(root, abs) {
			log.WarnS(ctx, "skipping path outside repo root", "path", p)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p, abs string) {
			defer wg.Done()
			defer func() { <-sem }()

			info, err := os.Stat(abs)
			if err != nil {
				log.WarnS(ctx, "skipping unreadable file", "path", p, "err", err)
				return
			}
			if info.Size() > MaxFileSize {
				log.WarnS(ctx, "skipping oversize file", "path", p, "size", info.Size())
				return
			}

			data, err := os.ReadFile(abs)
			if err != nil {
				log.WarnS(ctx, "skipping unreadable file", "path", p, "err", err)
				return
			}

			results[i] = result{
				idx:     i,
				content: FileContent{Path: filepath.ToSlash(p), Content: string(data)},
				size:    info.Size(),
				ok:      true,
			}
		}(i, p, abs)
	}
	wg.Wait()

	var out []FileContent
	var total int64
	for _, r := range results {
		if !r.ok {
			continue
		}
		if total+r.size > MaxTotalSize {
			log.WarnS(ctx, "total size cap reached, stopping read", "cap", MaxTotalSize)
			break
		}
		out = append(out, r.content)
		total += r.size
	}

	return out, nil
}

// ListRepoFiles enumerates tracked and untracked-not-ignored files in
// repoPath, deduplicated and filtered by extension and sensitivity, with a
// containment check against the repo root.
func (g *GitReader) ListRepoFiles(ctx context.Context, repoPath string, extensions []string) ([]string, error) {
	root, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}

	out, err := g.runGitRaw(ctx, repoPath, "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("listing repo files: %w", err)
	}

	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = true
	}

	seen := make(map[string]bool)
	var files []string
	for _, raw := range strings.Split(out, "\x00") {
		if raw == "" {
			continue
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true

		ext := strings.ToLower(filepath.Ext(raw))
		if len(extSet) > 0 && !extSet[ext] {
			continue
		}
		if g.IsSensitive(raw) {
			continue
		}

		abs := filepath.Join(root, raw)
		if !Contains(root, abs) {
			continue
		}

		files = append(files, filepath.ToSlash(raw))
	}

	return files, nil
}

// TopLevel resolves the git top-level root of repoPath via `git rev-parse
// --show-toplevel`.
func (g *GitReader) TopLevel(ctx context.Context, repoPath string) (string, error) {
	out, err := g.runGitRaw(ctx, repoPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("resolving git top-level root: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (g *GitReader) runGit(ctx context.Context, repoPath string, args ...string) (string, error) {
	return g.runGitRaw(ctx, repoPath, args...)
}

func (g *GitReader) runGitRaw(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}

	return stdout.String(), nil
}
