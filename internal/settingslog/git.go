package settingslog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/snapshot"
	"github.com/bolasblack/settingsync/internal/util"
)

// GitBackend keeps the log as commits in a git work tree. Each append mirrors
// the snapshot into the work tree and commits it; the entry kind is the
// "[kind]" prefix of the commit subject.
//
// Git runs without the system and global configuration, and the repository
// disables ignore files, line ending conversion and filters, so committed
// content is byte-for-byte what was appended.
type GitBackend struct {
	env *util.Env
	cmd util.CommandRunner
	dir string
}

// gitEnv isolates git from the user's and the system's configuration.
var gitEnv = []string{
	"GIT_CONFIG_NOSYSTEM=1",
	"GIT_CONFIG_GLOBAL=" + os.DevNull,
}

// repoConfig is applied on every Init so existing repositories pick it up.
var repoConfig = [][2]string{
	{"user.name", "settingsync"},
	{"user.email", "settingsync@localhost"},
	{"commit.gpgsign", "false"},
	{"core.autocrlf", "false"},
	{"core.safecrlf", "false"},
	{"core.excludesFile", os.DevNull},
}

// rawAttributes turns off every attribute that rewrites content. It takes
// precedence over .gitattributes files in the mirrored settings.
const rawAttributes = "* -text -filter -ident -working-tree-encoding\n"

// NewGitBackend creates a backend whose work tree is dir.
func NewGitBackend(env *util.Env, dir string) *GitBackend {
	return &GitBackend{env: env, cmd: env.Cmd.WithEnv(gitEnv...), dir: dir}
}

func (g *GitBackend) git(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-C", g.dir}, args...)
	out, err := g.cmd.Run(ctx, "git", full...)
	if err != nil {
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

func (g *GitBackend) Init(ctx context.Context) error {
	if err := g.env.Fs.MkdirAll(g.dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", g.dir, err)
	}
	gitDir := filepath.Join(g.dir, ".git")
	if ok, _ := afero.DirExists(g.env.Fs, gitDir); !ok {
		if _, err := g.git(ctx, "init", "-q"); err != nil {
			return err
		}
	}
	for _, kv := range repoConfig {
		if _, err := g.git(ctx, "config", kv[0], kv[1]); err != nil {
			return err
		}
	}
	infoDir := filepath.Join(gitDir, "info")
	if err := g.env.Fs.MkdirAll(infoDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", infoDir, err)
	}
	if err := afero.WriteFile(g.env.Fs, filepath.Join(infoDir, "attributes"), []byte(rawAttributes), 0644); err != nil {
		return fmt.Errorf("failed to write git attributes: %w", err)
	}
	return nil
}

func (g *GitBackend) Head(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "rev-list", "--all", "--max-count=1")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitBackend) Append(ctx context.Context, e Entry, snap *snapshot.Snapshot) (string, error) {
	if err := g.mirror(snap); err != nil {
		return "", fmt.Errorf("failed to write work tree: %w", err)
	}
	if _, err := g.git(ctx, "add", "-A", "-f", "--", "."); err != nil {
		return "", err
	}
	subject := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if _, err := g.git(ctx, "commit", "-q", "--allow-empty",
		"--date="+e.Timestamp.Format(time.RFC3339), "-m", subject); err != nil {
		return "", err
	}
	out, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// mirror makes the work tree (minus .git) equal snap.
func (g *GitBackend) mirror(snap *snapshot.Snapshot) error {
	gitDir := filepath.Join(g.dir, ".git")
	var stale []string
	err := afero.Walk(g.env.Fs, g.dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p == gitDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(g.dir, p)
		if err != nil {
			return err
		}
		if _, ok := snap.Get(filepath.ToSlash(rel)); !ok {
			stale = append(stale, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range stale {
		if err := g.env.Fs.Remove(p); err != nil {
			return err
		}
	}

	for _, f := range snap.Files() {
		if err := snapshot.ValidatePath(f.Path); err != nil {
			return err
		}
		abs := filepath.Join(g.dir, filepath.FromSlash(f.Path))
		if err := g.env.Fs.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return err
		}
		if err := afero.WriteFile(g.env.Fs, abs, f.Content, 0644); err != nil {
			return err
		}
	}
	return nil
}

// entryFormat separates hash, parents, author date and subject with NULs.
const entryFormat = "--format=%H%x00%P%x00%aI%x00%s"

func (g *GitBackend) Entry(ctx context.Context, id string) (Entry, error) {
	out, err := g.git(ctx, "show", "-s", entryFormat, id)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", id, err)
	}
	return parseGitEntry(out)
}

func parseGitEntry(out []byte) (Entry, error) {
	parts := strings.SplitN(strings.TrimRight(string(out), "\n"), "\x00", 4)
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("unexpected git show output %q", out)
	}
	ts, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return Entry{}, fmt.Errorf("bad commit date %q: %w", parts[2], err)
	}
	e := Entry{ID: parts[0], Timestamp: ts.UTC(), Message: parts[3]}
	if parents := strings.Fields(parts[1]); len(parents) > 0 {
		e.Parent = parents[0]
	}
	if strings.HasPrefix(parts[3], "[") {
		if end := strings.Index(parts[3], "] "); end > 0 {
			e.Kind = Kind(parts[3][1:end])
			e.Message = parts[3][end+2:]
		}
	}
	return e, nil
}

func (g *GitBackend) Snapshot(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	out, err := g.git(ctx, "ls-tree", "-r", "-z", "--name-only", id)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	var files []snapshot.FileState
	for _, p := range bytes.Split(out, []byte{0}) {
		if len(p) == 0 {
			continue
		}
		content, err := g.Content(ctx, id, string(p))
		if err != nil {
			return nil, err
		}
		files = append(files, snapshot.NewFileState(string(p), content))
	}
	return snapshot.New(files...), nil
}

func (g *GitBackend) Content(ctx context.Context, id, path string) ([]byte, error) {
	out, err := g.git(ctx, "cat-file", "blob", id+":"+path)
	if err != nil {
		return nil, fmt.Errorf("%s in entry %s: %w: %v", path, id, ErrNotFound, err)
	}
	return out, nil
}
