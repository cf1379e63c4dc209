package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/changes"
	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/importer"
	"github.com/xtxerr/cfgsync/internal/journal"
	"github.com/xtxerr/cfgsync/internal/storage"
	cfgsync "github.com/xtxerr/cfgsync/internal/sync"
	"github.com/xtxerr/cfgsync/internal/testutil"
)

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	dir        string
	configPath string
	source     *storage.FileStorage
	target     *storage.FileStorage
}

// newFixture stages two node types, one of them ignored on create, and a
// changed simple config object.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := &fixture{
		dir:        dir,
		configPath: filepath.Join(dir, "cfgsync.yaml"),
		source:     storage.NewDirStorage(filepath.Join(dir, "sync")),
		target:     storage.NewDirStorage(filepath.Join(dir, "active")),
	}

	core := testutil.CoreExtension([]string{"node", "system"}, []string{"olivero"})
	testutil.Seed(t, f.source, "", testutil.Docs{
		"core.extension":     core,
		"system.site":        testutil.Site("site-1"),
		"system.performance": testutil.Simple(map[string]any{"cache": "on"}),
		"node.type.article":  testutil.Entity("u-article", testutil.Modules("node")),
		"node.type.page":     testutil.Entity("u-page", testutil.Modules("node"), testutil.Ignore(changes.OpCreate)),
	})
	testutil.Seed(t, f.target, "", testutil.Docs{
		"core.extension":     core,
		"system.site":        testutil.Site("site-1"),
		"system.performance": testutil.Simple(map[string]any{"cache": "off"}),
	})

	writeConfig(t, f.configPath, fmt.Sprintf(`
source:
  type: file
  path: %s
target:
  type: file
  path: %s
entity_types:
  node.type: node_type
journal:
  enabled: true
  dir: %s
`, filepath.Join(dir, "sync"), filepath.Join(dir, "active"), filepath.Join(dir, "journal")))

	return f
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// run executes the CLI and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func stubTerminal(t *testing.T, tty bool, answer string) {
	t.Helper()
	origTTY, origPrompt := stdinIsTerminal, promptInput
	stdinIsTerminal = func() bool { return tty }
	promptInput = func(string) string { return answer }
	t.Cleanup(func() {
		stdinIsTerminal, promptInput = origTTY, origPrompt
	})
}

// =============================================================================
// Commands
// =============================================================================

func TestImportCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := run(t, "--config", f.configPath, "import", "--yes")
	require.NoError(t, err)

	assert.Contains(t, out, "1 new")
	assert.Contains(t, out, "1 changed")
	assert.Contains(t, out, "1 ignored")
	assert.Contains(t, out, "The configuration was imported successfully.")

	article, err := f.target.Read(ctx, "", "node.type.article")
	require.NoError(t, err)
	require.NotNil(t, article)
	assert.Equal(t, "u-article", article["uuid"])

	page, err := f.target.Read(ctx, "", "node.type.page")
	require.NoError(t, err)
	assert.Nil(t, page, "ignored create is not applied")

	perf, err := f.target.Read(ctx, "", "system.performance")
	require.NoError(t, err)
	assert.Equal(t, "on", perf["cache"])

	matches, err := filepath.Glob(filepath.Join(f.dir, "journal", "*.parquet"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	entries, err := journal.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	out, err = run(t, "--config", f.configPath, "import", "--yes")
	require.NoError(t, err)
	assert.NotContains(t, out, "1 new")
	assert.Contains(t, out, "1 ignored", "the ignored create stays pending")
}

func TestImportCommand_NoChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.source.Delete(ctx, "", "node.type.article"))
	require.NoError(t, f.source.Delete(ctx, "", "node.type.page"))
	require.NoError(t, f.target.Write(ctx, "", "system.performance", testutil.Simple(map[string]any{"cache": "on"})))

	out, err := run(t, "--config", f.configPath, "import", "--yes")
	require.NoError(t, err)
	assert.Equal(t, MsgNoChanges+"\n", out)
}

func TestImportCommand_RequiresYesWithoutTerminal(t *testing.T) {
	f := newFixture(t)
	stubTerminal(t, false, "")

	_, err := run(t, "--config", f.configPath, "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	perf, err := f.target.Read(context.Background(), "", "system.performance")
	require.NoError(t, err)
	assert.Equal(t, "off", perf["cache"])
}

func TestImportCommand_Prompt(t *testing.T) {
	f := newFixture(t)

	stubTerminal(t, true, "no")
	out, err := run(t, "--config", f.configPath, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "Import aborted.")

	stubTerminal(t, true, "yes")
	out, err = run(t, "--config", f.configPath, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "imported successfully")
}

func TestImportCommand_SiteMismatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.target.Write(context.Background(), "", "system.site", testutil.Site("site-2")))

	var stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&stderr)
	root.SetArgs([]string{"--config", f.configPath, "import", "--yes"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSiteMismatch))
	assert.Contains(t, stderr.String(), MsgValidationFailed)
	assert.Contains(t, stderr.String(), MsgSiteMismatch)
	assert.Equal(t, exitValidation, exitCode(err))
}

func TestImportCommand_LockHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Another process importing into the same active directory.
	other := storage.NewDirStorage(filepath.Join(f.dir, "active"))
	ok, err := other.Acquire(ctx, config.DefaultLockName, "elsewhere")
	require.NoError(t, err)
	require.True(t, ok)

	out, err := run(t, "--config", f.configPath, "import", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, MsgAlreadyImporting)

	perf, err := f.target.Read(ctx, "", "system.performance")
	require.NoError(t, err)
	assert.Equal(t, "off", perf["cache"], "nothing is imported while locked")

	out, err = run(t, "--config", f.configPath, "resync")
	require.NoError(t, err)
	assert.Contains(t, out, MsgAlreadyImporting)

	require.NoError(t, other.Release(ctx, config.DefaultLockName, "elsewhere"))
	out, err = run(t, "--config", f.configPath, "import", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "imported successfully")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, exitValidation, exitCode(fmt.Errorf("check: %w", errors.ErrSiteMismatch)))
	assert.Equal(t, exitFatal, exitCode(errors.StorageError("write", "", "system.site", errors.New("disk full"))))
	assert.Equal(t, exitFatal, exitCode(errors.ErrUnsupportedStorage))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}

func TestValidationReasons(t *testing.T) {
	verrs := errors.NewValidationErrors()
	verrs.Add(errors.ErrSiteMismatch)
	verrs.AddMissing("core.extension")
	assert.Len(t, validationReasons(verrs.Err()), 2)

	single := fmt.Errorf("check: %w", errors.ErrInvalidName)
	assert.Equal(t, []error{single}, validationReasons(single))
}

func TestDiffCommand(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.configPath, "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "Default collection")
	assert.Contains(t, out, "node.type.article")
	assert.Contains(t, out, "node.type.page")

	perf, err := f.target.Read(context.Background(), "", "system.performance")
	require.NoError(t, err)
	assert.Equal(t, "off", perf["cache"], "diff writes nothing")
}

func TestDiffCommand_JSON(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.configPath, "diff", "--json")
	require.NoError(t, err)

	parsed, err := oj.ParseString(out)
	require.NoError(t, err)
	doc, ok := parsed.(map[string]any)
	require.True(t, ok)

	collections := doc["collections"].(map[string]any)
	groups := collections[""].(map[string]any)
	assert.Equal(t, []any{"node.type.article"}, groups["create"])
	assert.Equal(t, []any{"node.type.page"}, groups["ignore"])
	assert.Equal(t, []any{"system.performance"}, groups["update"])
	assert.EqualValues(t, 1, doc["stats"].(map[string]any)["ignore"])
}

func TestResyncCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An ignored update whose policy differs between source and target.
	testutil.Seed(t, f.source, "", testutil.Docs{
		"node.type.blog": testutil.Entity("u-blog", testutil.Field("name", "Blog"), testutil.Ignore()),
	})
	testutil.Seed(t, f.target, "", testutil.Docs{
		"node.type.blog": testutil.Entity("u-blog", testutil.Field("name", "Old blog")),
	})

	out, err := run(t, "--config", f.configPath, "resync")
	require.NoError(t, err)
	assert.Contains(t, out, "Resynchronized 1 of 2 ignore policies.")

	blog, err := f.target.Read(ctx, "", "node.type.blog")
	require.NoError(t, err)
	assert.Equal(t, "Old blog", blog["name"], "only the policy is copied")

	out, err = run(t, "--config", f.configPath, "resync")
	require.NoError(t, err)
	assert.Contains(t, out, "Resynchronized 0 of 2 ignore policies.")
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "diff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cfgsync version dev\n", out)
}

// =============================================================================
// Rendering
// =============================================================================

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "a.b to a.c", displayName(changes.OpRename, changes.RenameName("a.b", "a.c")))
	assert.Equal(t, "a.b", displayName(changes.OpCreate, "a.b"))
	assert.Equal(t, "broken", displayName(changes.OpRename, "broken"))
}

func TestRenderWarnings(t *testing.T) {
	var buf bytes.Buffer
	renderWarnings(&buf, []cfgsync.Warning{{
		Op:      changes.OpCreate,
		Message: cfgsync.ExceptionMessages[changes.OpCreate],
		Names:   []string{"node.type.page"},
	}})
	assert.Equal(t, cfgsync.ExceptionMessages[changes.OpCreate]+"\n  - node.type.page\n\n", buf.String())
}

func TestRenderDrift(t *testing.T) {
	var buf bytes.Buffer
	renderDrift(&buf, nil)
	assert.Empty(t, buf.String())

	renderDrift(&buf, []string{"language.fr:system.site", "system.site"})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, importer.DriftMessage, lines[0])
	assert.Equal(t, "  - language.fr:system.site", lines[1])
}

func TestRenderValidation(t *testing.T) {
	var buf bytes.Buffer
	renderValidation(&buf, []error{
		fmt.Errorf("source site a, active site b: %w", errors.ErrSiteMismatch),
		errors.NewMissingField("core.extension configuration in source"),
	})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, MsgValidationFailed))
	assert.Contains(t, out, MsgSiteMismatch)
	assert.Contains(t, out, "core.extension configuration in source")
}

func TestRenderResult(t *testing.T) {
	var buf bytes.Buffer
	renderResult(&buf, &importer.Result{
		RunID:     "r1",
		Stats:     cfgsync.DiffStats{Ignored: 2},
		Processed: 3,
		Resynced:  1,
		Journal:   journal.Summary{P50: time.Millisecond, P99: 2 * time.Millisecond, Max: 3 * time.Millisecond},
		Duration:  1500 * time.Millisecond,
	})
	out := buf.String()
	assert.Contains(t, out, "processed: 3")
	assert.Contains(t, out, "ignored:   2 (1 policies resynchronized)")
	assert.Contains(t, out, "p50=1ms")
	assert.Contains(t, out, "duration:  1.5s")
}
