package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schedulerRule = `
func classify() {
	if has_import("org.quartz") {
		return {"type": "job", "framework": "quartz"}
	}
	return nil
}
classify()
`

const workerRule = `
func classify() {
	if path == "workers/consumer.py" && language == "python" {
		return {"type": "worker", "framework": "kafka"}
	}
	return nil
}
classify()
`

func TestMatch_FirstRuleWins(t *testing.T) {
	t.Parallel()
	set := NewSet(nil,
		Rule{Name: "quartz", Source: schedulerRule},
		Rule{Name: "anything", Source: "m := {\"type\": \"other\", \"framework\": \"x\"}\nm"},
	)

	m, ok := set.Match(context.Background(), Input{
		Path:     "src/Jobs.java",
		Language: "java",
		Imports:  []string{"org.quartz.Job"},
	})
	require.True(t, ok)
	assert.Equal(t, "job", m.Type)
	assert.Equal(t, "quartz", m.Framework)
	assert.Equal(t, "quartz", m.Rule)

	m, ok = set.Match(context.Background(), Input{Path: "a.java", Language: "java"})
	require.True(t, ok)
	assert.Equal(t, "anything", m.Rule)
}

func TestMatch_GlobalsVisible(t *testing.T) {
	t.Parallel()
	set := NewSet(nil, Rule{Name: "worker", Source: workerRule})

	_, ok := set.Match(context.Background(), Input{Path: "workers/consumer.py", Language: "python"})
	assert.True(t, ok)
	_, ok = set.Match(context.Background(), Input{Path: "workers/consumer.py", Language: "go"})
	assert.False(t, ok)
}

func TestMatch_BrokenScriptIsSkipped(t *testing.T) {
	t.Parallel()
	set := NewSet(nil,
		Rule{Name: "broken", Source: `this is not risor {{{`},
		Rule{Name: "not-a-map", Source: `42`},
		Rule{Name: "ok", Source: "m := {\"type\": \"cli\"}\nm"},
	)
	m, ok := set.Match(context.Background(), Input{Path: "x.ts"})
	require.True(t, ok)
	assert.Equal(t, "cli", m.Type)
	assert.Equal(t, "ok", m.Rule)
}

func TestMatch_EmptySet(t *testing.T) {
	t.Parallel()
	var set *Set
	_, ok := set.Match(context.Background(), Input{Path: "x.ts"})
	assert.False(t, ok)
	assert.Equal(t, 0, set.Len())
}

func TestLoadFS_SortedRisorFilesOnly(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"b_worker.risor": {Data: []byte(workerRule)},
		"a_quartz.risor": {Data: []byte(schedulerRule)},
		"README.md":      {Data: []byte("docs")},
	}
	set, err := LoadFS(fsys, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_quartz", "b_worker"}, set.Names())
}

func TestLoad_MissingDir(t *testing.T) {
	t.Parallel()
	set, err := Load(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestLoad_FromDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.risor"), []byte(workerRule), 0o644))
	set, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

const utilModule = `
func job(fw) {
	return {"type": "job", "framework": fw}
}
`

func TestLoadFS_LibModulesImportable(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"queue.risor":    {Data: []byte("import util\nutil.job(\"bull\")\n")},
		"lib/util.risor": {Data: []byte(utilModule)},
	}
	set, err := LoadFS(fsys, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"queue"}, set.Names())

	m, ok := set.Match(context.Background(), Input{Path: "jobs/mail.ts", Language: "typescript"})
	require.True(t, ok)
	assert.Equal(t, "job", m.Type)
	assert.Equal(t, "bull", m.Framework)
	assert.Equal(t, "queue", m.Rule)
}
