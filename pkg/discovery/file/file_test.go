package file

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestEnvOverridesFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "endpoints.txt")
    require.NoError(t, os.WriteFile(f, []byte("a:1\n"), 0o644))

    const envName = "TEST_COORD_ENDPOINTS"
    t.Setenv(envName, "y:8,x:9")

    r := New(Options{Path: f, Env: envName, Refresh: 5 * time.Millisecond})
    assert.Equal(t, []string{"x:9", "y:8"}, r.Endpoints())
}

func TestFileReadAndRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "endpoints.txt")
    require.NoError(t, os.WriteFile(f, []byte("# etcd\na:1\nb:2\n"), 0o644))

    r := New(Options{Path: f, Refresh: 10 * time.Millisecond})
    assert.Equal(t, []string{"a:1", "b:2"}, r.Endpoints())

    require.NoError(t, os.WriteFile(f, []byte("b:2, c:3\n"), 0o644))
    time.Sleep(15 * time.Millisecond)
    assert.Equal(t, []string{"b:2", "c:3"}, r.Endpoints())
}

func TestGlobMergesUniqueSorted(t *testing.T) {
    dir := t.TempDir()
    require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a:1\nb:2\n"), 0o644))
    require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b:2\nc:3\n"), 0o644))

    r := New(Options{Path: filepath.Join(dir, "*.txt"), Refresh: 5 * time.Millisecond})
    assert.Equal(t, []string{"a:1", "b:2", "c:3"}, r.Endpoints())
}
