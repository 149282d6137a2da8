package node

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-coord/pkg/coord"
)

func TestParseDescriptor(t *testing.T) {
    cases := []struct {
        in       string
        path     string
        data     string
    }{
        {"/a", "/a", ""},
        {"/a=", "/a", ""},
        {"/a=hello", "/a", "hello"},
        {"/a/b=k=v", "/a/b", "k=v"},
    }
    for _, c := range cases {
        d, err := ParseDescriptor(c.in)
        require.NoError(t, err, c.in)
        assert.Equal(t, c.path, d.Path)
        assert.NotNil(t, d.Data)
        assert.Equal(t, c.data, string(d.Data))
    }
}

func TestParseDescriptorFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "payload.json")
    require.NoError(t, os.WriteFile(f, []byte(`{"port":8080}`), 0o600))

    d, err := ParseDescriptor("/svc/node=@" + f)
    require.NoError(t, err)
    assert.Equal(t, `{"port":8080}`, string(d.Data))

    _, err = ParseDescriptor("/svc/node=@" + f + ".missing")
    assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseDescriptorInvalidPath(t *testing.T) {
    _, err := ParseDescriptor("relative=x")
    assert.ErrorIs(t, err, coord.ErrInvalidPath)
}

func TestModeFor(t *testing.T) {
    assert.Equal(t, coord.Ephemeral, ModeFor(false))
    assert.Equal(t, coord.EphemeralSequential, ModeFor(true))
}
