package gpio

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs lays out a GPIO class directory in a temp dir.
func fakeSysfs(t *testing.T, pins ...int) Sysfs {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"export", "unexport"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0o644))
	}
	for _, n := range pins {
		dir := filepath.Join(root, "gpio"+strconv.Itoa(n))
		require.NoError(t, os.Mkdir(dir, 0o755))
		for name, content := range map[string]string{
			"direction":  "out",
			"edge":       "none",
			"active_low": "0",
			"value":      "1\n",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
		}
	}
	return Sysfs{Root: root, VerifyTimeout: -1}
}

func readAttr(t *testing.T, s Sysfs, n int, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(s.pinDir(n), name))
	require.NoError(t, err)
	return string(b)
}

func setValue(t *testing.T, s Sysfs, n int, v string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.pinDir(n), "value"), []byte(v+"\n"), 0o644))
}

func TestOpenInput_ConfiguresPin(t *testing.T) {
	s := fakeSysfs(t, 22)

	p, err := s.OpenInput(22, true)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 22, p.Number())
	assert.Equal(t, "in", readAttr(t, s, 22, "direction"))
	assert.Equal(t, "both", readAttr(t, s, 22, "edge"))
	assert.Equal(t, "1", readAttr(t, s, 22, "active_low"))

	exp, err := os.ReadFile(filepath.Join(s.Root, "export"))
	require.NoError(t, err)
	assert.Empty(t, exp, "already exported pins are not exported again")
}

func TestOpenInput_ActiveHigh(t *testing.T) {
	s := fakeSysfs(t, 5)
	p, err := s.OpenInput(5, false)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "0", readAttr(t, s, 5, "active_low"))
}

func TestPin_Value(t *testing.T) {
	s := fakeSysfs(t, 21)
	p, err := s.OpenInput(21, false)
	require.NoError(t, err)
	defer p.Close()

	v, err := p.Value()
	require.NoError(t, err)
	assert.True(t, v)

	setValue(t, s, 21, "0")
	v, err = p.Value()
	require.NoError(t, err)
	assert.False(t, v)

	setValue(t, s, 21, "x")
	_, err = p.Value()
	assert.ErrorContains(t, err, "unknown value")
}

func TestPin_CloseUnexports(t *testing.T) {
	s := fakeSysfs(t, 17)
	p, err := s.OpenInput(17, false)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	b, err := os.ReadFile(filepath.Join(s.Root, "unexport"))
	require.NoError(t, err)
	assert.Equal(t, "17", string(b))
}

func TestOpenInput_ExportsMissingPin(t *testing.T) {
	s := fakeSysfs(t)

	// The fake kernel never creates the pin directory, so opening fails
	// after the export write and the pin is unexported again.
	_, err := s.OpenInput(4, false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "gpio4")

	exp, err := os.ReadFile(filepath.Join(s.Root, "export"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(exp))

	unexp, err := os.ReadFile(filepath.Join(s.Root, "unexport"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(unexp))
}

func TestOpenInput_RejectsNegativePin(t *testing.T) {
	s := fakeSysfs(t)
	_, err := s.OpenInput(-1, false)
	assert.Error(t, err)
}

func TestSysfs_DefaultRoot(t *testing.T) {
	assert.Equal(t, filepath.Join(DefaultRoot, "gpio9"), Sysfs{}.pinDir(9))
}
