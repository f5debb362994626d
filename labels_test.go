package wagonocr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {

	t.Helper()

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadLabels(t *testing.T) {

	labels, err := LoadLabels(writeFile(t, "person\r\n bicycle \ncar\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "bicycle", "car"}, labels)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadCharset(t *testing.T) {

	charset, err := LoadCharset(writeFile(t, "0\n1\nA\n\n \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{CTCBlank, "0", "1", "A", " "}, charset)

	charset, err = LoadCharset(writeFile(t, "blank\n0\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{CTCBlank, "0", "1"}, charset)

	_, err = LoadCharset(writeFile(t, "\n\n"))
	assert.Error(t, err)
}

func TestParseCPUList(t *testing.T) {

	cores, err := ParseCPUList("0-2, 6")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 6}, cores)
	assert.Equal(t, uintptr(0b1000111), CPUCoreMask(cores))

	for _, bad := range []string{"", "a", "3-1", "-1", "1-x", "999"} {
		_, err := ParseCPUList(bad)
		assert.Error(t, err, bad)
	}
}
