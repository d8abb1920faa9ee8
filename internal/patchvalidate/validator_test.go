package patchvalidate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{"empty", "", false},
		{"not a patch at all", "asdf", false},
		{"wrong extension", "ab123456.patcc", false},
		{"digits instead of letters", "11111111.patch", false},
		{"one digit too many", "ab1234567.patch", false},
		{"valid", "ab123456.patch", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkFilename(tt.filename))
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	dir := t.TempDir()
	var v Validator

	dirPath := filepath.Join(dir, "aa111111.patch")
	require.NoError(t, os.Mkdir(dirPath, 0o755))
	_, err := v.Validate(dirPath)
	assert.ErrorIs(t, err, ErrNotAFile)

	_, err = v.Validate(filepath.Join(dir, "aa222222.patch"))
	assert.Error(t, err, "non-existent path should not pass")

	_, err = v.Validate("/")
	assert.ErrorIs(t, err, ErrNoFilename)

	badExt := filepath.Join(dir, "aa333333.pat")
	require.NoError(t, os.WriteFile(badExt, nil, 0o644))
	_, err = v.Validate(badExt)
	assert.ErrorIs(t, err, ErrInvalidFilename)

	file1 := filepath.Join(dir, "aa444444.patch")
	require.NoError(t, os.WriteFile(file1, nil, 0o644))
	subdir := filepath.Join(dir, "dir")
	require.NoError(t, os.Mkdir(subdir, 0o755))
	file2 := filepath.Join(subdir, "aa444444.patch")
	require.NoError(t, os.WriteFile(file2, nil, 0o644))

	patch, err := v.Validate(file1)
	require.NoError(t, err)
	assert.Equal(t, file1, patch.Path)
	assert.Equal(t, "aa444444", patch.ID)

	_, err = v.Validate(file2)
	var seenErr *AlreadySeenError
	require.ErrorAs(t, err, &seenErr)
	assert.Equal(t, file1, seenErr.FirstPath)
}
