package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup_NoConfig(t *testing.T) {
	path, err := Backup(t.TempDir())

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackup_CopiesContent(t *testing.T) {
	root := writeConfig(t, sample)

	path, err := Backup(root)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestBackup_KeepsNewest(t *testing.T) {
	// Given: more backups than are kept
	root := writeConfig(t, sample)
	var made []string
	for i := 0; i < MaxBackups+2; i++ {
		p, err := Backup(root)
		require.NoError(t, err)
		made = append(made, p)
	}

	// When: listing
	backups, err := ListBackups(root)
	require.NoError(t, err)

	// Then: only the newest MaxBackups remain, newest first
	require.Len(t, backups, MaxBackups)
	assert.Equal(t, made[len(made)-1], backups[0])
}

func TestListBackups_NoDirectory(t *testing.T) {
	backups, err := ListBackups(t.TempDir())

	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestWriteTemplate_ForceBacksUpAndRestores(t *testing.T) {
	// Given: an existing config overwritten with force
	root := writeConfig(t, sample)
	backup, err := WriteTemplate(root, true)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	data, err := os.ReadFile(Path(root))
	require.NoError(t, err)
	assert.Equal(t, Template, string(data))

	// When: restoring the backup
	require.NoError(t, Restore(root, backup))

	// Then: the original content is back
	data, err = os.ReadFile(Path(root))
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestRestore_MissingBackup(t *testing.T) {
	assert.Error(t, Restore(t.TempDir(), "/nonexistent/backup"))
}
