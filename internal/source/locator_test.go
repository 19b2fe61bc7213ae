package source

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
}

func names(files []File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func TestLocateFirstRootWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/app/migrations/002_posts.sql":  "CREATE TABLE posts (id int);",
		"/core/migrations/001_users.sql": "CREATE TABLE users (id int);",
		"/core/migrations/002_posts.sql": "CREATE TABLE posts_old (id int);",
		"/core/migrations/003_tags.sql":  "CREATE TABLE tags (id int);",
	})

	files, err := NewLocator(fs, nil).Locate([]string{"/app/migrations", "/core/migrations"}, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_users.sql", "002_posts.sql", "003_tags.sql"}, names(files))
	assert.Equal(t, "/app/migrations/002_posts.sql", files[1].Path)
}

func TestLocateEngineOverlay(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/m/001_generic.sql":       "SELECT 1;",
		"/m/mysql/001_mysql.sql":   "SELECT 1;",
		"/m/mysql/002_mysql.sql":   "SELECT 2;",
		"/m/postgres/001_pg.sql":   "SELECT 1;",
		"/other/004_shared.sql":    "SELECT 4;",
		"/other/sqlite/notes.txt":  "not sql",
		"/other/sqlite/005_lt.sql": "SELECT 5;",
	})
	l := NewLocator(fs, nil)

	files, err := l.Locate([]string{"/m", "/other"}, "mysql")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_mysql.sql", "002_mysql.sql", "004_shared.sql"}, names(files))

	files, err = l.Locate([]string{"/m", "/other"}, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_generic.sql", "005_lt.sql"}, names(files))
}

func TestLocateFiltersAndSortsBytewise(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/m/b.sql":      "",
		"/m/B.sql":      "",
		"/m/10_x.sql":   "",
		"/m/9_x.sql":    "",
		"/m/readme.md":  "",
		"/m/backup.SQL": "",
	})
	require.NoError(t, fs.MkdirAll("/m/dir.sql", 0o755))

	files, err := NewLocator(fs, nil).Locate([]string{"/m"}, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"10_x.sql", "9_x.sql", "B.sql", "b.sql"}, names(files))
}

func TestLocateMissingAndEmptyRoots(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/empty", 0o755))

	files, err := NewLocator(fs, nil).Locate([]string{"/missing", "/empty"}, "sqlite")
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = NewLocator(fs, nil).Locate(nil, "sqlite")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocateIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := map[string]string{}
	for _, n := range []string{"005", "001", "004", "002", "003"} {
		content["/a/"+n+".sql"] = n
		content["/b/"+n+"_b.sql"] = n
	}
	writeFiles(t, fs, content)
	l := NewLocator(fs, nil)

	first, err := l.Locate([]string{"/a", "/b"}, "sqlite")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := l.Locate([]string{"/a", "/b"}, "sqlite")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLoadAllComputesChecksums(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/m/001.sql": "CREATE TABLE a (id int);\n",
		"/m/002.sql": "CREATE TABLE b (id int);\r\n",
	})

	migrations, err := NewLocator(fs, nil).LoadAll([]string{"/m"}, "sqlite")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "CREATE TABLE a (id int);\n", migrations[0].Content)
	assert.Equal(t, Checksum([]byte(migrations[0].Content)), migrations[0].Checksum)
	assert.Len(t, migrations[1].Checksum, 64)
}

func TestChecksum(t *testing.T) {
	lf := Checksum([]byte("SELECT 1;\nSELECT 2;\n"))
	crlf := Checksum([]byte("SELECT 1;\r\nSELECT 2;\r\n"))
	assert.Equal(t, lf, crlf)
	assert.NotEqual(t, lf, Checksum([]byte("SELECT 1;\nSELECT 3;\n")))
	assert.Len(t, lf, 64)
	assert.Equal(t, strings.ToLower(lf), lf)
	// sha256("") is well known.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))
}
