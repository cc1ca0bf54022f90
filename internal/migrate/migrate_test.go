package migrate

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	src := `-- header
CREATE TABLE a (
  id INT
);

CREATE INDEX idx_a ON a (id);
INSERT INTO a VALUES (1)`

	got := SplitStatements(src)
	require.Len(t, got, 3)
	assert.Equal(t, "CREATE TABLE a (\n  id INT\n)", got[0])
	assert.Equal(t, "CREATE INDEX idx_a ON a (id)", got[1])
	assert.Equal(t, "INSERT INTO a VALUES (1)", got[2])
}

func TestApplyDir_SkipsAppliedAndRecordsNew(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.sql"), []byte("CREATE TABLE a (id INT);\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_b.sql"), []byte("CREATE TABLE b (id INT);\nCREATE TABLE c (id INT);\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM schema_migrations WHERE name = $1")).
		WithArgs("0001_a.sql").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.sql"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM schema_migrations WHERE name = $1")).
		WithArgs("0002_b.sql").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE c (id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (name) VALUES ($1)")).
		WithArgs("0002_b.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ApplyDir(context.Background(), db, dir, Options{Dialect: "postgres"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
