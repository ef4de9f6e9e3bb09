package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/user/parley/pkg/llm"
)

// sqlProvider returns a canned SQL statement for any completion request.
type sqlProvider struct {
	sql string
}

func (p *sqlProvider) Complete(_ context.Context, _ []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	return &llm.Response{Content: p.sql}, nil
}

func (p *sqlProvider) Stream(_ context.Context, _ []llm.Message, _ []llm.Tool) (<-chan llm.Delta, error) {
	return nil, nil
}

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Exec("CREATE TABLE cities (name TEXT, population INTEGER)").Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Exec("INSERT INTO cities VALUES ('Paris', 2100000), ('Lyon', 520000)").Error; err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDatabaseQueryInvoke(t *testing.T) {
	path := seedDatabase(t)
	tool, err := NewDatabaseQuery(path, &sqlProvider{
		sql: "SELECT name FROM cities ORDER BY population DESC LIMIT 1",
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := tool.Invoke(context.Background(), map[string]any{"query": "biggest city?"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "Paris") {
		t.Errorf("expected Paris in result, got %q", result)
	}
}

func TestDatabaseQueryRejectsWrites(t *testing.T) {
	path := seedDatabase(t)
	tool, err := NewDatabaseQuery(path, &sqlProvider{sql: "DROP TABLE cities"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tool.Invoke(context.Background(), map[string]any{"query": "destroy"}); err == nil {
		t.Fatal("expected non-SELECT statement to be rejected")
	}
}

func TestDatabaseQueryStripsCodeFences(t *testing.T) {
	path := seedDatabase(t)
	tool, err := NewDatabaseQuery(path, &sqlProvider{
		sql: "```sql\nSELECT COUNT(*) FROM cities\n```",
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := tool.Invoke(context.Background(), map[string]any{"query": "how many cities?"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "2") {
		t.Errorf("expected count in result, got %q", result)
	}
}
