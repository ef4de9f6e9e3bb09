package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/parley/internal/dispatch"
	"github.com/user/parley/pkg/llm"
)

const databaseMaxRows = 20

// DatabaseQuery answers natural-language questions against a local SQLite
// database. It introspects the schema, asks the model to write a single
// SELECT statement, executes it read-only, and returns the rows.
type DatabaseQuery struct {
	db       *gorm.DB
	provider llm.Provider
}

// NewDatabaseQuery opens the SQLite database at path and creates the tool.
func NewDatabaseQuery(path string, provider llm.Provider) (*DatabaseQuery, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &DatabaseQuery{db: db, provider: provider}, nil
}

func (d *DatabaseQuery) Name() string        { return "search_database" }
func (d *DatabaseQuery) Description() string { return "Search the database for a given english query" }
func (d *DatabaseQuery) Params() []dispatch.Param {
	return []dispatch.Param{
		{Name: "query", Type: "string", Description: "The english query used to search the database", Required: true},
	}
}

func (d *DatabaseQuery) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := dispatch.StringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	schema, err := d.schema(ctx)
	if err != nil {
		return "", fmt.Errorf("introspect schema: %w", err)
	}

	sql, err := d.generateSQL(ctx, schema, query)
	if err != nil {
		return "", fmt.Errorf("generate SQL: %w", err)
	}
	if err := checkReadOnly(sql); err != nil {
		return "", err
	}

	rows, err := d.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		return "", fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("read columns: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(columns, " | "))
	sb.WriteString("\n")

	count := 0
	for rows.Next() && count < databaseMaxRows {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan row: %w", err)
		}
		fields := make([]string, len(values))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			fields[i] = fmt.Sprintf("%v", v)
		}
		sb.WriteString(strings.Join(fields, " | "))
		sb.WriteString("\n")
		count++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate rows: %w", err)
	}

	if count == 0 {
		return fmt.Sprintf("Query %q returned no rows.", sql), nil
	}
	return fmt.Sprintf("Query: %s\nResults (%d rows):\n%s", sql, count, sb.String()), nil
}

// schema returns the CREATE TABLE statements for all user tables.
func (d *DatabaseQuery) schema(ctx context.Context) (string, error) {
	rows, err := d.db.WithContext(ctx).
		Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'").
		Rows()
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var statements []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", err
		}
		statements = append(statements, stmt)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(statements) == 0 {
		return "", fmt.Errorf("database has no tables")
	}
	return strings.Join(statements, ";\n"), nil
}

// generateSQL asks the model to translate the question into one SELECT.
func (d *DatabaseQuery) generateSQL(ctx context.Context, schema, question string) (string, error) {
	prompt := fmt.Sprintf(
		"Given the following SQLite schema:\n\n%s\n\n"+
			"Write a single SQLite SELECT statement that answers the question: %q\n"+
			"Respond with only the SQL statement, no explanation, no code fences.",
		schema, question,
	)
	resp, err := d.provider.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You translate natural language questions into SQLite SELECT statements."},
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		return "", err
	}

	sql := strings.TrimSpace(resp.Content)
	sql = strings.TrimPrefix(sql, "```sql")
	sql = strings.TrimPrefix(sql, "```")
	sql = strings.TrimSuffix(sql, "```")
	return strings.TrimSpace(sql), nil
}

// checkReadOnly rejects anything that is not a plain SELECT.
func checkReadOnly(sql string) error {
	trimmed := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(trimmed, "SELECT") && !strings.HasPrefix(trimmed, "WITH") {
		return fmt.Errorf("generated statement is not a SELECT: %s", sql)
	}
	if strings.Contains(sql, ";") && strings.Index(sql, ";") != len(sql)-1 {
		return fmt.Errorf("generated statement contains multiple statements")
	}
	return nil
}
