// Package sqlparse extracts table names from SQL text. The lineage builder
// uses it as a secondary signal to separate view references from the base
// tables the audit trail conflates them with.
package sqlparse

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// TableParser is the capability the lineage builder depends on. Failure is a
// returned error, never a panic; the builder downgrades it to a counted skip.
type TableParser interface {
	ParseTables(sql string) ([]string, error)
}

// PostgresParser parses SQL with the PostgreSQL grammar (pg_query_go).
// BigQuery standard SQL is close enough for table-name extraction; backtick
// quoting is rewritten to double quotes before parsing. Queries the grammar
// rejects surface as parse errors.
type PostgresParser struct{}

// ParseTables returns the deduplicated list of table names referenced in
// FROM clauses, JOINs, subqueries, and DML targets. Qualified names keep
// their qualifiers joined with dots.
func (PostgresParser) ParseTables(sql string) ([]string, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("empty query text")
	}
	result, err := pg_query.Parse(strings.ReplaceAll(sql, "`", `"`))
	if err != nil {
		return nil, fmt.Errorf("parse SQL: %w", err)
	}

	seen := make(map[string]bool)
	var tables []string
	for _, stmt := range result.Stmts {
		collectFromNode(stmt.Stmt, seen, &tables)
	}
	return tables, nil
}

// collectFromNode recursively walks a parse tree node, collecting table names
// from RangeVar references.
func collectFromNode(node *pg_query.Node, seen map[string]bool, tables *[]string) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		collectFromSelect(n.SelectStmt, seen, tables)
	case *pg_query.Node_InsertStmt:
		addRangeVar(n.InsertStmt.Relation, seen, tables)
		if n.InsertStmt.SelectStmt != nil {
			collectFromNode(n.InsertStmt.SelectStmt, seen, tables)
		}
	case *pg_query.Node_UpdateStmt:
		addRangeVar(n.UpdateStmt.Relation, seen, tables)
		for _, from := range n.UpdateStmt.FromClause {
			collectFromFromNode(from, seen, tables)
		}
	case *pg_query.Node_DeleteStmt:
		addRangeVar(n.DeleteStmt.Relation, seen, tables)
	case *pg_query.Node_CreateTableAsStmt:
		if n.CreateTableAsStmt.Into != nil {
			addRangeVar(n.CreateTableAsStmt.Into.Rel, seen, tables)
		}
		collectFromNode(n.CreateTableAsStmt.Query, seen, tables)
	}
}

// collectFromSelect handles SELECT statements, including set operations and
// CTE bodies.
func collectFromSelect(sel *pg_query.SelectStmt, seen map[string]bool, tables *[]string) {
	if sel == nil {
		return
	}

	// UNION/INTERSECT/EXCEPT arms
	if sel.Larg != nil {
		collectFromSelect(sel.Larg, seen, tables)
	}
	if sel.Rarg != nil {
		collectFromSelect(sel.Rarg, seen, tables)
	}

	for _, from := range sel.FromClause {
		collectFromFromNode(from, seen, tables)
	}

	collectFromExpr(sel.WhereClause, seen, tables)
	collectFromExpr(sel.HavingClause, seen, tables)
	for _, target := range sel.TargetList {
		collectFromExpr(target, seen, tables)
	}

	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				collectFromNode(c.CommonTableExpr.Ctequery, seen, tables)
			}
		}
	}
}

// collectFromFromNode handles nodes in FROM clauses.
func collectFromFromNode(node *pg_query.Node, seen map[string]bool, tables *[]string) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		addRangeVar(n.RangeVar, seen, tables)
	case *pg_query.Node_JoinExpr:
		collectFromFromNode(n.JoinExpr.Larg, seen, tables)
		collectFromFromNode(n.JoinExpr.Rarg, seen, tables)
	case *pg_query.Node_RangeSubselect:
		collectFromNode(n.RangeSubselect.Subquery, seen, tables)
	case *pg_query.Node_RangeFunction:
		// Table-valued functions are not real tables.
	}
}

// collectFromExpr walks expression nodes looking for subqueries.
func collectFromExpr(node *pg_query.Node, seen map[string]bool, tables *[]string) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SubLink:
		collectFromNode(n.SubLink.Subselect, seen, tables)
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			collectFromExpr(arg, seen, tables)
		}
	case *pg_query.Node_AExpr:
		collectFromExpr(n.AExpr.Lexpr, seen, tables)
		collectFromExpr(n.AExpr.Rexpr, seen, tables)
	case *pg_query.Node_ResTarget:
		collectFromExpr(n.ResTarget.Val, seen, tables)
	}
}

// addRangeVar records a table reference, keeping qualifiers joined with dots.
func addRangeVar(rv *pg_query.RangeVar, seen map[string]bool, tables *[]string) {
	if rv == nil || rv.Relname == "" {
		return
	}
	var parts []string
	if rv.Catalogname != "" {
		parts = append(parts, rv.Catalogname)
	}
	if rv.Schemaname != "" {
		parts = append(parts, rv.Schemaname)
	}
	parts = append(parts, rv.Relname)
	name := strings.Join(parts, ".")
	if seen[name] {
		return
	}
	seen[name] = true
	*tables = append(*tables, name)
}
