package guardrail

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var ErrNotReadOnly = errors.New("statement is not a read-only SELECT")

// VerifyReadOnly parses sql with the PostgreSQL grammar and accepts exactly one
// SELECT statement without INTO or row locking. Common table expressions must
// be SELECTs as well.
func VerifyReadOnly(sql string) error {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("%w: parse SQL: %v", ErrNotReadOnly, err)
	}
	if len(result.Stmts) != 1 {
		return fmt.Errorf("%w: expected one statement, got %d", ErrNotReadOnly, len(result.Stmts))
	}
	node, ok := result.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return fmt.Errorf("%w: unexpected %T", ErrNotReadOnly, result.Stmts[0].Stmt.Node)
	}
	return verifySelect(node.SelectStmt)
}

func verifySelect(sel *pg_query.SelectStmt) error {
	if sel == nil {
		return nil
	}
	if sel.IntoClause != nil {
		return fmt.Errorf("%w: SELECT INTO creates a table", ErrNotReadOnly)
	}
	if len(sel.LockingClause) > 0 {
		return fmt.Errorf("%w: row locking clause", ErrNotReadOnly)
	}
	if err := verifySelect(sel.Larg); err != nil {
		return err
	}
	if err := verifySelect(sel.Rarg); err != nil {
		return err
	}
	if sel.WithClause == nil {
		return nil
	}
	for _, cte := range sel.WithClause.Ctes {
		expr, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
		if !ok {
			continue
		}
		query, ok := expr.CommonTableExpr.Ctequery.GetNode().(*pg_query.Node_SelectStmt)
		if !ok {
			return fmt.Errorf("%w: data-modifying CTE %q", ErrNotReadOnly, expr.CommonTableExpr.Ctename)
		}
		if err := verifySelect(query.SelectStmt); err != nil {
			return err
		}
	}
	return nil
}
