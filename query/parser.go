package query

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"colreduce/columnar"
	"colreduce/reduction"
)

// ErrUnsupported is returned for SQL outside the aggregate subset:
// SELECT agg(col)[::type] [, ...] FROM table
var ErrUnsupported = errors.New("unsupported query")

// Aggregate is one reduction in the select list
type Aggregate struct {
	Kind   reduction.Kind
	Column string // empty for count(*)
	Star   bool
	// Output is the cast target; zero when HasOutput is false
	Output    columnar.DataType
	HasOutput bool
	Alias     string
}

// Query is a parsed aggregate query over one table
type Query struct {
	SQL        string
	Table      string
	Aggregates []Aggregate
}

// postgres spellings that differ from columnar.ParseDataType
var pgTypeNames = map[string]columnar.DataType{
	"int2":    columnar.DataTypeInt16,
	"int4":    columnar.DataTypeInt32,
	"int8":    columnar.DataTypeInt64,
	"float4":  columnar.DataTypeFloat32,
	"float8":  columnar.DataTypeFloat64,
	"bool":    columnar.DataTypeBool,
	"text":    columnar.DataTypeString,
	"varchar": columnar.DataTypeString,
	"bpchar":  columnar.DataTypeString,
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

// Parse parses a single aggregate SELECT statement
func Parse(sql string) (*Query, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL: %w", err)
	}
	if len(result.Stmts) == 0 {
		return nil, fmt.Errorf("no statements found in SQL")
	}
	if len(result.Stmts) > 1 {
		return nil, unsupported("%d statements", len(result.Stmts))
	}

	stmt := result.Stmts[0].Stmt.GetSelectStmt()
	if stmt == nil {
		return nil, unsupported("only SELECT statements")
	}
	if err := checkClauses(stmt); err != nil {
		return nil, err
	}

	query := &Query{SQL: sql}
	alias, err := parseFrom(stmt.FromClause, query)
	if err != nil {
		return nil, err
	}

	if len(stmt.TargetList) == 0 {
		return nil, unsupported("empty select list")
	}
	// explicit aliases are reserved first so generated names step around
	// them wherever they appear in the list
	taken := make(map[string]bool)
	for _, target := range stmt.TargetList {
		resTarget := target.GetResTarget()
		if resTarget == nil {
			return nil, unsupported("select list entry")
		}
		if name := resTarget.Name; name != "" {
			if taken[name] {
				return nil, unsupported("duplicate column name %q", name)
			}
			taken[name] = true
		}
	}

	for _, target := range stmt.TargetList {
		resTarget := target.GetResTarget()
		agg, err := parseTarget(resTarget, query.Table, alias)
		if err != nil {
			return nil, err
		}
		if resTarget.Name == "" {
			agg.Alias = uniqueName(agg.Alias, taken)
			taken[agg.Alias] = true
		}
		query.Aggregates = append(query.Aggregates, agg)
	}
	return query, nil
}

// uniqueName returns name, or name_1, name_2... when it is already taken
func uniqueName(name string, taken map[string]bool) string {
	candidate := name
	for n := 1; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
	return candidate
}

func checkClauses(stmt *pg_query.SelectStmt) error {
	switch {
	case stmt.Op != pg_query.SetOperation_SETOP_NONE:
		return unsupported("set operations")
	case stmt.WithClause != nil:
		return unsupported("WITH clause")
	case len(stmt.DistinctClause) > 0:
		return unsupported("SELECT DISTINCT")
	case stmt.WhereClause != nil:
		return unsupported("WHERE clause")
	case len(stmt.GroupClause) > 0:
		return unsupported("GROUP BY")
	case stmt.HavingClause != nil:
		return unsupported("HAVING")
	case len(stmt.SortClause) > 0:
		return unsupported("ORDER BY")
	case stmt.LimitCount != nil || stmt.LimitOffset != nil:
		return unsupported("LIMIT/OFFSET")
	}
	return nil
}

// parseFrom fills the table name and returns its alias
func parseFrom(fromClause []*pg_query.Node, query *Query) (string, error) {
	if len(fromClause) != 1 {
		return "", unsupported("FROM must name exactly one table")
	}
	rangeVar := fromClause[0].GetRangeVar()
	if rangeVar == nil {
		return "", unsupported("FROM must name a table")
	}
	if rangeVar.Schemaname != "" || rangeVar.Catalogname != "" {
		return "", unsupported("qualified table name %s.%s", rangeVar.Schemaname, rangeVar.Relname)
	}
	query.Table = rangeVar.Relname
	if rangeVar.Alias != nil {
		return rangeVar.Alias.Aliasname, nil
	}
	return "", nil
}

func parseTarget(resTarget *pg_query.ResTarget, table, alias string) (Aggregate, error) {
	var agg Aggregate

	val := resTarget.Val
	if typeCast := val.GetTypeCast(); typeCast != nil {
		dt, err := parseTypeName(typeCast.TypeName)
		if err != nil {
			return agg, err
		}
		agg.Output = dt
		agg.HasOutput = true
		val = typeCast.Arg
	}

	funcCall := val.GetFuncCall()
	if funcCall == nil {
		return agg, unsupported("select list entries must be aggregate calls")
	}
	if funcCall.Over != nil || funcCall.AggFilter != nil || funcCall.AggDistinct ||
		len(funcCall.AggOrder) > 0 || funcCall.AggWithinGroup {
		return agg, unsupported("window, FILTER, DISTINCT or ordered aggregates")
	}

	var funcName string
	if n := len(funcCall.Funcname); n > 0 {
		if str := funcCall.Funcname[n-1].GetString_(); str != nil {
			funcName = str.Sval
		}
	}
	kind, err := reduction.ParseKind(funcName)
	if err != nil {
		return agg, unsupported("aggregate %q", funcName)
	}
	agg.Kind = kind

	switch {
	case funcCall.AggStar:
		if kind != reduction.KindCount {
			return agg, unsupported("%s(*)", funcName)
		}
		agg.Star = true
	case len(funcCall.Args) == 1:
		column, err := parseColumnRef(funcCall.Args[0], table, alias)
		if err != nil {
			return agg, err
		}
		agg.Column = column
	default:
		return agg, unsupported("%s takes one column argument", funcName)
	}

	agg.Alias = resTarget.Name
	if agg.Alias == "" {
		if agg.Star {
			agg.Alias = strings.ToLower(funcName)
		} else {
			agg.Alias = strings.ToLower(funcName) + "_" + agg.Column
		}
	}
	return agg, nil
}

func parseColumnRef(node *pg_query.Node, table, alias string) (string, error) {
	columnRef := node.GetColumnRef()
	if columnRef == nil {
		return "", unsupported("aggregate argument must be a column")
	}

	var parts []string
	for _, field := range columnRef.Fields {
		str := field.GetString_()
		if str == nil {
			return "", unsupported("aggregate argument must be a column")
		}
		parts = append(parts, str.Sval)
	}

	switch len(parts) {
	case 1:
		return parts[0], nil
	case 2:
		if parts[0] != table && (alias == "" || parts[0] != alias) {
			return "", fmt.Errorf("unknown table reference %q", parts[0])
		}
		return parts[1], nil
	}
	return "", unsupported("column reference %s", strings.Join(parts, "."))
}

func parseTypeName(typeName *pg_query.TypeName) (columnar.DataType, error) {
	if typeName == nil || len(typeName.Names) == 0 {
		return 0, unsupported("cast without a type")
	}
	if len(typeName.ArrayBounds) > 0 {
		return 0, unsupported("array casts")
	}

	var names []string
	for _, n := range typeName.Names {
		if str := n.GetString_(); str != nil {
			names = append(names, str.Sval)
		}
	}
	if len(names) == 0 {
		return 0, unsupported("cast without a type")
	}

	name := names[len(names)-1]
	if dt, ok := pgTypeNames[strings.ToLower(name)]; ok {
		return dt, nil
	}
	dt, err := columnar.ParseDataType(name)
	if err != nil {
		return 0, unsupported("cast to %s", name)
	}
	return dt, nil
}
