package gormsource

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

// Filter is the args value understood by Fetcher.
//
// The rows matched are those satisfying every Where condition and, if AnyOf
// is not empty, every condition of at least one AnyOf group:
//
//	(W1 AND W2) AND ((A11 AND A12) OR (A21))
type Filter struct {
	// Where conditions joined by AND.
	Where []Condition `json:"where,omitempty"`
	// AnyOf alternative condition groups joined by OR.
	AnyOf [][]Condition `json:"anyOf,omitempty"`
	// Sort strings of the form "column asc|desc". Columns are aliases
	// resolved through the fetcher ColumnMapping.
	Sort []string `json:"sort,omitempty"`
}

// Condition is a single comparison "Column Operator Value".
type Condition struct {
	Column   string   `json:"c"`
	Operator Operator `json:"o"`
	Value    any      `json:"v"`
}

type (
	tConjunct struct {
		Column   string
		Value    any
		Operator Operator
	}

	// tDisjunct is a list of conjuncts joined by AND.
	tDisjunct []tConjunct

	// tDNF is a disjunctive normal form: disjuncts joined by OR.
	tDNF []tDisjunct
)

// expression compiles the filter conditions with column aliases resolved
// through mapping. Returns nil if the filter has no conditions.
func (f *Filter) expression(mapping ColumnMapping) (clause.Expression, error) {
	where, anyOf, err := f.compile(mapping)
	if err != nil {
		return nil, err
	}

	exprs := lo.Compact([]clause.Expression{where.toGORMExpression(), anyOf.toGORMExpression()})
	switch len(exprs) {
	case 0:
		return nil, nil
	case 1:
		return exprs[0], nil
	default:
		return clause.And(exprs...), nil
	}
}

// ToSQL returns the filter as an SQL condition with "?" placeholders.
//
// Usage:
//
//	cond, vars, err := filter.ToSQL(mapping)
//	query := fmt.Sprintf("SELECT * FROM table WHERE %s", cond)
func (f *Filter) ToSQL(mapping ColumnMapping) (string, []driver.Value, error) {
	where, anyOf, err := f.compile(mapping)
	if err != nil {
		return "", nil, err
	}

	whereSQL, whereVals := where.toSQLClause()
	anyOfSQL, anyOfVals := "", []driver.Value(nil)
	if len(anyOf) > 0 {
		anyOfSQL, anyOfVals = anyOf.toSQLClause()
	}

	parts := lo.Compact([]string{whereSQL, anyOfSQL})
	if len(parts) == 0 {
		return "TRUE", nil, nil
	}

	return strings.Join(parts, " AND "), append(whereVals, anyOfVals...), nil
}

func (f *Filter) compile(mapping ColumnMapping) (tDisjunct, tDNF, error) {
	if f == nil {
		return nil, nil, nil
	}

	where, err := compileConditions(f.Where, mapping)
	if err != nil {
		return nil, nil, err
	}

	anyOf := make(tDNF, 0, len(f.AnyOf))
	for _, group := range f.AnyOf {
		disjunct, err := compileConditions(group, mapping)
		if err != nil {
			return nil, nil, err
		}
		anyOf = append(anyOf, disjunct)
	}

	return where, anyOf, nil
}

func compileConditions(conditions []Condition, mapping ColumnMapping) (tDisjunct, error) {
	ret := make(tDisjunct, 0, len(conditions))
	for _, cond := range conditions {
		if !cond.Operator.Valid() {
			return nil, fmt.Errorf("invalid filter operator '%s'", cond.Operator)
		}

		column, err := resolveColumn(cond.Column, mapping)
		if err != nil {
			return nil, err
		}

		ret = append(ret, tConjunct{
			Column:   column,
			Value:    cond.Value,
			Operator: cond.Operator,
		})
	}

	return ret, nil
}

// toGORMExpression converts a conjunct into "Column Operator ?".
func (c tConjunct) toGORMExpression() clause.Expression {
	sqlClause, arg := c.toSQLClause()

	return clause.Expr{
		SQL:  sqlClause,
		Vars: []any{arg},
	}
}

// toSQLClause converts a conjunct into an SQL condition with a placeholder.
//
// Example:
//
//	tConjunct = { Column: "id", Operator: ">", Value: 123}
//
// Result:
//
//	("id > ?", 123)
func (c tConjunct) toSQLClause() (string, driver.Value) {
	return fmt.Sprintf("%s %s ?", c.Column, c.Operator), parseAnyValue(c.Value)
}

// parseAnyValue turns RFC 3339 strings into time.Time: filter values often
// arrive from JSON where timestamps are strings.
func parseAnyValue(v any) any {
	fnParseBytesToTimeOrValue := func(vBytes []byte) any {
		dst := time.Time{}
		err := dst.UnmarshalText(vBytes)
		if err == nil {
			return dst
		}

		return v
	}

	switch vt := v.(type) {
	case string:
		return fnParseBytesToTimeOrValue([]byte(vt))
	case []byte:
		return fnParseBytesToTimeOrValue(vt)
	default:
		return v
	}
}

// toGORMExpression joins the conjuncts with AND. Returns nil when empty.
func (d tDisjunct) toGORMExpression() clause.Expression {
	andExpressions := lo.Map(d, func(c tConjunct, _ int) clause.Expression {
		return c.toGORMExpression()
	})

	if len(andExpressions) == 1 {
		return andExpressions[0]
	} else if len(andExpressions) > 1 {
		return clause.And(andExpressions...)
	}

	return nil
}

// toSQLClause converts the conjuncts into "(K1 AND K2 AND K3)".
func (d tDisjunct) toSQLClause() (string, []driver.Value) {
	andClauses := make([]string, 0, len(d))
	andValues := make([]driver.Value, 0, len(d))

	for _, conjunct := range d {
		andClause, andValue := conjunct.toSQLClause()
		andClauses = append(andClauses, andClause)
		andValues = append(andValues, andValue)
	}

	if len(andClauses) >= 1 {
		return fmt.Sprintf("(%s)", strings.Join(andClauses, " AND ")), andValues
	}

	return "", nil
}

// toGORMExpression joins non-empty disjuncts with OR. Returns nil when
// nothing remains.
func (d tDNF) toGORMExpression() clause.Expression {
	orExpressions := make([]clause.Expression, 0, len(d))

	for _, disjunct := range d {
		andExpressions := disjunct.toGORMExpression()
		if andExpressions == nil {
			continue
		}

		orExpressions = append(orExpressions, andExpressions)
	}

	if len(orExpressions) == 1 {
		return orExpressions[0]
	} else if len(orExpressions) > 1 {
		return clause.Or(orExpressions...)
	}

	return nil
}

// toSQLClause converts the DNF into "((K1 AND K2) OR (K3))". An empty DNF is
// "TRUE".
func (d tDNF) toSQLClause() (string, []driver.Value) {
	orClauses := make([]string, 0, len(d))
	values := make([]driver.Value, 0, len(d))

	for _, disjunct := range d {
		orClause, orValues := disjunct.toSQLClause()
		if orClause == "" {
			continue
		}

		orClauses = append(orClauses, orClause)
		values = append(values, orValues...)
	}

	if len(orClauses) >= 1 {
		return fmt.Sprintf("(%s)", strings.Join(orClauses, " OR ")), values
	}

	return "TRUE", nil
}
