// Package masking rewrites sensitive cells of a ResultSet using the masking
// rules configured for the instance the query ran against.
package masking

import (
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
)

// ItemKind is the shape of one select item.
type ItemKind int

const (
	// ItemColumn is a plain column reference.
	ItemColumn ItemKind = iota
	// ItemStar is an unqualified or table qualified star.
	ItemStar
	// ItemAggregate is an aggregate over one plain column, e.g. MAX(phone).
	ItemAggregate
	// ItemFunction is a single argument function over one plain column.
	ItemFunction
	// ItemLiteral reads no column at all, e.g. 1, NOW() or COUNT(*).
	ItemLiteral
	// ItemOther is anything masking cannot trace back to a column.
	ItemOther
)

func (k ItemKind) String() string {
	switch k {
	case ItemColumn:
		return "column"
	case ItemStar:
		return "star"
	case ItemAggregate:
		return "aggregate"
	case ItemFunction:
		return "function"
	case ItemLiteral:
		return "literal"
	default:
		return "other"
	}
}

// SelectItem is one entry of a select list.
type SelectItem struct {
	Kind ItemKind
	// Qualifier is the table name or alias the item is qualified with.
	Qualifier string
	// Column is the referenced column; empty for stars and ItemOther.
	Column string
	Alias  string
	// Text is the item rendered back to SQL, used in error messages.
	Text string
}

// TableRef is one table referenced in FROM.
type TableRef struct {
	Schema string
	Name   string
	Alias  string
}

// Matches reports whether qualifier names this table.
func (t TableRef) Matches(qualifier string) bool {
	if qualifier == "" {
		return false
	}
	if t.Alias != "" {
		return strings.EqualFold(t.Alias, qualifier)
	}
	return strings.EqualFold(t.Name, qualifier)
}

// ParsedQuery is the part of a query tree masking needs.
type ParsedQuery struct {
	SQL    string
	Items  []SelectItem
	Tables []TableRef
	// Branches holds every SELECT of a UNION in order. Items then lists the
	// first branch and Tables those of all branches.
	Branches []*ParsedQuery
}

// Stars returns the positions of star items.
func (p *ParsedQuery) Stars() []int {
	var idx []int
	for i, it := range p.Items {
		if it.Kind == ItemStar {
			idx = append(idx, i)
		}
	}
	return idx
}

// Table resolves a qualifier to a table. An empty qualifier resolves only
// when exactly one table is referenced.
func (p *ParsedQuery) Table(qualifier string) (TableRef, bool) {
	if qualifier == "" {
		if len(p.Tables) == 1 {
			return p.Tables[0], true
		}
		return TableRef{}, false
	}
	for _, t := range p.Tables {
		if t.Matches(qualifier) {
			return t, true
		}
	}
	return TableRef{}, false
}

var aggregates = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"group_concat": true, "any_value": true,
}

// ParseQuery parses a single SELECT into select items and table references.
// Each branch of a UNION is kept with its own select list and tables.
func ParseQuery(sql string) (*ParsedQuery, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeUnsupportedQueryShape, "query cannot be parsed for masking")
	}

	var branches []*ParsedQuery
	if err := addBranches(stmt, &branches); err != nil {
		return nil, err
	}
	if len(branches) == 1 {
		branches[0].SQL = sql
		return branches[0], nil
	}

	p := &ParsedQuery{SQL: sql, Items: branches[0].Items, Branches: branches}
	for _, b := range branches {
		p.Tables = append(p.Tables, b.Tables...)
	}
	return p, nil
}

func addBranches(stmt sqlparser.Statement, out *[]*ParsedQuery) error {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		b := &ParsedQuery{SQL: sqlparser.String(s)}
		for _, expr := range s.SelectExprs {
			b.Items = append(b.Items, selectItem(expr))
		}
		b.addTables(s.From)
		*out = append(*out, b)
		return nil
	case *sqlparser.Union:
		if err := addBranches(s.Left, out); err != nil {
			return err
		}
		return addBranches(s.Right, out)
	case *sqlparser.ParenSelect:
		return addBranches(s.Select, out)
	default:
		return gerrors.Newf(gerrors.CodeUnsupportedQueryShape, "masking supports SELECT only, got %T", stmt)
	}
}

func (p *ParsedQuery) addTables(exprs sqlparser.TableExprs) {
	for _, expr := range exprs {
		switch t := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			name, ok := t.Expr.(sqlparser.TableName)
			if !ok {
				// derived tables hide their columns behind the alias
				p.Tables = append(p.Tables, TableRef{Alias: t.As.String()})
				continue
			}
			p.Tables = append(p.Tables, TableRef{
				Schema: name.Qualifier.String(),
				Name:   name.Name.String(),
				Alias:  t.As.String(),
			})
		case *sqlparser.JoinTableExpr:
			p.addTables(sqlparser.TableExprs{t.LeftExpr, t.RightExpr})
		case *sqlparser.ParenTableExpr:
			p.addTables(t.Exprs)
		}
	}
}

func selectItem(expr sqlparser.SelectExpr) SelectItem {
	item := SelectItem{Kind: ItemOther, Text: sqlparser.String(expr)}
	switch e := expr.(type) {
	case *sqlparser.StarExpr:
		item.Kind = ItemStar
		item.Qualifier = e.TableName.Name.String()
	case *sqlparser.AliasedExpr:
		item.Alias = e.As.String()
		switch v := e.Expr.(type) {
		case *sqlparser.ColName:
			item.Kind = ItemColumn
			item.Qualifier = v.Qualifier.Name.String()
			item.Column = v.Name.String()
		case *sqlparser.SQLVal, *sqlparser.NullVal, sqlparser.BoolVal:
			item.Kind = ItemLiteral
		case *sqlparser.FuncExpr:
			col, ok := singleColumn(v.Exprs)
			if !ok {
				if !readsColumn(v) {
					item.Kind = ItemLiteral
				}
				break
			}
			item.Kind = ItemFunction
			if aggregates[v.Name.Lowered()] {
				item.Kind = ItemAggregate
			}
			item.Qualifier = col.Qualifier.Name.String()
			item.Column = col.Name.String()
		}
	}
	return item
}

func singleColumn(args sqlparser.SelectExprs) (*sqlparser.ColName, bool) {
	if len(args) != 1 {
		return nil, false
	}
	arg, ok := args[0].(*sqlparser.AliasedExpr)
	if !ok {
		return nil, false
	}
	col, ok := arg.Expr.(*sqlparser.ColName)
	return col, ok
}

func readsColumn(node sqlparser.SQLNode) bool {
	found := false
	_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
		switch n.(type) {
		case *sqlparser.ColName, *sqlparser.Subquery:
			found = true
			return false, nil
		}
		return true, nil
	}, node)
	return found
}
