package masking

import (
	"fmt"
	"regexp"
	"strings"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
)

// Placeholder replaces the hidden capture group.
const Placeholder = "****"

type target struct {
	schema, table, column string
}

// Mask applies column scoped masking to rs in place and returns it. Columns
// are traced back to their table through parsed; any select item that cannot
// be traced fails the whole result with UNSUPPORTED_QUERY_SHAPE.
func Mask(instance models.Instance, rs *models.ResultSet, parsed *ParsedQuery, columns []models.MaskingColumn, rules []models.MaskingRule) (*models.ResultSet, error) {
	if rs == nil || rs.Failed() {
		return rs, nil
	}
	columns = forInstance(instance.Name, columns)
	if len(columns) == 0 {
		return rs, nil
	}

	targets, err := resolve(instance, parsed, len(rs.ColumnList), rs.ColumnList, columns)
	if err != nil {
		return nil, err
	}

	compiled := compileRules(rules)
	hit := false
	for idx, t := range targets {
		mc, ok := lookup(columns, t)
		if !ok {
			continue
		}
		rule, ok := compiled[mc.RuleType]
		if !ok {
			continue
		}
		hit = true
		for _, row := range rs.Rows {
			if idx < len(row) {
				var changed bool
				if row[idx], changed = rule.apply(row[idx]); changed {
					rs.MaskedCells++
				}
			}
		}
	}
	rs.IsMasked = true
	rs.MaskRuleHit = hit
	return rs, nil
}

// BruteMask applies every rule to every cell. It needs no query tree and
// is used when the query cannot be parsed.
func BruteMask(rs *models.ResultSet, rules []models.MaskingRule) *models.ResultSet {
	if rs == nil || rs.Failed() {
		return rs
	}
	compiled := compileRules(rules)
	ordered := make([]*compiledRule, 0, len(compiled))
	for _, r := range rules {
		if c, ok := compiled[r.RuleType]; ok {
			ordered = append(ordered, c)
			delete(compiled, r.RuleType)
		}
	}
	for _, row := range rs.Rows {
		for i, cell := range row {
			masked := false
			for _, r := range ordered {
				var changed bool
				if cell, changed = r.apply(cell); changed {
					masked = true
				}
			}
			row[i] = cell
			if masked {
				rs.MaskedCells++
			}
		}
	}
	rs.IsMasked = true
	rs.MaskRuleHit = len(ordered) > 0
	return rs
}

// resolve maps result column positions to the table column they come from.
func resolve(instance models.Instance, parsed *ParsedQuery, width int, names []string, columns []models.MaskingColumn) (map[int]target, error) {
	if parsed == nil {
		return nil, gerrors.New(gerrors.CodeUnsupportedQueryShape, "no query tree to mask against")
	}
	if len(parsed.Branches) > 0 {
		return resolveUnion(instance, parsed, width, names, columns)
	}
	for _, it := range parsed.Items {
		if it.Kind == ItemOther {
			return nil, gerrors.Newf(gerrors.CodeUnsupportedQueryShape,
				"unsupported query shape for masking: %s", it.Text)
		}
	}

	stars := parsed.Stars()
	if len(stars) > 1 {
		return nil, gerrors.Newf(gerrors.CodeUnsupportedQueryShape,
			"unsupported query shape for masking: %d star items in one select list", len(stars))
	}

	out := make(map[int]target, width)
	if len(stars) == 0 {
		if len(parsed.Items) != width {
			return nil, gerrors.Newf(gerrors.CodeUnsupportedQueryShape,
				"select list has %d items but result has %d columns", len(parsed.Items), width)
		}
		for i, it := range parsed.Items {
			if err := place(instance, parsed, it, i, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	// The star covers whatever the named items do not. Items before it keep
	// their index; items after it are fixed from the end of the row.
	star := stars[0]
	after := len(parsed.Items) - star - 1
	span := width - star - after
	if span < 0 {
		return nil, gerrors.Newf(gerrors.CodeUnsupportedQueryShape,
			"select list has %d named items but result has %d columns", len(parsed.Items)-1, width)
	}
	for i := 0; i < star; i++ {
		if err := place(instance, parsed, parsed.Items[i], i, out); err != nil {
			return nil, err
		}
	}
	for i := star + 1; i < len(parsed.Items); i++ {
		if err := place(instance, parsed, parsed.Items[i], width-(len(parsed.Items)-i), out); err != nil {
			return nil, err
		}
	}
	expandStar(instance, parsed, parsed.Items[star], star, span, names, columns, out)
	return out, nil
}

// resolveUnion resolves every branch of a UNION on its own. A result column
// is masked when any branch feeds it from a masked table column.
func resolveUnion(instance models.Instance, parsed *ParsedQuery, width int, names []string, columns []models.MaskingColumn) (map[int]target, error) {
	out := make(map[int]target, width)
	for _, b := range parsed.Branches {
		targets, err := resolve(instance, b, width, names, columns)
		if err != nil {
			return nil, err
		}
		for idx, t := range targets {
			if _, masked := lookup(columns, out[idx]); masked {
				continue
			}
			out[idx] = t
		}
	}
	return out, nil
}

// expandStar places the configured columns of the starred tables inside the
// window [start, start+span). Ordinal positions are used when the star covers
// a single table; otherwise columns are matched by result column name.
func expandStar(instance models.Instance, parsed *ParsedQuery, item SelectItem, start, span int, names []string, columns []models.MaskingColumn, out map[int]target) {
	var tables []TableRef
	if t, ok := parsed.Table(item.Qualifier); ok {
		tables = []TableRef{t}
	} else if item.Qualifier == "" {
		tables = parsed.Tables
	}

	for _, tbl := range tables {
		schema := schemaOf(instance, tbl)
		for _, mc := range columns {
			if !sameTable(mc, schema, tbl.Name) {
				continue
			}
			if len(tables) == 1 && mc.Position > 0 && mc.Position <= span {
				out[start+mc.Position-1] = target{schema, tbl.Name, mc.ColumnName}
				continue
			}
			for i := start; i < start+span && i < len(names); i++ {
				if _, taken := out[i]; taken {
					continue
				}
				if strings.EqualFold(names[i], mc.ColumnName) {
					out[i] = target{schema, tbl.Name, mc.ColumnName}
				}
			}
		}
	}
}

func place(instance models.Instance, parsed *ParsedQuery, it SelectItem, idx int, out map[int]target) error {
	if it.Kind == ItemLiteral {
		return nil
	}
	t, err := columnTarget(instance, parsed, it)
	if err != nil {
		return err
	}
	out[idx] = t
	return nil
}

func columnTarget(instance models.Instance, parsed *ParsedQuery, it SelectItem) (target, error) {
	tbl, ok := parsed.Table(it.Qualifier)
	if !ok {
		if it.Qualifier != "" {
			return target{}, gerrors.Newf(gerrors.CodeUnsupportedQueryShape,
				"unknown table qualifier %q in %s", it.Qualifier, it.Text)
		}
		// unqualified column over a join: the owning table is unknown
		return target{}, gerrors.Newf(gerrors.CodeUnsupportedQueryShape,
			"unsupported query shape for masking: column %s is ambiguous across %d tables", it.Text, len(parsed.Tables))
	}
	if tbl.Name == "" {
		return target{}, gerrors.Newf(gerrors.CodeUnsupportedQueryShape,
			"unsupported query shape for masking: %s reads from a derived table", it.Text)
	}
	return target{schemaOf(instance, tbl), tbl.Name, it.Column}, nil
}

func schemaOf(instance models.Instance, t TableRef) string {
	if t.Schema != "" {
		return t.Schema
	}
	return instance.DefaultSchema
}

func sameTable(mc models.MaskingColumn, schema, table string) bool {
	if !strings.EqualFold(mc.TableName, table) {
		return false
	}
	return mc.TableSchema == "" || schema == "" || strings.EqualFold(mc.TableSchema, schema)
}

func lookup(columns []models.MaskingColumn, t target) (models.MaskingColumn, bool) {
	for _, mc := range columns {
		if sameTable(mc, t.schema, t.table) && strings.EqualFold(mc.ColumnName, t.column) {
			return mc, true
		}
	}
	return models.MaskingColumn{}, false
}

func forInstance(name string, columns []models.MaskingColumn) []models.MaskingColumn {
	var out []models.MaskingColumn
	for _, mc := range columns {
		if mc.Active && (mc.InstanceName == "" || mc.InstanceName == name) {
			out = append(out, mc)
		}
	}
	return out
}

type compiledRule struct {
	re    *regexp.Regexp
	group int
}

// compileRules drops rules whose regex does not compile or whose hide group
// does not exist, so the affected cells keep their value. Rules match
// case-insensitively.
func compileRules(rules []models.MaskingRule) map[string]*compiledRule {
	out := make(map[string]*compiledRule, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.RuleRegex)
		if err != nil || r.HideGroup < 1 || r.HideGroup > re.NumSubexp() {
			continue
		}
		out[r.RuleType] = &compiledRule{re: re, group: r.HideGroup}
	}
	return out
}

// apply masks the first match of the rule in cell. Nil cells and cells the
// regex does not match are returned unchanged.
func (r *compiledRule) apply(cell any) (any, bool) {
	if cell == nil {
		return nil, false
	}
	s := stringify(cell)
	m := r.re.FindStringSubmatchIndex(s)
	if m == nil {
		return cell, false
	}
	lo, hi := m[2*r.group], m[2*r.group+1]
	if lo < 0 {
		return cell, false
	}
	return s[:lo] + Placeholder + s[hi:], true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
