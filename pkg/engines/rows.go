package engines

import (
	"database/sql"
	"time"

	"github.com/TFMV/sqlgate/pkg/models"
)

// ScanRows reads rows into a result set, keeping at most limit rows when
// limit is positive. Byte slices become strings so results serialize and mask
// as text. rows is closed.
func ScanRows(rows *sql.Rows, rs *models.ResultSet, limit int) error {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	rs.ColumnList = cols

	if types, err := rows.ColumnTypes(); err == nil {
		rs.ColumnTypes = make([]string, len(types))
		for i, t := range types {
			rs.ColumnTypes[i] = t.DatabaseTypeName()
		}
	}

	for rows.Next() {
		if limit > 0 && len(rs.Rows) >= limit {
			rs.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rs.AffectedRows = int64(len(rs.Rows))
	return nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}
