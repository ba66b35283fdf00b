package mysqldriver

import (
	"database/sql"

	cluster "github.com/eth0jp/go-dbcluster"
)

// scanRows drains rows into a Result. Byte slices become strings.
func scanRows(rows *sql.Rows) (cluster.Result, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return cluster.Result{}, err
	}

	res := cluster.Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return cluster.Result{}, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return cluster.Result{}, err
	}
	return res, nil
}
