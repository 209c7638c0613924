package executor

// maskErrors removes rows that carry an error sentinel in any dependency
// column. The first sentinel found for a row is kept as that row's result;
// the step sees only the surviving rows, in order.
func maskErrors(run *stepRun, size int) {
	cols := run.details.Values
	var masked []any
	for row := 0; row < size; row++ {
		for _, col := range cols {
			if IsErrorValue(col[row]) {
				if masked == nil {
					masked = make([]any, size)
				}
				masked[row] = col[row]
				break
			}
		}
	}
	if masked == nil {
		return
	}
	rows := make([]int, 0, size)
	for row := 0; row < size; row++ {
		if masked[row] == nil {
			rows = append(rows, row)
		}
	}
	filtered := make([][]any, len(cols))
	for i, col := range cols {
		f := make([]any, len(rows))
		for k, row := range rows {
			f[k] = col[row]
		}
		filtered[i] = f
	}
	run.rows = rows
	run.masked = masked
	run.details.Count = len(rows)
	run.details.Values = filtered
}
