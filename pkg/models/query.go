package models

// ValidationResult is the outcome of gatekeeping one SQL string. Produced
// fresh per request, never persisted. SanitizedSQL is set only when Valid.
type ValidationResult struct {
	Valid        bool   `json:"valid"`
	Error        string `json:"error,omitempty"`
	SanitizedSQL string `json:"sanitized_sql,omitempty"`
	MaxRows      int    `json:"max_rows"`
}

// QueryResult is the normalized shape of one executed query across engines.
type QueryResult struct {
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RowCount    int              `json:"row_count"`
	ExecutionMs int64            `json:"execution_ms"`
}

// ColumnSchema describes one column of an introspected table. Comment is
// always empty for now; none of the engine catalogs are queried for it.
type ColumnSchema struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

// TableSchema describes one introspected table.
type TableSchema struct {
	TableName string         `json:"table_name"`
	Columns   []ColumnSchema `json:"columns"`
}
