package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// TableDescriptor describes one table of a database.
// The wire sends either a bare table name or an object; both decode here.
type TableDescriptor struct {
	Name     string `json:"table_name" yaml:"table_name"`
	RowCount *int64 `json:"row_count,omitempty" yaml:"row_count,omitempty"`
}

// UnmarshalJSON accepts "users" as well as {"table_name":"users","table_rows":12}.
func (d *TableDescriptor) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*d = TableDescriptor{Name: name}
		return nil
	}

	var obj struct {
		TableName string       `json:"table_name"`
		Name      string       `json:"name"`
		TableRows *json.Number `json:"table_rows"`
		RowCount  *json.Number `json:"row_count"`
		Rows      *json.Number `json:"rows"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid table descriptor: %w", err)
	}

	d.Name = obj.TableName
	if d.Name == "" {
		d.Name = obj.Name
	}
	d.RowCount = nil
	for _, n := range []*json.Number{obj.TableRows, obj.RowCount, obj.Rows} {
		if count, ok := parseCount(n); ok {
			d.RowCount = &count
			break
		}
	}
	return nil
}

// HasRowCount reports whether the backend supplied an approximate row count.
func (d TableDescriptor) HasRowCount() bool {
	return d.RowCount != nil
}

func parseCount(n *json.Number) (int64, bool) {
	if n == nil {
		return 0, false
	}
	if v, err := n.Int64(); err == nil {
		return v, v >= 0
	}
	if f, err := n.Float64(); err == nil && f >= 0 {
		return int64(f), true
	}
	return 0, false
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Result is the outcome of an execute-sql call.
type Result struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"data"`
}

// Values returns the values of row i in column order.
func (r *Result) Values(i int) []any {
	if r == nil || i < 0 || i >= len(r.Rows) {
		return nil
	}
	values := make([]any, len(r.Columns))
	for j, col := range r.Columns {
		values[j] = r.Rows[i][col]
	}
	return values
}

// RowCount returns the number of rows in the result.
func (r *Result) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Page is one page of table data.
type Page struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"data"`
	Total   int64    `json:"total"`
	Page    int      `json:"page"`
	Size    int      `json:"size"`
}

// Result returns the page as a plain result set.
func (p *Page) Result() *Result {
	return &Result{Columns: p.Columns, Rows: p.Rows}
}

// Pages returns the number of pages at the current page size.
func (p *Page) Pages() int {
	if p.Size <= 0 {
		return 1
	}
	n := int((p.Total + int64(p.Size) - 1) / int64(p.Size))
	if n < 1 {
		return 1
	}
	return n
}

// SFEData holds departments and employees fetched from the SFE system.
type SFEData struct {
	Departments []Row `json:"departments"`
	Employees   []Row `json:"employees"`
}

// SFEExecuteResult is the summary of a manually triggered SFE fetch.
type SFEExecuteResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// rowSet is the wire shape shared by execute-sql and table-data.
type rowSet struct {
	Data    []json.RawMessage `json:"data"`
	Columns columnList        `json:"columns"`
	Total   json.Number       `json:"total"`
	Page    json.Number       `json:"page"`
	Size    json.Number       `json:"size"`
	Message string            `json:"message"`
}

// decode converts the raw rows. When the backend omits columns, the key
// order of the first row is used.
func (s *rowSet) decode() (*Result, error) {
	result := &Result{Columns: []string(s.Columns), Rows: make([]Row, 0, len(s.Data))}
	for i, raw := range s.Data {
		row := Row{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode row %d: %w", i, err)
		}
		result.Rows = append(result.Rows, row)
	}
	if len(result.Columns) == 0 && len(s.Data) > 0 {
		cols, err := objectKeys(s.Data[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read columns: %w", err)
		}
		result.Columns = cols
	}
	return result, nil
}

// objectKeys returns the keys of a JSON object in wire order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", tok)
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// columnList accepts ["a","b"] or [{"name":"a"},{"column_name":"b"}].
type columnList []string

func (c *columnList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("invalid columns: %w", err)
	}

	cols := make([]string, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			cols = append(cols, name)
			continue
		}
		var obj struct {
			Name       string `json:"name"`
			ColumnName string `json:"column_name"`
			Field      string `json:"field"`
			Label      string `json:"label"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("invalid column: %w", err)
		}
		cols = append(cols, firstNonEmpty(obj.Name, obj.ColumnName, obj.Field, obj.Label))
	}
	*c = cols
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
