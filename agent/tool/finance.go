package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/uptrace/bun"
)

const ToolQueryOrders = "query_orders"

const maxOrderRows = 20

// Order is one purchase record in the finance database.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID         string  `bun:"order_id" json:"order_id"`
	Date            string  `bun:"date" json:"date"`
	ItemDescription string  `bun:"item_description" json:"item_description"`
	ItemPrice       float64 `bun:"item_price" json:"item_price"`
	Quantity        int     `bun:"quantity" json:"quantity"`
	Category        string  `bun:"category" json:"category"`
}

// forbiddenSQLVerbs blocks anything but reads; the finance model writes
// its own SQL, so the boundary is enforced here, not in the prompt.
var forbiddenSQLVerbs = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE", "GRANT", "PRAGMA", "ATTACH",
}

// ValidateReadOnlySQL rejects statements that are not plain SELECTs.
func ValidateReadOnlySQL(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("sql query is empty")
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	for _, verb := range forbiddenSQLVerbs {
		if strings.Contains(upper, verb) {
			return fmt.Errorf("write operations are forbidden: found %s", verb)
		}
	}
	return nil
}

// RegisterFinance wires the order-query tool against the SQLite-backed
// order table.
func RegisterFinance(c *Catalog, db *bun.DB) error {
	if db == nil {
		return fmt.Errorf("finance database is required")
	}

	return c.Register(Spec{
		Name: ToolQueryOrders,
		Desc: "Executes a read-only SQL query against the 'orders' table " +
			"(order_id, date, item_description, item_price, quantity, category). " +
			"SELECT statements only; use LIKE for text matching.",
		Params: map[string]*schema.ParameterInfo{
			"sql_query": {Type: schema.String, Desc: "A single SELECT statement", Required: true},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		query := stringArg(args, "sql_query")
		if err := ValidateReadOnlySQL(query); err != nil {
			return nil, err
		}

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query orders: %w", err)
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read columns: %w", err)
		}

		var out []map[string]any
		for rows.Next() {
			if len(out) >= maxOrderRows {
				break
			}
			values := make([]any, len(columns))
			scan := make([]any, len(columns))
			for i := range values {
				scan[i] = &values[i]
			}
			if err := rows.Scan(scan...); err != nil {
				return nil, fmt.Errorf("scan row: %w", err)
			}
			record := make(map[string]any, len(columns))
			for i, col := range columns {
				record[col] = normalizeSQLValue(values[i])
			}
			out = append(out, record)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate rows: %w", err)
		}

		if len(out) == 0 {
			return "Query returned no results.", nil
		}
		return out, nil
	})
}

func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
