package mssqlgrid

import (
	"context"
	"fmt"
	"strings"
)

// PaginateAdhoc appends an OFFSET/FETCH window to a plain SELECT that does
// not page itself. Anything else is returned trimmed but otherwise unchanged.
func PaginateAdhoc(sqlText string, offset, limit int) string {
	text := strings.TrimSpace(sqlText)
	upper := strings.ToUpper(text)
	if !strings.HasPrefix(upper, "SELECT") || strings.Contains(upper, "OFFSET") || strings.Contains(upper, "FETCH NEXT") {
		return text
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	text = strings.TrimRight(text, "; \t\r\n")
	if strings.Contains(upper, "ORDER BY") {
		return fmt.Sprintf("%s\nOFFSET %d ROWS FETCH NEXT %d ROWS ONLY", text, offset, limit)
	}
	return fmt.Sprintf("%s\nORDER BY %s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", text, defaultOrderConstant, offset, limit)
}

// RunAdhoc executes a free-form statement with the pagination fallback.
func RunAdhoc(ctx context.Context, conn Conn, sqlText string, offset, limit int) (*Execution, error) {
	return Execute(ctx, conn, PaginateAdhoc(sqlText, offset, limit))
}
