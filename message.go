package mssqlgrid

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/message.schema.json
var messageSchemaJSON []byte

// MessageSchema returns the JSON schema every panel message is validated
// against.
func MessageSchema() []byte { return messageSchemaJSON }

var (
	messageSchemaOnce sync.Once
	messageSchema     *gojsonschema.Schema
	messageSchemaErr  error
)

func compiledMessageSchema() (*gojsonschema.Schema, error) {
	messageSchemaOnce.Do(func() {
		messageSchema, messageSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(messageSchemaJSON))
	})
	return messageSchema, messageSchemaErr
}

// Message commands sent by a rendered panel.
const (
	CmdGetTableSchema = "getTableSchema"
	CmdUpdateColumns  = "updateColumns"
	CmdUpdateOrderBy  = "updateOrderBy"
	CmdChangePage     = "changePage"
	CmdChangePageSize = "changePageSize"
	CmdSearch         = "search"
	CmdRefresh        = "refresh"
)

// Message is one decoded panel message.
type Message struct {
	Command         string        `json:"command"`
	Columns         []string      `json:"columns,omitempty"`
	SelectedColumns []string      `json:"selectedColumns,omitempty"`
	OrderBy         *MessageOrder `json:"orderBy,omitempty"`
	Page            int           `json:"page,omitempty"`
	CurrentPage     int           `json:"currentPage,omitempty"`
	PageSize        FlexInt       `json:"pageSize,omitempty"`
	SearchTerm      string        `json:"searchTerm,omitempty"`
}

// MessageOrder accepts either {"column":..,"direction":..} or the legacy
// "column DIR" string form.
type MessageOrder struct {
	Column    string `json:"column"`
	Direction string `json:"direction,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *MessageOrder) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		o.Column, o.Direction = splitOrderText(s)
		return nil
	}
	type plain MessageOrder
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*o = MessageOrder(p)
	return nil
}

// splitOrderText splits "Customer Name desc" into column and direction. A
// trailing word that is not a direction belongs to the column name.
func splitOrderText(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	switch strings.ToLower(s[i+1:]) {
	case "asc", "desc":
		return strings.TrimSpace(s[:i]), strings.ToLower(s[i+1:])
	}
	return s, ""
}

// FlexInt decodes a JSON number or a numeric string, as sent by a <select>.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (n *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*n = FlexInt(v)
	return nil
}

// ValidateMessage checks data against the message schema and returns every
// violation joined into one ErrInvalidMessage.
func ValidateMessage(data []byte) error {
	schema, err := compiledMessageSchema()
	if err != nil {
		return fmt.Errorf("loading message schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(msgs, "; "))
}

// DecodeMessage validates and decodes one panel message.
func DecodeMessage(data []byte) (Message, error) {
	if err := ValidateMessage(data); err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// Dispatch applies m to the panel and returns the refreshed payload.
// getTableSchema answers from the last snapshot without querying.
func Dispatch(ctx context.Context, c *Controller, m Message) (*Panel, error) {
	switch m.Command {
	case CmdGetTableSchema:
		if p := c.Snapshot(); p != nil {
			return p, nil
		}
		return c.Refresh(ctx)
	case CmdUpdateColumns:
		return c.SetSelectedColumns(ctx, m.Columns)
	case CmdUpdateOrderBy:
		column, dir, err := m.order()
		if err != nil {
			return nil, err
		}
		return c.SetOrderBy(ctx, column, dir)
	case CmdChangePage:
		return c.SetPage(ctx, m.Page)
	case CmdChangePageSize:
		return c.SetPageSize(ctx, int(m.PageSize))
	case CmdSearch:
		req := SearchRequest{
			Term:            m.SearchTerm,
			SelectedColumns: m.SelectedColumns,
			Page:            m.CurrentPage,
			PageSize:        int(m.PageSize),
		}
		if m.OrderBy != nil && m.OrderBy.Column != "" {
			column, dir, err := m.order()
			if err != nil {
				return nil, err
			}
			req.OrderBy = &OrderBy{Column: column, Direction: dir}
		}
		if req.Page == 0 {
			req.Page = 1
		}
		// omitted fields keep what the panel shows now
		if p := c.Snapshot(); p != nil {
			if len(req.SelectedColumns) == 0 {
				req.SelectedColumns = p.State.SelectedColumns
			}
			if req.PageSize == 0 {
				req.PageSize = p.State.PageSize
			}
		}
		return c.SetSearch(ctx, req)
	case CmdRefresh:
		return c.Refresh(ctx)
	}
	return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidMessage, m.Command)
}

func (m Message) order() (string, Direction, error) {
	if m.OrderBy == nil {
		return "", "", nil
	}
	dir, err := ParseDirection(m.OrderBy.Direction)
	if err != nil {
		return "", "", err
	}
	return m.OrderBy.Column, dir, nil
}
