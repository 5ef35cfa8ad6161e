package model

import (
	"database/sql/driver"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// StringList is a []string stored in a postgres text[] column.
type StringList []string

// Value implements driver.Valuer. A nil list is written as an empty array.
func (l StringList) Value() (driver.Value, error) {
	items := pgtype.FlatArray[string](l)
	if items == nil {
		items = pgtype.FlatArray[string]{}
	}
	buf, err := pgtype.NewMap().Encode(pgtype.TextArrayOID, pgtype.TextFormatCode, items, nil)
	if err != nil {
		return nil, fmt.Errorf("string list: %w", err)
	}
	return string(buf), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var items pgtype.FlatArray[string]
	if err := pgtype.NewMap().SQLScanner(&items).Scan(src); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	if len(items) == 0 {
		*l = nil
		return nil
	}
	*l = StringList(items)
	return nil
}
