package postgres

import (
	"errors"
	"fmt"
	"strings"
)

// pgTextArray scans a Postgres text[] column. Only the textual array
// form produced by the driver is handled; element values are device
// ids and zone keys, which never contain braces. Writes never bind an
// array value, so there is no Valuer counterpart.
type pgTextArray []string

func (a *pgTextArray) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		return a.parse(value)
	case []byte:
		return a.parse(string(value))
	default:
		return fmt.Errorf("registry repo: cannot scan %T into text array", src)
	}
}

func (a *pgTextArray) parse(value string) error {
	if !strings.HasPrefix(value, "{") || !strings.HasSuffix(value, "}") {
		return errors.New("registry repo: malformed text array")
	}
	inner := value[1 : len(value)-1]
	if inner == "" {
		*a = nil
		return nil
	}

	var result []string
	var current strings.Builder
	inQuotes := false
	escaped := false
	for _, r := range inner {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	result = append(result, current.String())
	*a = result
	return nil
}
