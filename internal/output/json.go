package output

import (
	"encoding/json"
	"io"
)

// WriteJSON writes v (a run summary or a query result) as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
