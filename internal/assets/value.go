package assets

import (
	"encoding/json"
	"io"
)

// writeValueContent serializes value to w the way a module's interpreter
// would expect to read it back: raw bytes for a plain string payload under
// any media type other than application/json, JSON otherwise.
func writeValueContent(w io.Writer, mediaType string, value any) error {
	if mediaType != "application/json" {
		if s, ok := value.(string); ok {
			_, err := io.WriteString(w, s)
			return err
		}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(value)
}
