package runtime

import (
	"encoding/json"
	"io"

	"github.com/basket/tg-live/internal/diagnostics"
)

// EmitPayload writes result as one line of JSON to w (spec.md §4.8: "Emit
// payload as one line of JSON on standard output"). json.Encoder.Encode
// appends the trailing newline.
func EmitPayload(w io.Writer, result *diagnostics.CycleResult) error {
	return json.NewEncoder(w).Encode(result)
}
