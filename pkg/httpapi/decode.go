package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
)

// DecodeJSON reads the request body into dst, rejecting unknown fields
// and trailing garbage.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	if dec.More() {
		return errors.New("unexpected trailing data in request body")
	}
	return nil
}
