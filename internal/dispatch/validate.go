package dispatch

import (
	"encoding/json"
	"strings"

	"echohook/internal/types"
)

// ConfigureInput is a request to create or update a configured response.
type ConfigureInput struct {
	Path        string
	Body        string
	ContentKind string
	StatusCode  int
}

// ValidateConfigure reports the first rule in breaks, checked in a fixed
// order: path, status code, content kind, JSON body.
func ValidateConfigure(in ConfigureInput) error {
	if strings.TrimSpace(in.Path) == "" {
		return types.Validationf("Path cannot be null or whitespace.")
	}
	if !strings.HasPrefix(strings.TrimSpace(in.Path), "/") {
		return types.Validationf("Path should start with a slash.")
	}
	if in.StatusCode < 100 || in.StatusCode > 599 {
		return types.Validationf("Status code must be between 100 and 599.")
	}
	kind, err := types.ParseContentKind(in.ContentKind)
	if err != nil || !kind.IsResponseKind() {
		return types.Validationf("Invalid content type specified.")
	}
	if kind == types.KindJSON {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(in.Body)), &v); err != nil {
			return types.Validationf("Invalid JSON body: %s", err.Error())
		}
	}
	return nil
}
