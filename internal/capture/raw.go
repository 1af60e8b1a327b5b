package capture

import (
	"strings"

	"echohook/internal/types"
)

// RawRequest reconstructs the request line and header section of a stored
// request, followed by its normalized body.
func RawRequest(req *types.CapturedRequest) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.Path)
	b.WriteString(req.QueryString)
	b.WriteString(" HTTP/1.1\r\n")
	if req.Headers != "" {
		b.WriteString(req.Headers)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(req.Body)
	return b.String()
}
