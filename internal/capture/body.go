package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"echohook/internal/types"
)

// Classify maps a declared Content-Type header to a content kind.
func Classify(contentType string) types.ContentKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "":
		return types.KindNone
	case strings.HasPrefix(ct, "application/json"):
		return types.KindJSON
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"),
		strings.HasPrefix(ct, "multipart/form-data"):
		return types.KindForm
	case strings.HasPrefix(ct, "text/plain"):
		return types.KindText
	case strings.HasPrefix(ct, "text/html"):
		return types.KindHTML
	default:
		return types.KindText
	}
}

func renderBody(kind types.ContentKind, contentType string, raw []byte) (string, error) {
	switch kind {
	case types.KindForm:
		return renderForm(contentType, raw)
	case types.KindJSON:
		return renderJSON(raw)
	default:
		return string(raw), nil
	}
}

var utf8BOM = []byte("\xef\xbb\xbf")

func renderJSON(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !json.Valid(raw) {
		var v any
		err := json.Unmarshal(raw, &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return "", fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return buf.String(), nil
}

type formFile struct {
	field    string
	filename string
	size     int64
	mimeType string
}

// formFields keeps the first-seen order of keys; repeated keys collect values.
type formFields struct {
	order  []string
	values map[string][]string
}

func (f *formFields) add(key, value string) {
	if f.values == nil {
		f.values = make(map[string][]string)
	}
	if _, ok := f.values[key]; !ok {
		f.order = append(f.order, key)
	}
	f.values[key] = append(f.values[key], value)
}

func renderForm(contentType string, raw []byte) (string, error) {
	var (
		fields formFields
		files  []formFile
		err    error
	)
	mediaType, params, _ := mime.ParseMediaType(contentType)
	if strings.EqualFold(mediaType, "multipart/form-data") {
		files, err = parseMultipart(params["boundary"], raw, &fields)
		if err != nil {
			return "", err
		}
	} else {
		parseURLEncoded(string(raw), &fields)
	}

	lines := make([]string, 0, len(fields.order)+len(files))
	for _, key := range fields.order {
		lines = append(lines, key+"="+strings.Join(fields.values[key], ","))
	}
	for _, f := range files {
		lines = append(lines, f.field+"=file:["+f.filename+",size:"+strconv.FormatInt(f.size, 10)+",type:"+f.mimeType+"]")
	}
	return strings.Join(lines, "\r\n"), nil
}

func parseURLEncoded(body string, fields *formFields) {
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		fields.add(key, value)
	}
}

func parseMultipart(boundary string, raw []byte, fields *formFields) ([]formFile, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: missing multipart boundary", ErrMalformedForm)
	}
	reader := multipart.NewReader(bytes.NewReader(raw), boundary)
	var files []formFile
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
		}
		name := part.FormName()
		if filename := part.FileName(); filename != "" {
			size, err := io.Copy(io.Discard, part)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
			}
			files = append(files, formFile{
				field:    name,
				filename: filename,
				size:     size,
				mimeType: part.Header.Get("Content-Type"),
			})
			continue
		}
		value, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
		}
		fields.add(name, string(value))
	}
}
