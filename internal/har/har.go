// Package har renders captured requests as an HTTP Archive 1.2 document.
// Captures carry no upstream response, so every entry has an empty one.
package har

import (
	"net/url"
	"strings"
	"time"

	"echohook/internal/types"
)

const (
	Version     = "1.2"
	httpVersion = "HTTP/1.1"
)

type Document struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Entry struct {
	StartedDateTime time.Time `json:"startedDateTime"`
	Time            int64     `json:"time"` // ms
	Request         Req       `json:"request"`
	Response        Resp      `json:"response"`
	Cache           struct{}  `json:"cache"`
	Timings         Timings   `json:"timings"`
	Comment         string    `json:"comment,omitempty"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
}

type Timings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

type Req struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	HTTPVersion string    `json:"httpVersion"`
	Cookies     []Header  `json:"cookies"`
	Headers     []Header  `json:"headers"`
	QueryString []Header  `json:"queryString"`
	PostData    *PostData `json:"postData,omitempty"`
	HeadersSize int       `json:"headersSize"`
	BodySize    int       `json:"bodySize"`
}

type Resp struct {
	Status      int      `json:"status"`
	StatusText  string   `json:"statusText"`
	HTTPVersion string   `json:"httpVersion"`
	Cookies     []Header `json:"cookies"`
	Headers     []Header `json:"headers"`
	Content     Content  `json:"content"`
	RedirectURL string   `json:"redirectURL"`
	HeadersSize int      `json:"headersSize"`
	BodySize    int      `json:"bodySize"`
}

// FromRequests converts captures, in the given order, into a HAR document.
// creatorVersion is recorded as the producing tool's version.
func FromRequests(in []*types.CapturedRequest, creatorVersion string) Document {
	out := Document{
		Log: Log{
			Version: Version,
			Creator: Creator{Name: "echohook", Version: creatorVersion},
			Entries: make([]Entry, 0, len(in)),
		},
	}
	for _, r := range in {
		headers := types.SplitKV(r.Headers)
		req := Req{
			Method:      r.Method,
			URL:         requestURL(r, headers),
			HTTPVersion: httpVersion,
			Cookies:     []Header{},
			Headers:     toH(headers),
			QueryString: queryPairs(r.QueryString),
			HeadersSize: -1,
			BodySize:    len(r.Body),
		}
		if r.Body != "" {
			req.PostData = &PostData{MimeType: headerValue(headers, "Content-Type"), Text: r.Body}
		}
		out.Log.Entries = append(out.Log.Entries, Entry{
			StartedDateTime: r.CreatedAt,
			Request:         req,
			Response: Resp{
				HTTPVersion: httpVersion,
				Cookies:     []Header{},
				Headers:     []Header{},
				HeadersSize: -1,
				BodySize:    -1,
			},
			Timings: Timings{Send: 0, Wait: 0, Receive: 0},
			Comment: "id=" + r.ID + " client=" + r.ClientAddress,
		})
	}
	return out
}

func requestURL(r *types.CapturedRequest, headers []types.KV) string {
	u := url.URL{Scheme: "http", Host: headerValue(headers, "Host"), Path: r.Path}
	if u.Host == "" {
		u.Host = "localhost"
	}
	return u.String() + r.QueryString
}

func queryPairs(qs string) []Header {
	out := []Header{}
	values, err := url.ParseQuery(strings.TrimPrefix(qs, "?"))
	if err != nil {
		return out
	}
	for _, kv := range strings.Split(strings.TrimPrefix(qs, "?"), "&") {
		name, _, _ := strings.Cut(kv, "=")
		name, err := url.QueryUnescape(name)
		if err != nil || name == "" {
			continue
		}
		vs, ok := values[name]
		if !ok {
			continue
		}
		for _, v := range vs {
			out = append(out, Header{Name: name, Value: v})
		}
		delete(values, name)
	}
	return out
}

func headerValue(headers []types.KV, name string) string {
	for _, kv := range headers {
		if strings.EqualFold(kv.Key, name) {
			return kv.Value
		}
	}
	return ""
}

func toH(in []types.KV) []Header {
	out := make([]Header, 0, len(in))
	for _, kv := range in {
		out = append(out, Header{Name: kv.Key, Value: kv.Value})
	}
	return out
}
