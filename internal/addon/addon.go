// Package addon defines the metadata envelope that travels with every
// uploaded file, from the client's sender through the server's router to
// the audit ledger.
package addon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// DateLayout is the layout of Data.DateTime and of the date inserted into
// renamed files.
const DateLayout = "2006-01-02_15-04-05"

// Data is the upload's provenance record. The client fills the first block;
// the server appends the second before handing the record to the ledger.
type Data struct {
	OriginalFilename string `json:"original_filename"`
	OriginalFilepath string `json:"original_filepath"`
	OriginalFileext  string `json:"original_fileext"`
	Tool             string `json:"tool"`
	Timestamp        int64  `json:"timestamp"` // ms since epoch, client clock
	DateTime         string `json:"date_time"`
	Key              string `json:"key,omitempty"`

	NewFilename string            `json:"new_filename,omitempty"`
	PathServer  string            `json:"path_server,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	IP          string            `json:"IP,omitempty"`
	ReqHeaders  map[string]string `json:"req_headers,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
}

// Parse decodes the addonData form field. Fields the record does not know
// about are ignored.
func Parse(raw string) (Data, error) {
	var d Data
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Data{}, fmt.Errorf("decode addonData: %w", err)
	}
	return d, nil
}

// Encode returns the JSON form sent in the addonData multipart field.
func (d Data) Encode() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode addonData: %w", err)
	}
	return string(b), nil
}

// Redacted returns a copy without the shared key, for echoing back to the
// client and writing to logs.
func (d Data) Redacted() Data {
	d.Key = ""
	return d
}

// HeaderMap flattens request headers into the single-valued map recorded in
// the ledger. Names are lower-cased and repeated values joined with ", ".
func HeaderMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// HeaderNames returns the sorted keys of m.
func HeaderNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Full is the complete ledger projection. Field order is the ledger's on-disk
// key order.
type Full struct {
	NewFilename      string            `json:"new_filename"`
	OriginalFilename string            `json:"original_filename"`
	Tool             string            `json:"tool"`
	DateTime         string            `json:"date_time"`
	SizeBytes        int64             `json:"size_bytes"`
	PathServer       string            `json:"path_server"`
	OriginalFilepath string            `json:"original_filepath"`
	OriginalFileext  string            `json:"original_fileext"`
	Timestamp        int64             `json:"timestamp"`
	IP               string            `json:"IP"`
	ReqHeaders       map[string]string `json:"req_headers"`
	ContentHash      string            `json:"content_hash,omitempty"`
}

// Small is the reduced projection for lower-privilege viewers.
type Small struct {
	OriginalFilename string `json:"original_filename"`
	Tool             string `json:"tool"`
	DateTime         string `json:"date_time"`
	SizeBytes        int64  `json:"size_bytes"`
	PathServer       string `json:"path_server"`
}

// Full projects d onto the full ledger record.
func (d Data) Full() Full {
	return Full{
		NewFilename:      d.NewFilename,
		OriginalFilename: d.OriginalFilename,
		Tool:             d.Tool,
		DateTime:         d.DateTime,
		SizeBytes:        d.SizeBytes,
		PathServer:       d.PathServer,
		OriginalFilepath: d.OriginalFilepath,
		OriginalFileext:  d.OriginalFileext,
		Timestamp:        d.Timestamp,
		IP:               d.IP,
		ReqHeaders:       d.ReqHeaders,
		ContentHash:      d.ContentHash,
	}
}

// Small projects d onto the reduced ledger record.
func (d Data) Small() Small {
	return Small{
		OriginalFilename: d.OriginalFilename,
		Tool:             d.Tool,
		DateTime:         d.DateTime,
		SizeBytes:        d.SizeBytes,
		PathServer:       d.PathServer,
	}
}
