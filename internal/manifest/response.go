package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"qlir/internal/fsx"
	"qlir/internal/inspect"
	"qlir/internal/model"
)

// ResponseMeta is the identity, request params and inspection verdict stored
// alongside the raw payload. meta.slice_status and meta.slice_status_reason
// are the source of truth when rebuilding the manifest from disk.
type ResponseMeta struct {
	SliceCompKey      string          `json:"slice_comp_key"`
	SliceID           string          `json:"slice_id"`
	Symbol            string          `json:"symbol"`
	Interval          string          `json:"interval"`
	Limit             int             `json:"limit"`
	StartMS           int64           `json:"start_ms"`
	EndMS             int64           `json:"end_ms"`
	RequestedURL      string          `json:"requested_url"`
	HTTPStatus        int             `json:"http_status"`
	RequestedAt       string          `json:"requested_at"`
	CompletedAt       string          `json:"completed_at"`
	NItems            int             `json:"n_items"`
	FirstTS           *int64          `json:"first_ts,omitempty"`
	LastTS            *int64          `json:"last_ts,omitempty"`
	SliceStatus       model.Status    `json:"slice_status"`
	SliceStatusReason model.Reason    `json:"slice_status_reason"`
	Inspection        *inspect.Result `json:"inspection,omitempty"`
}

// ResponseFile is the raw response document: meta plus the payload exactly
// as received from upstream.
type ResponseFile struct {
	Meta ResponseMeta      `json:"meta"`
	Data []json.RawMessage `json:"data"`
}

// WriteResponse atomically writes responses/<slice_id>.json.
func WriteResponse(path string, rf *ResponseFile) error {
	data, err := json.Marshal(rf)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := fsx.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// ReadResponse loads one raw response document.
func ReadResponse(path string) (*ResponseFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf ResponseFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse response %s: %w", path, err)
	}
	return &rf, nil
}

// EntryFromResponse derives a manifest entry from a response file's meta.
func EntryFromResponse(rf *ResponseFile, relativePath string) Entry {
	return Entry{
		SliceID:           rf.Meta.SliceID,
		SliceStatus:       rf.Meta.SliceStatus,
		SliceStatusReason: rf.Meta.SliceStatusReason,
		FirstTS:           rf.Meta.FirstTS,
		LastTS:            rf.Meta.LastTS,
		RequestedAt:       rf.Meta.RequestedAt,
		CompletedAt:       rf.Meta.CompletedAt,
		RelativePath:      relativePath,
		NItems:            rf.Meta.NItems,
		HTTPStatus:        rf.Meta.HTTPStatus,
		RequestedURL:      rf.Meta.RequestedURL,
	}
}
