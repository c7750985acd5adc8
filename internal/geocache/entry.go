package geocache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
)

// Entry is one region-scoped cached response.
type Entry struct {
	Body        []byte    `json:"-"`
	ContentType string    `json:"contentType"`
	ETag        string    `json:"etag"`
	CreatedAt   time.Time `json:"createdAt"`
}

// record is the stored form of an Entry. Bodies above the compression
// threshold are snappy block-encoded.
type record struct {
	ContentType string    `json:"contentType"`
	ETag        string    `json:"etag"`
	CreatedAt   time.Time `json:"createdAt"`
	Snappy      bool      `json:"snappy,omitempty"`
	Body        []byte    `json:"body"`
}

func encodeEntry(e Entry, compressThreshold int) ([]byte, error) {
	rec := record{
		ContentType: e.ContentType,
		ETag:        e.ETag,
		CreatedAt:   e.CreatedAt,
		Body:        e.Body,
	}
	if compressThreshold > 0 && len(e.Body) > compressThreshold {
		rec.Body = snappy.Encode(nil, e.Body)
		rec.Snappy = true
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("geocache: encode entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (Entry, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Entry{}, fmt.Errorf("geocache: decode entry: %w", err)
	}
	body := rec.Body
	if rec.Snappy {
		var err error
		body, err = snappy.Decode(nil, rec.Body)
		if err != nil {
			return Entry{}, fmt.Errorf("geocache: decompress entry: %w", err)
		}
	}
	return Entry{
		Body:        body,
		ContentType: rec.ContentType,
		ETag:        rec.ETag,
		CreatedAt:   rec.CreatedAt,
	}, nil
}
