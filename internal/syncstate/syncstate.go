// Package syncstate tracks sync cursors per platform and content type.
//
// The sync state file stores an array of Cursor objects keyed by
// "platform:content_type". This is the only durable state outside the
// archive itself; the extractor deliberately does not touch it because its
// progress is fully materialized in per-record extracted_text fields.
package syncstate

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/snapetech/socmed/internal/store"
)

// Sync status values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Cursor tracks sync progress for one platform + content_type combination.
type Cursor struct {
	Platform       string `json:"platform"`
	ContentType    string `json:"content_type"`
	LastID         string `json:"last_id"`
	LastTimestamp  string `json:"last_timestamp"`
	TotalItems     int    `json:"total_items"`
	LastSyncAt     string `json:"last_sync_at"`
	LastSyncStatus string `json:"last_sync_status"`
	ErrorMessage   string `json:"error_message"`
}

// Key returns the store key, "platform:content_type".
func (c *Cursor) Key() string { return c.Platform + ":" + c.ContentType }

// MarkSuccess records a clean run. lastID and lastTimestamp are kept when
// empty so a partial page doesn't wipe the high-water mark.
func (c *Cursor) MarkSuccess(totalItems int, lastID, lastTimestamp string) {
	c.LastSyncAt = now()
	c.LastSyncStatus = StatusSuccess
	c.TotalItems = totalItems
	c.ErrorMessage = ""
	if lastID != "" {
		c.LastID = lastID
	}
	if lastTimestamp != "" {
		c.LastTimestamp = lastTimestamp
	}
}

// MarkError records a failed run.
func (c *Cursor) MarkError(msg string) {
	c.LastSyncAt = now()
	c.LastSyncStatus = StatusError
	c.ErrorMessage = msg
}

// MarkPartial records a run that made progress but did not finish cleanly.
func (c *Cursor) MarkPartial(totalItems int, msg string) {
	c.LastSyncAt = now()
	c.LastSyncStatus = StatusPartial
	c.TotalItems = totalItems
	c.ErrorMessage = msg
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// Tracker manages all cursors in one store file.
type Tracker struct {
	store *store.Store
}

// NewTracker returns a Tracker over the sync state file at path.
func NewTracker(path string) *Tracker {
	return &Tracker{store: store.New(path, "key")}
}

// Get returns the cursor for platform+contentType, creating a blank one if
// absent (the blank cursor is not persisted until Save).
func (t *Tracker) Get(platform, contentType string) (*Cursor, error) {
	items, err := t.store.Find(store.Item{"key": platform + ":" + contentType})
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return decodeCursor(items[0])
	}
	return &Cursor{Platform: platform, ContentType: contentType}, nil
}

// Save creates or updates the cursor's entry.
func (t *Tracker) Save(c *Cursor) error {
	item, err := encodeCursor(c)
	if err != nil {
		return err
	}
	_, err = t.store.Append([]store.Item{item}, func(_, incoming store.Item) store.Item {
		return incoming
	})
	return err
}

// GetAll returns every cursor in the store.
func (t *Tracker) GetAll() ([]*Cursor, error) {
	items, err := t.store.Read()
	if err != nil {
		return nil, err
	}
	out := make([]*Cursor, 0, len(items))
	for _, it := range items {
		c, err := decodeCursor(it)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// Summary renders a human-readable status table of all cursors.
func (t *Tracker) Summary() (string, error) {
	cursors, err := t.GetAll()
	if err != nil {
		return "", err
	}
	if len(cursors) == 0 {
		return "No sync history found.", nil
	}

	var b strings.Builder
	tbl := tablewriter.NewWriter(&b)
	tbl.SetHeader([]string{"Platform", "Content", "Items", "Last Sync", "Status"})
	tbl.SetBorder(false)
	tbl.SetAutoFormatHeaders(false)
	for _, c := range cursors {
		last := c.LastSyncAt
		if last == "" {
			last = "never"
		} else if len(last) > 19 {
			last = last[:19]
		}
		status := c.LastSyncStatus
		if status == StatusError && c.ErrorMessage != "" {
			status += ": " + c.ErrorMessage
		}
		tbl.Append([]string{
			c.Platform, c.ContentType,
			strconv.Itoa(c.TotalItems), last, status,
		})
	}
	tbl.Render()
	return b.String(), nil
}

func encodeCursor(c *Cursor) (store.Item, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var item store.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	item["key"] = c.Key()
	return item, nil
}

func decodeCursor(item store.Item) (*Cursor, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
