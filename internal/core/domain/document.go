package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known status document fields.
const (
	FieldUpdatedAt     = "updatedAtTimestamp"
	FieldReceiptNumber = "receiptNumber"
	FieldFormType      = "formType"
	FieldFormName      = "formName"

	// FieldLocation is not sent by the status endpoint. It carries the
	// processing-center code from the case's receipt info.
	FieldLocation = "receiptLocation"

	fieldEvents  = "events"
	fieldNotices = "notices"
)

// StatusDocument is the structured result of a case fetch.
//
// The portal wraps the case in a {"data": {...}} envelope. Every field is kept
// verbatim so the document round-trips; only events and notices are lifted
// into typed slices because change detection needs their identity.
type StatusDocument struct {
	// Fields holds every top-level data field other than events and notices.
	Fields map[string]json.RawMessage

	// Events is the case event list in source order.
	Events []Event

	// Notices is the notice list in source order.
	Notices []Notice

	// Envelope holds top-level keys outside "data".
	Envelope map[string]json.RawMessage
}

// Event is a single case event.
type Event struct {
	// Code is the event type code (e.g. "IAF", "FTA0").
	Code string

	// Timestamp is the event time exactly as the portal reports it.
	Timestamp string

	// Raw is the complete source object.
	Raw json.RawMessage
}

// EventID is the identity used to de-duplicate events.
// Two events are the same iff both code and timestamp match exactly.
type EventID struct {
	Code      string
	Timestamp string
}

// ID returns the event identity.
func (e Event) ID() EventID {
	return EventID{Code: e.Code, Timestamp: e.Timestamp}
}

// UnmarshalJSON decodes an event, keeping the raw object.
// The timestamp is eventTimestamp, falling back to createdAtTimestamp.
func (e *Event) UnmarshalJSON(b []byte) error {
	var v struct {
		Code      string `json:"eventCode"`
		Timestamp string `json:"eventTimestamp"`
		CreatedAt string `json:"createdAtTimestamp"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	raw, err := compact(b)
	if err != nil {
		return err
	}
	e.Code = v.Code
	e.Timestamp = v.Timestamp
	if e.Timestamp == "" {
		e.Timestamp = v.CreatedAt
	}
	e.Raw = raw
	return nil
}

// MarshalJSON returns the raw source object, or a minimal one for events
// constructed in code.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return EncodeJSON(map[string]string{
		"eventCode":      e.Code,
		"eventTimestamp": e.Timestamp,
	})
}

// Notice is a letter issued on a case.
type Notice struct {
	// Title is the notice action type (e.g. "Receipt Notice").
	Title string

	// Timestamp is the generation date exactly as the portal reports it.
	Timestamp string

	// Raw is the complete source object.
	Raw json.RawMessage
}

// NoticeID is the identity used to de-duplicate notices.
type NoticeID struct {
	Title     string
	Timestamp string
}

// ID returns the notice identity.
func (n Notice) ID() NoticeID {
	return NoticeID{Title: n.Title, Timestamp: n.Timestamp}
}

// UnmarshalJSON decodes a notice, keeping the raw object.
func (n *Notice) UnmarshalJSON(b []byte) error {
	var v struct {
		Title     string `json:"actionType"`
		Timestamp string `json:"generationDate"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	raw, err := compact(b)
	if err != nil {
		return err
	}
	n.Title = v.Title
	n.Timestamp = v.Timestamp
	n.Raw = raw
	return nil
}

// MarshalJSON returns the raw source object, or a minimal one for notices
// constructed in code.
func (n Notice) MarshalJSON() ([]byte, error) {
	if len(n.Raw) > 0 {
		return n.Raw, nil
	}
	return EncodeJSON(map[string]string{
		"actionType":     n.Title,
		"generationDate": n.Timestamp,
	})
}

// ParseStatusDocument decodes a portal payload.
func ParseStatusDocument(raw []byte) (*StatusDocument, error) {
	var doc StatusDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UnmarshalJSON decodes the {"data": {...}} envelope.
func (d *StatusDocument) UnmarshalJSON(b []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return err
	}
	rawData, ok := top["data"]
	if !ok || isNull(rawData) {
		return errors.New("missing data object")
	}
	delete(top, "data")

	var data map[string]json.RawMessage
	if err := json.Unmarshal(rawData, &data); err != nil {
		return fmt.Errorf("data: %w", err)
	}

	var events []Event
	if raw, ok := data[fieldEvents]; ok {
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &events); err != nil {
				return fmt.Errorf("events: %w", err)
			}
			if events == nil {
				events = []Event{}
			}
		}
		delete(data, fieldEvents)
	}

	var notices []Notice
	if raw, ok := data[fieldNotices]; ok {
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &notices); err != nil {
				return fmt.Errorf("notices: %w", err)
			}
			if notices == nil {
				notices = []Notice{}
			}
		}
		delete(data, fieldNotices)
	}

	fields, err := compactAll(data)
	if err != nil {
		return err
	}
	envelope, err := compactAll(top)
	if err != nil {
		return err
	}

	d.Fields = fields
	d.Events = events
	d.Notices = notices
	d.Envelope = envelope
	return nil
}

// MarshalJSON encodes the document back into the portal envelope.
func (d StatusDocument) MarshalJSON() ([]byte, error) {
	data := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		data[k] = v
	}
	if d.Events != nil {
		data[fieldEvents] = d.Events
	}
	if d.Notices != nil {
		data[fieldNotices] = d.Notices
	}

	top := make(map[string]any, len(d.Envelope)+1)
	for k, v := range d.Envelope {
		top[k] = v
	}
	top["data"] = data
	return EncodeJSON(top)
}

// Field returns a data field as text. String values are unquoted; other
// values are returned as their JSON text. Missing fields return "".
func (d *StatusDocument) Field(name string) string {
	raw, ok := d.Fields[name]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SetField stores a string data field.
func (d *StatusDocument) SetField(name, value string) {
	if d.Fields == nil {
		d.Fields = make(map[string]json.RawMessage)
	}
	b, _ := EncodeJSON(value)
	d.Fields[name] = b
}

// UpdatedAt returns the portal's last-updated timestamp.
func (d *StatusDocument) UpdatedAt() string {
	return d.Field(FieldUpdatedAt)
}

// FormType returns the form type (e.g. "I-485").
func (d *StatusDocument) FormType() string {
	return d.Field(FieldFormType)
}

// FormName returns the human form name.
func (d *StatusDocument) FormName() string {
	return d.Field(FieldFormName)
}

// Location returns the processing-center code, if known.
func (d *StatusDocument) Location() string {
	return d.Field(FieldLocation)
}

// ParseReceiptLocation extracts the processing-center code from a receipt
// info payload. A payload with null data yields "".
func ParseReceiptLocation(raw []byte) (string, error) {
	var info struct {
		Data *struct {
			ReceiptDetails struct {
				Location string `json:"location"`
			} `json:"receipt_details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", err
	}
	if info.Data == nil {
		return "", nil
	}
	return info.Data.ReceiptDetails.Location, nil
}

// Clone returns a deep copy.
func (d *StatusDocument) Clone() StatusDocument {
	out := StatusDocument{
		Fields:   cloneRawMap(d.Fields),
		Envelope: cloneRawMap(d.Envelope),
	}
	if d.Events != nil {
		out.Events = make([]Event, len(d.Events))
		for i, e := range d.Events {
			e.Raw = cloneRaw(e.Raw)
			out.Events[i] = e
		}
	}
	if d.Notices != nil {
		out.Notices = make([]Notice, len(d.Notices))
		for i, n := range d.Notices {
			n.Raw = cloneRaw(n.Raw)
			out.Notices[i] = n
		}
	}
	return out
}

// Equal reports whether two documents encode to the same JSON.
func (d *StatusDocument) Equal(other *StatusDocument) bool {
	if d == nil || other == nil {
		return d == other
	}
	a, errA := EncodeJSON(d)
	b, errB := EncodeJSON(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// ParseTimestamp parses the ISO timestamps the portal emits.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidInput, s)
}

// EncodeJSON encodes v without HTML escaping. Raw portal text inside the
// value, including '&', '<' and '>', is written back byte for byte.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func compact(b []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compactAll(m map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		c, err := compact(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = cloneRaw(v)
	}
	return out
}
