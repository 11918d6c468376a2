package streams

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPageChangedSchema(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterDefaults(reg); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}

	valid, _ := json.Marshal(PageChange{ProjectID: "p1", Path: "/en/new", Change: ChangeMoved, PreviousPath: "/en/old"})
	if err := reg.Validate(EventPageChanged, PageChangedVersion, valid); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}

	cases := map[string]string{
		"missing project": `{"path":"/a","change":"created"}`,
		"relative path":   `{"project_id":"p1","path":"a","change":"created"}`,
		"unknown change":  `{"project_id":"p1","path":"/a","change":"renamed"}`,
		"extra field":     `{"project_id":"p1","path":"/a","change":"created","title":"x"}`,
	}
	for name, payload := range cases {
		if err := reg.Validate(EventPageChanged, PageChangedVersion, []byte(payload)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := reg.Validate(EventPageChanged, "v2", valid); err == nil {
		t.Fatalf("expected error for unregistered version")
	}
}

func TestDecodePageChange(t *testing.T) {
	data, _ := json.Marshal(PageChange{ProjectID: "p1", Path: "/a", Change: ChangeDeleted})
	msg := Message{ID: "1-0", Envelope: Envelope{
		EventID: "e1", EventType: EventPageChanged, PayloadVersion: PageChangedVersion,
		OccurredAt: time.Now(), Data: data,
	}}
	got, err := DecodePageChange(msg)
	if err != nil {
		t.Fatalf("DecodePageChange: %v", err)
	}
	if got.Path != "/a" || got.Change != ChangeDeleted {
		t.Fatalf("unexpected change %+v", got)
	}

	msg.Envelope.EventType = "other"
	if _, err := DecodePageChange(msg); err == nil {
		t.Fatalf("expected error for foreign event type")
	}
}

func TestUnmarshalEnvelopeRequiresFields(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte(`{"event_id":"x","event_type":"page.changed","data":{}}`)); err == nil {
		t.Fatalf("expected missing payload_version error")
	}
	env, err := UnmarshalEnvelope([]byte(`{"event_id":"x","event_type":"page.changed","payload_version":"v1","data":{"a":1}}`))
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if env.OccurredAt.IsZero() {
		t.Fatalf("occurred_at should default")
	}
}
