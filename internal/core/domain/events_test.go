package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeDecodeEvent(t *testing.T) {
	meta := NewMetadata("e1", "c1", "p1", Initiator{ID: "u1", Type: InitiatorUser}, time.Date(2024, 2, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600)))
	original := MemberAdded{
		EventBase: EventBase{Meta: meta},
		Parent:    ObjectIdent{ID: "G1", Type: ObjectGroup},
		Member:    ObjectIdent{ID: "U1", Type: ObjectUser},
	}

	envelope, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent returned error: %v", err)
	}
	if envelope.Type != EventMemberAdded || envelope.Metadata.VersionInformation != EventVersion {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if envelope.Metadata.Timestamp.Location() != time.UTC {
		t.Fatalf("metadata timestamps are stored in UTC")
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var restored EventEnvelope
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	decoded, err := DecodeEvent(restored)
	if err != nil {
		t.Fatalf("DecodeEvent returned error: %v", err)
	}
	added, ok := decoded.(MemberAdded)
	if !ok {
		t.Fatalf("expected MemberAdded, got %T", decoded)
	}
	if added.Parent != original.Parent || added.Member != original.Member || added.Meta.CorrelationID != "c1" {
		t.Fatalf("unexpected decoded event %+v", added)
	}
}

func TestDecodeUnknownEventStaysRaw(t *testing.T) {
	envelope := EventEnvelope{Type: "LegacyThing", Metadata: EventMetadata{EventID: "e"}, Payload: json.RawMessage(`{"x":1}`)}
	decoded, err := DecodeEvent(envelope)
	if err != nil {
		t.Fatalf("DecodeEvent returned error: %v", err)
	}
	raw, ok := decoded.(RawEvent)
	if !ok || raw.EventType() != "LegacyThing" {
		t.Fatalf("expected RawEvent, got %T", decoded)
	}
	data, _ := json.Marshal(raw)
	if string(data) != `{"x":1}` {
		t.Fatalf("raw events keep their payload, got %s", data)
	}
}

func TestPrimaryStream(t *testing.T) {
	cases := []struct {
		event ProfileEvent
		want  string
	}{
		{ProfileCreated{Profile: Profile{ID: "U1", Type: ObjectUser}}, "User-U1"},
		{PropertiesChanged{ID: "G1", ObjectType: ObjectGroup}, "Group-G1"},
		{FunctionChanged{Function: Function{ID: "F1"}}, "Function-F1"},
		{MemberAdded{Parent: ObjectIdent{ID: "G1", Type: ObjectGroup}}, "Group-G1"},
		{ClientSettingsSet{Profile: ObjectIdent{ID: "O1", Type: ObjectOrganization}}, "Organization-O1"},
	}
	for _, tc := range cases {
		if got := PrimaryStream(tc.event).Stream(); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.event.EventType(), tc.want, got)
		}
	}
}

func TestWithMetadataKeepsPayload(t *testing.T) {
	event := ClientSettingsInvalidated{Profile: ObjectIdent{ID: "U1", Type: ObjectUser}, Keys: []string{"a"}}
	updated := WithMetadata(event, EventMetadata{BatchID: "b1"})
	inv, ok := updated.(ClientSettingsInvalidated)
	if !ok || inv.Meta.BatchID != "b1" || len(inv.Keys) != 1 {
		t.Fatalf("unexpected result %+v", updated)
	}
}

func TestSagaStateNames(t *testing.T) {
	for state := SagaInitial; state <= SagaSuccess; state++ {
		parsed, err := ParseSagaState(state.String())
		if err != nil || parsed != state {
			t.Fatalf("state %d does not round trip: %v", state, err)
		}
	}
	if !SagaRejected.IsTerminal() || !SagaSuccess.IsTerminal() || SagaExecuted.IsTerminal() {
		t.Fatalf("only Rejected and Success are terminal")
	}
}
