package pgoutput

import (
	"errors"
	"testing"
)

// fixtureColumns is the catalog column order for relation 16441 in the
// wire-format fixtures below.
var fixtureColumns = []Column{
	{Name: "id", Type: "uuid"},
	{Name: "full_name", Type: "text"},
	{Name: "email", Type: "text"},
	{Name: "password", Type: "text"},
	{Name: "is_verified", Type: "boolean"},
	{Name: "created_at", Type: "timestamp"},
	{Name: "updated_at", Type: "timestamp"},
}

func strp(s string) *string { return &s }

func TestDecodeInsert(t *testing.T) {
	payload := []byte("I\x00\x00@9N\x00\x07t\x00\x00\x00$2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5et\x00\x00\x00\x06Zapzapt\x00\x00\x00\x16johnboss2002@dummy.comt\x00\x00\x00\x11great_pass_authort\x00\x00\x00\x01tt\x00\x00\x00\x1a2023-10-09 13:13:47.929773t\x00\x00\x00\x1a2023-10-09 13:13:47.929773")

	event, err := Decode(payload, fixtureColumns)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if event.MessageType != MessageTypeInsert {
		t.Fatalf("message type = %q, want 'I'", event.MessageType)
	}
	if event.RelationID != 16441 {
		t.Fatalf("relation id = %d, want 16441", event.RelationID)
	}

	want := Tuple{
		"id":          strp("2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5e"),
		"full_name":   strp("Zapzap"),
		"email":       strp("johnboss2002@dummy.com"),
		"password":    strp("great_pass_author"),
		"is_verified": strp("t"),
		"created_at":  strp("2023-10-09 13:13:47.929773"),
		"updated_at":  strp("2023-10-09 13:13:47.929773"),
	}
	assertTupleEqual(t, event.New, want)
	if event.Old != nil {
		t.Fatalf("old tuple = %v, want nil", event.Old)
	}
}

func TestDecodeUpdate(t *testing.T) {
	payload := []byte("U\x00\x00@9O\x00\x07t\x00\x00\x00$2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5et\x00\x00\x00\x06Zapzapt\x00\x00\x00\x16johnboss2002@dummy.comt\x00\x00\x00\x11great_pass_authort\x00\x00\x00\x01tt\x00\x00\x00\x1a2023-10-09 13:13:47.929773t\x00\x00\x00\x1a2023-10-09 13:13:47.929773N\x00\x07t\x00\x00\x00$2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5et\x00\x00\x00\x06Zapzapt\x00\x00\x00\x0bssx@xyz.comt\x00\x00\x00\x11great_pass_authort\x00\x00\x00\x01tt\x00\x00\x00\x1a2023-10-09 13:13:47.929773t\x00\x00\x00\x1a2023-10-09 13:13:47.929773")

	event, err := Decode(payload, fixtureColumns)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if event.MessageType != MessageTypeUpdate {
		t.Fatalf("message type = %q, want 'U'", event.MessageType)
	}
	if event.RelationID != 16441 {
		t.Fatalf("relation id = %d, want 16441", event.RelationID)
	}

	wantOld := Tuple{
		"id":          strp("2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5e"),
		"full_name":   strp("Zapzap"),
		"email":       strp("johnboss2002@dummy.com"),
		"password":    strp("great_pass_author"),
		"is_verified": strp("t"),
		"created_at":  strp("2023-10-09 13:13:47.929773"),
		"updated_at":  strp("2023-10-09 13:13:47.929773"),
	}
	wantNew := Tuple{
		"id":          strp("2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5e"),
		"full_name":   strp("Zapzap"),
		"email":       strp("ssx@xyz.com"),
		"password":    strp("great_pass_author"),
		"is_verified": strp("t"),
		"created_at":  strp("2023-10-09 13:13:47.929773"),
		"updated_at":  strp("2023-10-09 13:13:47.929773"),
	}
	assertTupleEqual(t, event.Old, wantOld)
	assertTupleEqual(t, event.New, wantNew)

	if len(event.Diff) != 1 {
		t.Fatalf("diff = %v, want exactly one entry", event.Diff)
	}
	emailDiff, ok := event.Diff["email"]
	if !ok {
		t.Fatalf("diff missing 'email' key: %v", event.Diff)
	}
	if *emailDiff.OldValue != "johnboss2002@dummy.com" || *emailDiff.NewValue != "ssx@xyz.com" {
		t.Fatalf("email diff = %+v, want old=johnboss2002@dummy.com new=ssx@xyz.com", emailDiff)
	}
}

func TestDecodeDelete(t *testing.T) {
	payload := []byte("D\x00\x00@9O\x00\x07t\x00\x00\x00$2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5et\x00\x00\x00\x06Zapzapt\x00\x00\x00\x0bssx@xyz.comt\x00\x00\x00\x11great_pass_authort\x00\x00\x00\x01tt\x00\x00\x00\x1a2023-10-09 13:13:47.929773t\x00\x00\x00\x1a2023-10-09 13:13:47.929773")

	event, err := Decode(payload, fixtureColumns)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if event.MessageType != MessageTypeDelete {
		t.Fatalf("message type = %q, want 'D'", event.MessageType)
	}
	if event.RelationID != 16441 {
		t.Fatalf("relation id = %d, want 16441", event.RelationID)
	}

	want := Tuple{
		"id":          strp("2ea2efd6-f0f1-4091-bce2-40dcdb8d2c5e"),
		"full_name":   strp("Zapzap"),
		"email":       strp("ssx@xyz.com"),
		"password":    strp("great_pass_author"),
		"is_verified": strp("t"),
		"created_at":  strp("2023-10-09 13:13:47.929773"),
		"updated_at":  strp("2023-10-09 13:13:47.929773"),
	}
	assertTupleEqual(t, event.Old, want)
	if event.New != nil {
		t.Fatalf("new tuple = %v, want nil", event.New)
	}
}

func TestDecodeUnknownMessageType(t *testing.T) {
	payload := []byte("X\x00\x00@9")
	_, err := Decode(payload, fixtureColumns)
	if !errors.Is(err, ErrUnsupportedMessage) {
		t.Fatalf("err = %v, want ErrUnsupportedMessage", err)
	}
}

func TestDecodeColumnCountMismatch(t *testing.T) {
	payload := []byte("I\x00\x00@9N\x00\x03t\x00\x00\x00\x01at\x00\x00\x00\x01bt\x00\x00\x00\x01c")
	_, err := Decode(payload, fixtureColumns)
	if !errors.Is(err, ErrColumnCountMismatch) {
		t.Fatalf("err = %v, want ErrColumnCountMismatch", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	cols := []Column{{Name: "id", Type: "uuid"}}
	payload := []byte("I\x00\x00@9N\x00\x01z")
	_, err := Decode(payload, cols)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestDecodeNullAndUnchangedBothYieldNil(t *testing.T) {
	cols := []Column{{Name: "a", Type: "text"}, {Name: "b", Type: "text"}}
	payload := []byte("I\x00\x00@9N\x00\x02nu")
	event, err := Decode(payload, cols)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event.New["a"] != nil {
		t.Fatalf("column a = %v, want nil (NULL)", event.New["a"])
	}
	if event.New["b"] != nil {
		t.Fatalf("column b = %v, want nil (unchanged TOAST)", event.New["b"])
	}
}

func assertTupleEqual(t *testing.T, got, want Tuple) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("tuple length = %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for name, wantVal := range want {
		gotVal, ok := got[name]
		if !ok {
			t.Fatalf("tuple missing column %q", name)
		}
		if !stringsEqual(gotVal, wantVal) {
			t.Fatalf("column %q = %v, want %v", name, derefOrNil(gotVal), derefOrNil(wantVal))
		}
	}
}

func derefOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
