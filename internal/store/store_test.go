package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-kivik/kivik/v4/mockdb"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newMockStore builds a Store over kivik's mock driver. The returned mock DB
// receives the per-test operation expectations.
func newMockStore(t *testing.T) (*Store, *mockdb.DB) {
	t.Helper()

	client, mock, err := mockdb.New()
	if err != nil {
		t.Fatalf("failed to create mock client: %v", err)
	}

	db := mock.NewDB()
	mock.ExpectDB().WithName("scribe-test").WillReturn(db)

	return NewWithClient(client, "scribe-test", testLogger), db
}

func TestSaveTranscriptionRejectsEmptyText(t *testing.T) {
	st, _ := newMockStore(t)

	rec := &TranscriptionRecord{Language: "en"}
	if err := st.SaveTranscription(context.Background(), rec); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestSaveTranscriptionAssignsIdentity(t *testing.T) {
	st, db := newMockStore(t)
	db.ExpectPut().WillReturn("1-abc")

	rec := &TranscriptionRecord{Text: "hello world", Language: "en", WordCount: 2}
	if err := st.SaveTranscription(context.Background(), rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if !strings.HasPrefix(rec.ID, DoctypeTranscription+":") {
		t.Errorf("id = %q, want %s: prefix", rec.ID, DoctypeTranscription)
	}
	if rec.Doctype != DoctypeTranscription {
		t.Errorf("doctype = %q, want %s", rec.Doctype, DoctypeTranscription)
	}
	if rec.Rev != "1-abc" {
		t.Errorf("rev = %q, want 1-abc", rec.Rev)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at was not assigned")
	}
}

func TestSaveTranscriptionPutFailure(t *testing.T) {
	st, db := newMockStore(t)
	db.ExpectPut().WillReturnError(fmt.Errorf("conflict"))

	rec := &TranscriptionRecord{Text: "hello"}
	if err := st.SaveTranscription(context.Background(), rec); err == nil {
		t.Error("expected error when the put fails")
	}
}

func TestGetTranscription(t *testing.T) {
	st, db := newMockStore(t)
	db.ExpectGet().WithDocID("transcription:1").WillReturn(mockdb.DocumentT(t,
		`{"_id":"transcription:1","_rev":"1-abc","type":"transcription","text":"bonjour","language":"fr","word_count":1}`))

	rec, err := st.GetTranscription(context.Background(), "transcription:1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Text != "bonjour" || rec.Language != "fr" || rec.WordCount != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestGetTranscriptionDoctypeGuard(t *testing.T) {
	st, db := newMockStore(t)
	db.ExpectGet().WithDocID("todo:1").WillReturn(mockdb.DocumentT(t,
		`{"_id":"todo:1","_rev":"1-abc","type":"todo","text":"buy milk"}`))

	// A todo document fetched through the transcription accessor is rejected.
	if _, err := st.GetTranscription(context.Background(), "todo:1"); err == nil {
		t.Error("expected error for wrong document type")
	}
}

func TestGetTodoDoctypeGuard(t *testing.T) {
	st, db := newMockStore(t)
	db.ExpectGet().WithDocID("transcription:1").WillReturn(mockdb.DocumentT(t,
		`{"_id":"transcription:1","_rev":"1-abc","type":"transcription","text":"bonjour"}`))

	if _, err := st.GetTodo(context.Background(), "transcription:1"); err == nil {
		t.Error("expected error for wrong document type")
	}
}

func TestSaveTodoRejectsEmptyText(t *testing.T) {
	st, _ := newMockStore(t)

	if err := st.SaveTodo(context.Background(), &Todo{}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestUpdateTodoRequiresIdentity(t *testing.T) {
	st, _ := newMockStore(t)

	if err := st.UpdateTodo(context.Background(), &Todo{Text: "x"}); err == nil {
		t.Error("expected error updating a todo without id and rev")
	}
	if err := st.UpdateTodo(context.Background(), &Todo{ID: "todo:1", Text: "x"}); err == nil {
		t.Error("expected error updating a todo without rev")
	}
}

func TestUpdateTodoBumpsRev(t *testing.T) {
	st, db := newMockStore(t)
	db.ExpectPut().WillReturn("2-def")

	todo := &Todo{ID: "todo:1", Rev: "1-abc", Text: "buy milk", Done: true}
	if err := st.UpdateTodo(context.Background(), todo); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if todo.Rev != "2-def" {
		t.Errorf("rev = %q, want 2-def", todo.Rev)
	}
	if todo.UpdatedAt.IsZero() {
		t.Error("updated_at was not refreshed")
	}
}

func TestDeleteTranscription(t *testing.T) {
	st, db := newMockStore(t)
	db.ExpectDelete().WillReturn("2-deleted")

	if err := st.DeleteTranscription(context.Background(), "transcription:1", "1-abc"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}
