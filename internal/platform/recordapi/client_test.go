package recordapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestFetchSnapshot(t *testing.T) {
	encID := uuid.New()
	patientID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/encounters/"+encID.String()+"/snapshot" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EncounterSnapshot{
			EncounterID: encID,
			PatientID:   patientID,
			Status:      StatusOpen,
			Note:        NoteFields{Subjective: "headache"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	snap, err := client.FetchSnapshot(context.Background(), encID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.PatientID != patientID {
		t.Error("expected matching patient id")
	}
	if snap.Note.Subjective != "headache" {
		t.Errorf("expected note subjective, got %q", snap.Note.Subjective)
	}
}

func TestSaveNote_ValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "validation failed",
			"fields":  map[string]string{"plan": "too long"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	err := client.SaveNote(context.Background(), uuid.New(), NoteFields{Plan: "x"})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	if ve.Field("plan") != "too long" {
		t.Errorf("expected field error for plan, got %q", ve.Field("plan"))
	}
}

func TestMapError_NonJSONMeansSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusFound)
		w.Write([]byte("<html>Please log in</html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	err := client.SaveNote(context.Background(), uuid.New(), NoteFields{})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestMapError_GatewayHTMLAlsoSessionExpired(t *testing.T) {
	// A 502 from a proxy returns HTML too. Treated conservatively as the
	// same refresh-required path.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>502 Bad Gateway</html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	_, err := client.CompleteEncounter(context.Background(), uuid.New())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestMapError_JSON5xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"message": "db unavailable"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	err := client.SaveNote(context.Background(), uuid.New(), NoteFields{})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDo_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewClient(srv.URL, "tok")
	err := client.SaveNote(context.Background(), uuid.New(), NoteFields{})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(srv.URL, "tok")
	err := client.SaveNote(ctx, uuid.New(), NoteFields{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestValidateStock_Payload(t *testing.T) {
	var got struct {
		DrugCode string `json:"drug_code"`
		Quantity int    `json:"quantity"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pharmacy/stock-validate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StockResult{IsValid: false, Message: "Insufficient stock"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	res, err := client.ValidateStock(context.Background(), "AMOX500", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DrugCode != "AMOX500" || got.Quantity != 50 {
		t.Errorf("unexpected payload: %+v", got)
	}
	if res.IsValid {
		t.Error("expected invalid stock result")
	}
	if res.Message != "Insufficient stock" {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestCompleteEncounter(t *testing.T) {
	encID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/encounters/"+encID.String()+"/complete" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(CompletionResult{PrescriptionsProcessed: 1, LabOrdersSubmitted: 1})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	res, err := client.CompleteEncounter(context.Background(), encID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PrescriptionsProcessed != 1 || res.LabOrdersSubmitted != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{Message: "bad input", Fields: map[string]string{"quantity": "must be positive"}}
	if ve.Error() == "" {
		t.Error("expected non-empty message")
	}
	if ve.Field("missing") != "" {
		t.Error("expected empty message for unknown field")
	}
}
