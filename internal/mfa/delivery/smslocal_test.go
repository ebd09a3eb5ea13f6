package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewSMSLocalClient_Defaults(t *testing.T) {
	client := NewSMSLocalClient("api-key", "", "")
	if client.BaseURL != "https://www.smslocal.com/dev/bulkV2" {
		t.Errorf("BaseURL = %q, want default", client.BaseURL)
	}
	if client.HTTPClient == nil || client.HTTPClient.Timeout != defaultTimeout {
		t.Errorf("HTTPClient = %+v, want timeout %v", client.HTTPClient, defaultTimeout)
	}
}

func TestSMSLocalClient_Send(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "test-api-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSMSLocalClient("test-api-key", server.URL, "TLAYER")
	if err := client.Send(context.Background(), Message{Destination: "1234567890", Code: "123456"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if body["route"] != "otp" || body["numbers"] != "1234567890" || body["variables"] != "123456" || body["sender_id"] != "TLAYER" {
		t.Errorf("body = %v", body)
	}
}

func TestSMSLocalClient_MissingAPIKey(t *testing.T) {
	err := NewSMSLocalClient("", "", "").Send(context.Background(), Message{Destination: "1", Code: "2"})
	if err == nil || !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("err = %v", err)
	}
}

func TestSMSLocalClient_Non200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid request"}`))
	}))
	defer server.Close()

	err := NewSMSLocalClient("api-key", server.URL, "").Send(context.Background(), Message{Destination: "1", Code: "2"})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !strings.Contains(err.Error(), "status=400") || !strings.Contains(err.Error(), "invalid request") {
		t.Errorf("err = %q", err.Error())
	}
}
