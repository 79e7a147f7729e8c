package accountclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveAccount_ReturnsAnchorAccountID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/accounts/primary/user-42" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Internal-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"account_id":"a1","user_id":"user-42","anchor_account_id":" anc_42 "}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret")
	accountID, err := client.ResolveAccount(context.Background(), "user-42")
	if err != nil {
		t.Fatalf("ResolveAccount returned error: %v", err)
	}
	if accountID != "anc_42" {
		t.Fatalf("expected anc_42, got %q", accountID)
	}
}

func TestResolveAccount_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").ResolveAccount(context.Background(), "nobody")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestResolveAccount_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").ResolveAccount(context.Background(), "u")
	if err == nil || errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected generic upstream error, got %v", err)
	}
}

func TestResolveAccount_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient("  ", "").ResolveAccount(context.Background(), "u"); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
