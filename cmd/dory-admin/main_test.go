package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetAttrText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("running\n"))
	}))
	defer srv.Close()

	out, err := getAttr(srv.Client(), srv.URL, "disk0", "mode")
	if err != nil {
		t.Fatalf("getAttr: %v", err)
	}
	if out != "running\n" {
		t.Errorf("getAttr = %q, want %q", out, "running\n")
	}
}

func TestGetAttrServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(apiResponse{Success: false, Error: "no such instance: disk0"})
	}))
	defer srv.Close()

	if _, err := getAttr(srv.Client(), srv.URL, "disk0", "mode"); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestPutAttrSuccess(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		json.NewEncoder(w).Encode(apiResponse{Success: true})
	}))
	defer srv.Close()

	if err := putAttr(srv.Client(), srv.URL, "disk0", "torn_mask", "3"); err != nil {
		t.Fatalf("putAttr: %v", err)
	}
	if gotBody != "3" {
		t.Errorf("request body = %q, want %q", gotBody, "3")
	}
}

func TestPutAttrServerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{Success: false, Error: "torn_mask must be nonzero"})
	}))
	defer srv.Close()

	if err := putAttr(srv.Client(), srv.URL, "disk0", "torn_mask", "0"); err == nil {
		t.Error("expected error when server rejects the write")
	}
}

func TestListInstances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal([]string{"disk0", "disk1"})
		json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
	}))
	defer srv.Close()

	if err := listInstances(srv.Client(), srv.URL); err != nil {
		t.Fatalf("listInstances: %v", err)
	}
}
