package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/device"
	"github.com/kiranshivaraju/lockbox/internal/vaultclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeviceID = "0123456789abcdef0123456789abcdef"

// fakeServer answers the device endpoints with a scripted status sequence.
type fakeServer struct {
	mu       sync.Mutex
	initial  string
	statuses []string
	rejected bool
	lastReg  map[string]any
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/devices":
		json.NewDecoder(r.Body).Decode(&f.lastReg)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": testDeviceID, "status": f.initial}})
	case r.Method == http.MethodGet:
		if f.rejected {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"DEVICE_NOT_FOUND","message":"Device not found"}}`))
			return
		}
		status := "pending"
		if len(f.statuses) > 0 {
			status, f.statuses = f.statuses[0], f.statuses[1:]
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": testDeviceID, "status": status}})
	case r.Method == http.MethodPatch:
		f.rejected = true
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": testDeviceID, "status": "rejected"}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func opts(maxWait time.Duration, canReject bool) registerOptions {
	return registerOptions{
		Project:  "payments",
		DeviceID: testDeviceID,
		WorkDir:  "/srv/app",
		Tags:     []string{"ci"},
		Wait:     device.WaitParams{Interval: 5 * time.Millisecond, MaxWait: maxWait, CanReject: canReject},
	}
}

func TestRunRegister_AutoApproved(t *testing.T) {
	f := &fakeServer{initial: "authorized"}
	srv := httptest.NewServer(f)
	defer srv.Close()

	var out bytes.Buffer
	err := runRegister(context.Background(), &out, vaultclient.New(srv.URL, "payments", "", time.Second), opts(time.Second, false))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Device authorized")
	assert.Contains(t, out.String(), vaultclient.DeviceToken(testDeviceID))
	assert.Equal(t, "app-01234567", f.lastReg["name"])
	assert.Equal(t, "payments", f.lastReg["project_name"])
	assert.Equal(t, "/srv/app", f.lastReg["working_directory"])
	assert.Contains(t, f.lastReg["user_agent"], "lockbox-cli/")
}

func TestRunRegister_WaitsForAuthorization(t *testing.T) {
	f := &fakeServer{initial: "pending", statuses: []string{"pending", "authorized"}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	var out bytes.Buffer
	err := runRegister(context.Background(), &out, vaultclient.New(srv.URL, "payments", "", time.Second), opts(time.Second, false))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "authorized after")
}

func TestRunRegister_TimeoutRejects(t *testing.T) {
	f := &fakeServer{initial: "pending"}
	srv := httptest.NewServer(f)
	defer srv.Close()

	var out bytes.Buffer
	err := runRegister(context.Background(), &out, vaultclient.New(srv.URL, "payments", "tok", time.Second), opts(30*time.Millisecond, true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errNotAuthorized))
	assert.True(t, f.rejected)
	assert.Contains(t, out.String(), "has been rejected")
}

func TestRunRegister_NoWait(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{initial: "pending"})
	defer srv.Close()

	o := opts(time.Second, false)
	o.NoWait = true
	var out bytes.Buffer
	require.NoError(t, runRegister(context.Background(), &out, vaultclient.New(srv.URL, "payments", "", time.Second), o))
	assert.Contains(t, out.String(), "pending authorization")
}

func TestRunSecretGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/payments/secrets/DB_PASSWORD", r.URL.Path)
		assert.Equal(t, "Bearer "+vaultclient.DeviceToken(testDeviceID), r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"key":"DB_PASSWORD","value":"hunter2"}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	c := vaultclient.New(srv.URL, "payments", vaultclient.DeviceToken(testDeviceID), time.Second)
	require.NoError(t, runSecretGet(context.Background(), &out, c, "DB_PASSWORD"))
	assert.Equal(t, "hunter2\n", out.String())
}

func TestRequireProject(t *testing.T) {
	old := projectName
	defer func() { projectName = old }()

	projectName = ""
	assert.Error(t, requireProject())
	projectName = "payments"
	assert.NoError(t, requireProject())
}
