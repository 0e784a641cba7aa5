package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/pagedvr/internal/audio"
	"github.com/audiolibrelab/pagedvr/internal/config"
	"github.com/audiolibrelab/pagedvr/internal/service"
	"github.com/audiolibrelab/pagedvr/internal/session"
	"github.com/audiolibrelab/pagedvr/internal/storage"
	"github.com/audiolibrelab/pagedvr/internal/wave"
)

func newTestServer(t *testing.T, budget int) (*httptest.Server, service.Service, *storage.Driver) {
	t.Helper()
	cfg := config.Default()
	cfg.Session.PageBudget = budget
	cfg.Input.PollInterval = time.Millisecond

	store := storage.NewMemDriver()
	svc, err := service.New(cfg,
		service.WithStorage(store),
		service.WithDevices(&audio.Devices{ADC: &audio.RampADC{}, PWM: audio.NullPWM{}, Indicator: audio.NewLampIndicator()}),
		service.WithConsole(io.Discard),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(New(svc, "0").Handler())
	t.Cleanup(ts.Close)
	return ts, svc, store
}

func TestStatus_Stopped(t *testing.T) {
	ts, _, _ := newTestServer(t, 4)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "STOPPED", status.Status)
	assert.Equal(t, 15625, status.Config.SampleRate)
	assert.Equal(t, "EGB240.WAV", status.Config.FileName)
}

func TestButtons_MethodAndBusy(t *testing.T) {
	ts, svc, _ := newTestServer(t, 1000)

	resp, err := http.Get(ts.URL + "/record")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	resp, err = http.Post(ts.URL+"/record", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	wait, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, svc.Await(wait, session.Recording))

	resp, err = http.Post(ts.URL+"/play", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, svc.Await(wait, session.Stopped))
}

func TestFiles_ListDownloadInfo(t *testing.T) {
	ts, _, store := newTestServer(t, 4)

	f, err := wave.Create(store, "EGB240.WAV", wave.DefaultFormat)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	resp, err := http.Get(ts.URL + "/api/files")
	require.NoError(t, err)
	var files FilesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	resp.Body.Close()
	require.Equal(t, 1, files.Count)
	assert.Equal(t, "/api/files/download/EGB240.WAV", files.Files[0].DownloadURL)

	resp, err = http.Get(ts.URL + files.Files[0].DownloadURL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body, wave.HeaderSize+1024)
	assert.True(t, strings.HasPrefix(string(body), "RIFF"))

	resp, err = http.Get(ts.URL + "/api/files/download/missing.wav")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/files/info/EGB240.WAV")
	require.NoError(t, err)
	var info wave.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, 2, info.Pages)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, 4)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "pagedvr_session_state")
}

func TestIndex(t *testing.T) {
	ts, _, _ := newTestServer(t, 4)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
