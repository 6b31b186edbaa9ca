package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/benmeehan/display-agent/internal/constants"
	"github.com/benmeehan/display-agent/internal/models"
	"github.com/benmeehan/display-agent/pkg/encryption"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUpdateRequester struct {
	mock.Mock
}

func (m *mockUpdateRequester) Status() models.UpdateStatus {
	args := m.Called()
	return args.Get(0).(models.UpdateStatus)
}

func (m *mockUpdateRequester) RequestCheck() {
	m.Called()
}

func (m *mockUpdateRequester) RequestManualUpdate() {
	m.Called()
}

func (m *mockUpdateRequester) ClearFailedVersion() error {
	args := m.Called()
	return args.Error(0)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestStatusServer_GetStatus tests the status document endpoint.
func TestStatusServer_GetStatus(t *testing.T) {
	// Setup
	updates := new(mockUpdateRequester)
	updates.On("Status").Return(models.UpdateStatus{State: constants.UpdateStateIdle, CurrentVersion: "1.4.0"})
	server := NewStatusServer("127.0.0.1:0", &StatusReporter{DeviceID: "dev-1", Version: "1.4.0", Updates: updates}, updates, nil, zerolog.Nop())

	// Execute
	rec := serve(server.Router(), httptest.NewRequest(http.MethodGet, "/api/status", nil))

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string              `json:"status"`
		Data   models.DeviceStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "dev-1", body.Data.DeviceID)
	assert.Equal(t, constants.UpdateStateIdle, body.Data.Update.State)
}

// TestStatusServer_ControlUnsigned tests the control endpoints without a verifier.
func TestStatusServer_ControlUnsigned(t *testing.T) {
	// Setup
	updates := new(mockUpdateRequester)
	updates.On("RequestCheck").Return()
	updates.On("RequestManualUpdate").Return()
	updates.On("ClearFailedVersion").Return(errors.New("disk full")).Once()
	server := NewStatusServer("127.0.0.1:0", &StatusReporter{}, nil, nil, zerolog.Nop())
	server.SetUpdates(updates)
	router := server.Router()

	// Execute
	check := serve(router, httptest.NewRequest(http.MethodPost, "/api/ota/check", nil))
	update := serve(router, httptest.NewRequest(http.MethodPost, "/api/ota/update", nil))
	cleared := serve(router, httptest.NewRequest(http.MethodDelete, "/api/ota/failed-version", nil))

	// Assert
	assert.Equal(t, http.StatusAccepted, check.Code)
	assert.Equal(t, http.StatusAccepted, update.Code)
	assert.Equal(t, http.StatusInternalServerError, cleared.Code)
	assert.Contains(t, cleared.Body.String(), "disk full")
	updates.AssertExpectations(t)
}

// TestStatusServer_ControlSigned tests the signature check on the control endpoints.
func TestStatusServer_ControlSigned(t *testing.T) {
	// Setup
	signer := encryption.NewHMACSigner("SN-1", []byte("secret"))
	updates := new(mockUpdateRequester)
	updates.On("RequestManualUpdate").Return()
	updates.On("Status").Return(models.UpdateStatus{State: constants.UpdateStateIdle})
	server := NewStatusServer("127.0.0.1:0", &StatusReporter{}, updates, signer, zerolog.Nop())
	router := server.Router()

	ts := time.Now().Unix()
	signed := httptest.NewRequest(http.MethodPost, "/api/ota/update", nil)
	signed.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	signed.Header.Set("X-Signature", signer.Signature(ts, nil))

	forged := httptest.NewRequest(http.MethodPost, "/api/ota/update", nil)
	forged.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	forged.Header.Set("X-Signature", "00")

	stale := httptest.NewRequest(http.MethodPost, "/api/ota/update", nil)
	stale.Header.Set("X-Timestamp", strconv.FormatInt(ts-3600, 10))
	stale.Header.Set("X-Signature", signer.Signature(ts-3600, nil))

	// Execute & Assert
	assert.Equal(t, http.StatusUnauthorized, serve(router, forged).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, stale).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, httptest.NewRequest(http.MethodPost, "/api/ota/update", nil)).Code)
	assert.Equal(t, http.StatusAccepted, serve(router, signed).Code)
	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/api/ota", nil)).Code)
	updates.AssertNumberOfCalls(t, "RequestManualUpdate", 1)
}

// TestStatusServer_StartStop tests the server lifecycle used around updates.
func TestStatusServer_StartStop(t *testing.T) {
	// Setup
	server := NewStatusServer("127.0.0.1:0", &StatusReporter{DeviceID: "dev-1"}, nil, nil, zerolog.Nop())

	// Execute
	require.NoError(t, server.Start())
	require.NoError(t, server.Start())
	addr := server.Addr()

	// Assert
	assert.True(t, server.IsRunning())
	resp, err := http.Get("http://" + addr + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, server.Stop())
	assert.False(t, server.IsRunning())
	assert.Empty(t, server.Addr())
	require.NoError(t, server.Stop())
}
