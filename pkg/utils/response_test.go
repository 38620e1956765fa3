package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSendSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/home", nil)

	SendSuccess(c, map[string]string{"id": "H1"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestSendError_NotFoundSuggestions(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/device/D1?x=1", nil)

	SendError(c, http.StatusNotFound, "not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, c.IsAborted())

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "/api/device/D1", resp.Request.Path)
	assert.Equal(t, "x=1", resp.Request.Query)

	details, ok := resp.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, details["suggestions"], "/api/devices")
}

func TestSendErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/devices/D1/switch", nil)

	SendErrorWithDetails(c, http.StatusBadGateway, "rejected", map[string]interface{}{"kind": "rest_call"})

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Equal(t, "rest_call", resp.Details.(map[string]interface{})["kind"])
}
