package utils

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse represents an error response with request context
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// knownEndpoints are offered as suggestions on 404
var knownEndpoints = []string{
	"/health",
	"/metrics",
	"/api/pairing",
	"/api/devices",
	"/api/groups",
	"/api/clients",
	"/api/home",
	"/api/home/absence",
	"/api/snapshot/reload",
	"/api/events/ws",
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendAccepted acknowledges work that completes asynchronously
func SendAccepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendError sends an error response with request context
func SendError(c *gin.Context, statusCode int, message string) {
	SendErrorWithDetails(c, statusCode, message, nil)
}

// SendErrorWithDetails sends an error response carrying extra details
func SendErrorWithDetails(c *gin.Context, statusCode int, message string, details interface{}) {
	errorResponse := ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
		Details: details,
	}

	if statusCode == http.StatusNotFound && details == nil {
		if suggestions := suggestEndpoints(c.Request.URL.Path); len(suggestions) > 0 {
			errorResponse.Details = map[string]interface{}{
				"suggestions": suggestions,
			}
		}
	}

	c.AbortWithStatusJSON(statusCode, errorResponse)
}

// suggestEndpoints returns known endpoints sharing a path segment with path
func suggestEndpoints(path string) []string {
	var segments []string
	for _, s := range strings.Split(strings.ToLower(path), "/") {
		if s != "" && s != "api" {
			segments = append(segments, s)
		}
	}

	seen := make(map[string]bool)
	var suggestions []string
	for _, endpoint := range knownEndpoints {
		for _, s := range segments {
			if strings.Contains(endpoint, s) && !seen[endpoint] {
				seen[endpoint] = true
				suggestions = append(suggestions, endpoint)
			}
		}
		if len(suggestions) >= 5 {
			break
		}
	}
	return suggestions
}
