package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestServiceError_Wrapping(t *testing.T) {
	cause := New("connection refused")
	err := fmt.Errorf("sync: %w", Upstream("consensus", cause))

	serviceErr := GetServiceError(err)
	if serviceErr == nil {
		t.Fatal("GetServiceError() returned nil")
	}
	if serviceErr.HTTPStatus != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d, want %d", serviceErr.HTTPStatus, http.StatusBadGateway)
	}
	if !Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	if serviceErr.Details["service"] != "consensus" {
		t.Errorf("details = %v", serviceErr.Details)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("prediction", "p-1"), http.StatusNotFound},
		{"validation", Validation("price", "price must be positive"), http.StatusBadRequest},
		{"timeout", Timeout("predict", 5*time.Second), http.StatusGatewayTimeout},
		{"plain", New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTimeout_Message(t *testing.T) {
	err := Timeout("predict", 1500*time.Millisecond)
	if err.Message != "timeout after 1.5s" {
		t.Errorf("Message = %q", err.Message)
	}
}
