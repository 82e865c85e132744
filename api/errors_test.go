package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not eligible", &absence.CannotUpdateError{Reason: absence.ReasonNotEligible}, http.StatusUnauthorized},
		{"terminal", &absence.CannotUpdateError{Reason: absence.ReasonTerminal, Status: absence.StatusAccepted}, http.StatusUnauthorized},
		{"employee manages project", absence.ErrEmployeeNotAllowed, http.StatusForbidden},
		{"foreign project", fmt.Errorf("assign: %w", absence.ErrNotReferringManager), http.StatusForbidden},
		{"unassigned project", absence.ErrNotAssigned, http.StatusForbidden},
		{"missing assignment", absence.ErrAssignmentNotFound, http.StatusNotFound},
		{"missing event", absence.ErrEventNotFound, http.StatusNotFound},
		{"bad input", fmt.Errorf("%w: date", generic.ErrInvalidInput), http.StatusBadRequest},
		{"bad window", generic.ErrInvalidPeriod, http.StatusBadRequest},
		{"same day", &absence.UnavailableError{Reason: absence.UnavailableSameDay}, http.StatusConflict},
		{"duplicate user", absence.ErrUserAlreadyExists, http.StatusConflict},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := statusFor(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("Warning").String())
	assert.Equal(t, "INFO", ParseLevel("verbose").String())
}
