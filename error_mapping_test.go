package main

import (
	"fmt"
	"net/http"
	"testing"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

func TestHttpStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{utils.ErrorInvalidRequest, http.StatusBadRequest},
		{utils.ErrorForbidden, http.StatusForbidden},
		{utils.ErrorRecordNotFound, http.StatusNotFound},
		{utils.ErrorInsufficientStock, http.StatusUnprocessableEntity},
		{utils.ErrorIdempotencyConflict, http.StatusConflict},
		{utils.ErrorConflict, http.StatusConflict},
		{utils.ErrorUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpStatusForError(tc.err); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}

	// wrapped sentinels must classify the same way
	wrapped := fmt.Errorf("%w: product p1 has 2 on hand, 5 requested", utils.ErrorInsufficientStock)
	if got := httpStatusForError(wrapped); got != http.StatusUnprocessableEntity {
		t.Errorf("wrapped sentinel: expected 422, got %d", got)
	}
}
