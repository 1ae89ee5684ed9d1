package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	if KindOf(ParamValidation("bad")) != KindParamValidation {
		t.Fatalf("validation kind lost")
	}
	if KindOf(NoContent("empty")) != KindNoContent {
		t.Fatalf("no-content kind lost")
	}
	if KindOf(Downstream("boom", nil)) != KindDownstream {
		t.Fatalf("downstream kind lost")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("plain errors must default to internal")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", NoContent("inner"))
	if !IsKind(err, KindNoContent) {
		t.Fatalf("kind lost through wrapping: %v", err)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ParamValidation("bad"), http.StatusBadRequest},
		{NoContent("empty"), http.StatusNotFound},
		{Downstream("boom", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := Downstream("fetch failed", errors.New("timeout"))
	if err.Error() != "fetch failed: timeout" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if ParamValidation("bad input").Error() != "bad input" {
		t.Fatalf("message-only error wrong")
	}
}
