package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("handler: %w", New(SearchFailed, "twitter search", cause))

	if KindOf(err) != SearchFailed {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
	if !IsKind(err, SearchFailed) {
		t.Fatalf("expected IsKind to match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Fatalf("expected unknown kind")
	}
	if IsKind(nil, InvalidCredential) {
		t.Fatalf("nil must not match any kind")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(ClassificationFailed, "classify", errors.New("model unavailable"))
	want := "classification_failed: classify: model unavailable"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}

	bare := New(InvalidCredential, "", nil)
	if bare.Error() != "invalid_credential" {
		t.Fatalf("unexpected message %q", bare.Error())
	}
}
