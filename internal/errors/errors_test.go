package errors

import (
	"fmt"
	"testing"
)

func TestCategories(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		notFound   bool
		storage    bool
	}{
		{name: "invalid day", err: NewInvalidValue(ErrInvalidDay, "2026-13-01", "bad month"), validation: true},
		{name: "invalid hour", err: Wrap(ErrInvalidHour, "timestamps"), validation: true},
		{name: "segment missing", err: Wrapf(ErrSegmentNotFound, "segment %s", "metrics_2026_01"), notFound: true},
		{name: "database", err: Storage(fmt.Errorf("disk full"), "insert rows"), storage: true},
		{name: "closed", err: ErrStoreClosed, storage: true},
		{name: "plain", err: fmt.Errorf("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation = %v, want %v", got, tt.validation)
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsStorage(tt.err); got != tt.storage {
				t.Errorf("IsStorage = %v, want %v", got, tt.storage)
			}
		})
	}
}

func TestStorageKeepsCause(t *testing.T) {
	cause := fmt.Errorf("constraint violated")
	err := Storage(cause, "upsert leaderboard")

	if !Is(err, cause) {
		t.Error("original cause should stay reachable")
	}
	if !Is(err, ErrDatabase) {
		t.Error("error should be tagged as database error")
	}

	// Re-wrapping must not stack another ErrDatabase.
	again := Storage(err, "save report")
	if again.Error() != "save report: "+err.Error() {
		t.Errorf("unexpected message %q", again.Error())
	}

	if Storage(nil, "noop") != nil {
		t.Error("Storage(nil) should be nil")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Fatal("empty collector should return nil")
	}

	v.AddField("window.ticks", "must be positive")
	v.AddMissing("data_dir")
	v.Add(nil)

	if len(v.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(v.Errors))
	}

	err := v.Err()
	if !Is(err, ErrMissingField) {
		t.Error("collector should unwrap to ErrMissingField")
	}
	if !Is(err, ErrInvalidConfig) {
		t.Error("collector should unwrap to ErrInvalidConfig")
	}
	if !IsValidation(err) {
		t.Error("collector should be a validation error")
	}
}
