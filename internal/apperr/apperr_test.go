package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("accept ride: %w", Conflict("ride no longer available"))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected ErrConflict through wrapping")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("conflict must not match validation")
	}
	e, ok := As(err)
	if !ok || e.Message != "ride no longer available" {
		t.Fatalf("As() = %v, %v", e, ok)
	}
}

func TestWithReasonAndDetailCopy(t *testing.T) {
	base := Validation("ride can no longer be canceled")
	withReason := base.WithReason("Ride has already been completed.")
	if base.Reason != "" {
		t.Fatal("WithReason must not mutate the receiver")
	}
	if withReason.Error() != "ride can no longer be canceled: Ride has already been completed." {
		t.Fatalf("unexpected message %q", withReason.Error())
	}
	withDetail := Conflict("active ride").WithDetail(42)
	if withDetail.Detail != 42 || !errors.Is(withDetail, ErrConflict) {
		t.Fatalf("unexpected detail error %+v", withDetail)
	}
}
