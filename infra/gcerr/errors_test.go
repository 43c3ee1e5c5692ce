package gcerr

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestClassification(t *testing.T) {
	ex := Exhausted("space %s full", "nursery")
	if !IsExhausted(ex) || IsFatal(ex) || IsOutOfMemory(ex) {
		t.Fatalf("exhaustion misclassified: %v", ex)
	}

	oom := OutOfMemory(ex, "alloc %d bytes", 64)
	if !IsOutOfMemory(oom) || !IsExhausted(oom) {
		t.Fatalf("wrapped oom should keep both marks: %v", oom)
	}

	if !IsFatal(Violation("alloc during stop-the-world")) {
		t.Fatal("violation must be fatal")
	}
	if !IsFatal(Corruption("mark bit unmapped")) {
		t.Fatal("corruption must be fatal")
	}
}

func TestMarksSurviveWrapping(t *testing.T) {
	err := errors.Wrap(Exhausted("chunk table full"), "acquire pages")
	if !IsExhausted(err) {
		t.Fatalf("wrapped error lost its mark: %v", err)
	}
}

func TestFatalPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected Fatal to panic")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("unexpected panic value: %v", r)
		}
	}()
	Fatalf("bucket %d reopened", 3)
}

func TestCheck(t *testing.T) {
	Check(true, "never fires")

	defer func() {
		if recover() == nil {
			t.Fatal("expected Check(false) to panic")
		}
	}()
	Check(false, "forwarding pointer for %s missing", "obj")
}
