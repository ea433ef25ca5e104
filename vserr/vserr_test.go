package vserr

import (
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{BadParam, NoResources, AdmissionDenied, NotFound, Busy, DeathPending, Fatal} {
		err := New(k, "boom %d", 1)
		if got := KindOf(err); got != k {
			t.Errorf("KindOf(New(%s,...)) = %s, want %s", k, got, k)
		}
		if status.Code(err) != k.code() {
			t.Errorf("status.Code(New(%s,...)) = %s, want %s", k, status.Code(err), k.code())
		}
	}
}

func TestIs(t *testing.T) {
	err := New(Busy, "retry")
	if !Is(err, Busy) {
		t.Errorf("Is(err, Busy) = false, want true")
	}
	if Is(err, Fatal) {
		t.Errorf("Is(err, Fatal) = true, want false")
	}
	if KindOf(fmt.Errorf("plain")) != Unknown {
		t.Errorf("KindOf(plain error) != Unknown")
	}
}

func TestWrap(t *testing.T) {
	cause := status.Errorf(codes.NotFound, "no such group")
	err := Wrap(NotFound, cause)
	if KindOf(err) != NotFound {
		t.Errorf("KindOf(Wrap) = %s, want NotFound", KindOf(err))
	}
	if status.Code(err) != codes.NotFound {
		t.Errorf("status.Code(Wrap) = %s, want NotFound", status.Code(err))
	}
}
