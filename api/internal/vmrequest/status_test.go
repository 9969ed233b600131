package vmrequest

import "testing"

func TestStatusTransitions(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusApproved},
		{StatusPending, StatusRejected},
		{StatusPending, StatusCancelled},
		{StatusPending, StatusProvisioning},
		{StatusApproved, StatusProvisioning},
		{StatusProvisioning, StatusReady},
		{StatusProvisioning, StatusFailed},
	}
	for _, pair := range allowed {
		if !pair[0].CanTransitionTo(pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	blocked := [][2]Status{
		{StatusApproved, StatusCancelled},
		{StatusRejected, StatusApproved},
		{StatusCancelled, StatusProvisioning},
		{StatusReady, StatusCancelled},
		{StatusFailed, StatusProvisioning},
		{StatusProvisioning, StatusApproved},
	}
	for _, pair := range blocked {
		if pair[0].CanTransitionTo(pair[1]) {
			t.Fatalf("expected %s -> %s to be blocked", pair[0], pair[1])
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusCancelled, StatusReady, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusApproved, StatusProvisioning} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	if NormalizeStatus("  pending ") != StatusPending {
		t.Fatalf("normalize should uppercase and trim")
	}
	if NormalizeStatus("bogus").Valid() {
		t.Fatalf("bogus status should not validate")
	}
}
