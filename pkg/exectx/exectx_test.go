package exectx

import (
	"testing"

	"github.com/tombee/orbyt/pkg/limits"
)

func TestBuildPopulatesIdentity(t *testing.T) {
	c := Build("run-1", Ownership{User: "u1", Tier: "pro"}, limits.Pro, Security{Isolation: "basic"}, Request{Mode: "sync"}, limits.Pro.Resources)
	if c.Identity.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", c.Identity.RunID)
	}
	if c.Identity.ExecutionID == "" || c.Identity.TraceID == "" {
		t.Error("expected non-empty execution/trace ids")
	}
}

func TestSealerRoundTrip(t *testing.T) {
	sealer, err := NewSealer()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := Build("run-1", Ownership{User: "u1"}, limits.Free, Security{Isolation: "strict"}, Request{Mode: "sync"}, limits.Free.Resources)

	token, err := sealer.Seal(c)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	identity, security, err := sealer.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if identity.ExecutionID != c.Identity.ExecutionID {
		t.Errorf("ExecutionID round-trip mismatch: %q != %q", identity.ExecutionID, c.Identity.ExecutionID)
	}
	if security.Isolation != "strict" {
		t.Errorf("Isolation round-trip mismatch: %q", security.Isolation)
	}
}

func TestSealerRejectsForgedToken(t *testing.T) {
	sealer1, _ := NewSealer()
	sealer2, _ := NewSealer()
	c := Build("run-1", Ownership{}, limits.Free, Security{}, Request{}, limits.Free.Resources)

	token, err := sealer1.Seal(c)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, _, err := sealer2.Verify(token); err == nil {
		t.Error("expected verification with a different keypair to fail")
	}
}
