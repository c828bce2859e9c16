package props

import "testing"

func TestFromWireRoundTrip(t *testing.T) {
	m, err := FromWire(map[string][]any{"name": {"svc"}, "port": {float64(8080)}})
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if got := m.ToWire()["name"]; len(got) != 1 || got[0] != "svc" {
		t.Errorf("name = %v, want [svc]", got)
	}
	if got := m.ToWire()["port"]; len(got) != 1 || got[0] != int64(8080) {
		t.Errorf("port = %v, want [8080]", got)
	}
}

func TestFromWireRejectsNonIntegerNumber(t *testing.T) {
	if _, err := FromWire(map[string][]any{"weight": {1.5}}); err == nil {
		t.Fatal("expected an error for a non-integer JSON number")
	}
}

func TestFromWireRejectsOtherTypes(t *testing.T) {
	if _, err := FromWire(map[string][]any{"flag": {true}}); err == nil {
		t.Fatal("expected an error for a non-string, non-number value")
	}
}
