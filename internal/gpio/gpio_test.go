package gpio

import "testing"

func TestMockDriver(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	m, ok := d.(*MockDriver)
	if !ok {
		t.Fatalf("driver = %T, want *MockDriver", d)
	}

	if err := m.SetupOutput(4); err != nil {
		t.Fatal(err)
	}
	if m.Level(4) != Low {
		t.Fatal("new output should be low")
	}
	m.WritePin(4, High)
	m.WritePin(4, Low)
	m.WritePin(4, High)
	if m.Level(4) != High || m.Writes() != 3 {
		t.Fatalf("level = %v, writes = %d", m.Level(4), m.Writes())
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}
