package logic

import "testing"

func TestStreakFiresOnRequiredCount(t *testing.T) {
	s := NewStreak(3)

	if s.Observe(true) {
		t.Error("fired after 1 hit")
	}
	if s.Observe(true) {
		t.Error("fired after 2 hits")
	}
	if !s.Observe(true) {
		t.Error("should fire on 3rd hit")
	}
	if s.Count() != 3 {
		t.Errorf("count: got %d, want 3", s.Count())
	}
}

func TestStreakMissResets(t *testing.T) {
	s := NewStreak(3)
	s.Observe(true)
	s.Observe(true)

	if s.Observe(false) {
		t.Error("miss should not fire")
	}
	if s.Count() != 0 {
		t.Errorf("count after miss: got %d, want 0", s.Count())
	}

	s.Observe(true)
	s.Observe(true)
	if s.Reached() {
		t.Error("should need 3 fresh hits after a miss")
	}
}

func TestStreakCapped(t *testing.T) {
	s := NewStreak(3)
	for i := 0; i < 10; i++ {
		s.Observe(true)
	}
	if s.Count() != 3 {
		t.Errorf("count should be capped at 3, got %d", s.Count())
	}
	if !s.Observe(true) {
		t.Error("should keep reporting reached while hits continue")
	}
}

func TestStreakReset(t *testing.T) {
	s := NewStreak(2)
	s.Observe(true)
	s.Observe(true)
	s.Reset()
	if s.Count() != 0 || s.Reached() {
		t.Errorf("after reset: count=%d reached=%v", s.Count(), s.Reached())
	}
}

func TestStreakMinimumRequired(t *testing.T) {
	s := NewStreak(0)
	if s.Required() != 1 {
		t.Errorf("required: got %d, want 1", s.Required())
	}
	if !s.Observe(true) {
		t.Error("required=1 should fire on first hit")
	}
}

func TestBandClassify(t *testing.T) {
	b := Band{Target: 25, Margin: 1}

	tests := []struct {
		v    float64
		want Position
	}{
		{23.9, Below},
		{24.0, Inside},
		{25.0, Inside},
		{26.0, Inside},
		{26.1, Above},
	}
	for _, tt := range tests {
		if got := b.Classify(tt.v); got != tt.want {
			t.Errorf("Classify(%v): got %s, want %s", tt.v, got, tt.want)
		}
	}
	if b.Lower() != 24 || b.Upper() != 26 {
		t.Errorf("bounds: got %v..%v", b.Lower(), b.Upper())
	}
}

func TestStateOf(t *testing.T) {
	if StateOf(true) != StateOn || StateOf(false) != StateOff {
		t.Error("StateOf mismatch")
	}
}
