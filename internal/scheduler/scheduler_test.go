package scheduler

import "testing"

func TestAddJobValidatesExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("*/15 * * * *", func() {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("invalid expression accepted")
	}
	// 6-field expressions are not accepted by the 5-field parser.
	if err := s.AddJob("0 */15 * * * *", func() {}); err == nil {
		t.Error("6-field expression accepted")
	}
}
