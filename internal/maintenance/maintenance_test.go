package maintenance

import (
	"testing"

	"github.com/movierec/movierec/internal/operation"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestScheduleStateReport(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.ScheduleStateReport("", operation.NewRegistry()); err != nil {
		t.Errorf("Expected no error scheduling state report, got %v", err)
	}
}
