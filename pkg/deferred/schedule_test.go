package deferred

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     ScheduleKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: ScheduleCron, source: "cron"},
		{name: "cron seconds", raw: "*/10 * * * * *", kind: ScheduleCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: ScheduleCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: ScheduleCron, source: "cron"},
		{name: "duration", raw: "10m", kind: ScheduleInterval, source: "duration", duration: 10 * time.Minute},
		{name: "sub-second", raw: "250ms", kind: ScheduleInterval, source: "duration", duration: 250 * time.Millisecond},
		{name: "prefixed interval", raw: "interval:45s", kind: ScheduleInterval, source: "duration", duration: 45 * time.Second},
		{name: "prefixed every", raw: "every: 2h", kind: ScheduleInterval, source: "duration", duration: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", kind: ScheduleInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == ScheduleInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if _, err := got.Schedule(); err != nil {
				t.Fatalf("Schedule() error: %v", err)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "interval:", "cron:", "00:75", "interval:-1s", "00:00"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	ps, err := ParseSchedule("cron:61 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule error: %v", err)
	}
	if _, err := ps.Schedule(); err == nil {
		t.Fatal("expected error for minute 61")
	}
}

func TestIntervalScheduleNext(t *testing.T) {
	t.Parallel()
	ps, err := ParseSchedule("150ms")
	if err != nil {
		t.Fatalf("ParseSchedule error: %v", err)
	}
	s, err := ps.Schedule()
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := s.Next(now); got.Sub(now) != 150*time.Millisecond {
		t.Fatalf("Next = %v, want +150ms", got.Sub(now))
	}
}
