package jobs_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/dkoval/jobsift/jobs"
)

func validJob() jobs.Job {
	return jobs.Job{
		ID:      "abc123",
		Title:   "Customer Support Specialist",
		Company: "TechCorp",
		URL:     "https://example.com/jobs/abc123",
		Source:  "example",
	}
}

func TestValidate_OK(t *testing.T) {
	j := validJob()
	if err := j.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*jobs.Job)
	}{
		{"empty id", func(j *jobs.Job) { j.ID = "  " }},
		{"empty title", func(j *jobs.Job) { j.Title = "" }},
		{"whitespace title", func(j *jobs.Job) { j.Title = "   " }},
		{"empty company", func(j *jobs.Job) { j.Company = "\t" }},
		{"empty source", func(j *jobs.Job) { j.Source = "" }},
		{"relative url", func(j *jobs.Job) { j.URL = "/jobs/123" }},
		{"schemeless url", func(j *jobs.Job) { j.URL = "example.com/jobs" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := validJob()
			tc.mutate(&j)
			if err := j.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidate_EmptyURLAllowed(t *testing.T) {
	j := validJob()
	j.URL = ""
	if err := j.Validate(); err != nil {
		t.Errorf("empty URL should be allowed: %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	maxAge := 7 * 24 * time.Hour

	cases := []struct {
		name string
		job  jobs.Job
		want bool
	}{
		{"last_seen 10 days ago", jobs.Job{LastSeen: now.Add(-10 * 24 * time.Hour)}, true},
		{"last_seen 1 day ago", jobs.Job{LastSeen: now.Add(-24 * time.Hour)}, false},
		{"explicit future expiry overrides stale last_seen",
			jobs.Job{LastSeen: now.Add(-30 * 24 * time.Hour), Expires: now.Add(24 * time.Hour)}, false},
		{"explicit past expiry", jobs.Job{LastSeen: now.Add(-time.Hour), Expires: now.Add(-time.Minute)}, true},
		{"posted_at stands in for last_seen", jobs.Job{PostedAt: now.Add(-8 * 24 * time.Hour)}, true},
		{"no timestamps never expires", jobs.Job{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Expired(now, maxAge); got != tc.want {
				t.Errorf("Expired = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilterExpired(t *testing.T) {
	now := time.Now()
	fresh := validJob()
	fresh.LastSeen = now.Add(-time.Hour)
	stale := validJob()
	stale.ID = "stale"
	stale.LastSeen = now.Add(-10 * 24 * time.Hour)

	kept, removed := jobs.FilterExpired([]jobs.Job{fresh, stale, fresh}, now, 7*24*time.Hour)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if len(kept) != 2 {
		t.Fatalf("kept %d jobs, want 2", len(kept))
	}
	for _, j := range kept {
		if j.ID == "stale" {
			t.Error("stale job survived the filter")
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	in := validJob()
	in.Location = "Berlin"
	in.Salary = "€55k–€70k"
	in.JobType = "full-time"
	in.ExperienceLevel = "mid"
	in.IsRemote = true
	in.Description = "Front-line support for enterprise accounts."
	in.Skills = []string{"zendesk", "sql"}
	in.PostedAt = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	in.LastSeen = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out jobs.Job
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}
