package match_test

import (
	"testing"

	"github.com/dkoval/jobsift/jobs"
	"github.com/dkoval/jobsift/match"
)

func titled(title string) jobs.Job {
	return jobs.Job{ID: title, Title: title, Company: "AnyCo", Source: "test"}
}

func TestExcludedTitleScoresZero(t *testing.T) {
	m := match.New(nil, nil, 1)
	j := titled("Senior Software Engineer")
	scores := m.Score(&j)
	for cat, n := range scores {
		if n != 0 {
			t.Errorf("category %s scored %d for an excluded title", cat, n)
		}
	}
	if m.Relevant(&j) {
		t.Error("excluded job reported as relevant")
	}
}

func TestCustomerSupportSpecialistMatches(t *testing.T) {
	m := match.New(nil, nil, 1)
	j := titled("Customer Support Specialist")
	scores := m.Score(&j)
	if scores["customer_support"] == 0 {
		t.Errorf("customer_support score = 0, want > 0 (scores: %v)", scores)
	}
	if scores["support_roles"] == 0 {
		t.Errorf("support_roles score = 0, want > 0 (scores: %v)", scores)
	}
	if !m.Relevant(&j) {
		t.Error("support job reported as not relevant")
	}
}

func TestExcludeBeatsKeywords(t *testing.T) {
	// The exclude pattern wins even when taxonomy keywords also match.
	m := match.New(nil, nil, 1)
	j := titled("Software Engineer, Customer Support Tools")
	if m.Relevant(&j) {
		t.Error("excluded title with support keywords reported as relevant")
	}
}

func TestWordBoundaries(t *testing.T) {
	m := match.New(match.Taxonomy{"ops": {"operations"}}, []string{}, 1)
	inside := titled("Cooperationsburg Tour Guide")
	if m.Relevant(&inside) {
		t.Error("substring matched across word boundary")
	}
	exact := titled("Operations Lead")
	if !m.Relevant(&exact) {
		t.Error("word-boundary match missed")
	}
}

func TestDescriptionContributes(t *testing.T) {
	m := match.New(nil, nil, 1)
	j := jobs.Job{
		ID:          "x",
		Title:       "Account Associate",
		Company:     "AnyCo",
		Source:      "test",
		Description: "You will handle customer support tickets and onboarding.",
	}
	if !m.Relevant(&j) {
		t.Error("description keywords not counted")
	}
}

func TestMinScore(t *testing.T) {
	// With min_score 3, a single keyword hit is not enough.
	m := match.New(match.Taxonomy{"ops": {"operations analyst"}}, []string{}, 3)
	j := titled("Operations Analyst")
	// Matches: the phrase plus the allow-listed "operations" component = 2.
	if m.Relevant(&j) {
		t.Error("2 matches should not meet min_score 3")
	}
}

func TestComponentAllowList(t *testing.T) {
	m := match.New(match.Taxonomy{"cs": {"customer support"}}, []string{}, 1)
	// "customer" alone is allow-listed, so a title containing only the
	// component word still matches the category.
	j := titled("Customer Advocate")
	if !m.Relevant(&j) {
		t.Error("allow-listed component word did not match")
	}
	// "specialist" is not in any phrase here and "advocate" is not
	// allow-listed; an unrelated title must not match.
	other := titled("Forklift Operator")
	if m.Relevant(&other) {
		t.Error("unrelated title matched")
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	m := match.New(nil, nil, 1)
	in := []jobs.Job{
		titled("Customer Support Agent"),
		titled("Senior Software Engineer"),
		titled("Onboarding Specialist"),
	}
	out := m.Filter(in)
	if len(out) != 2 {
		t.Fatalf("got %d jobs, want 2", len(out))
	}
	if out[0].Title != "Customer Support Agent" || out[1].Title != "Onboarding Specialist" {
		t.Errorf("order not preserved: %v, %v", out[0].Title, out[1].Title)
	}
}
