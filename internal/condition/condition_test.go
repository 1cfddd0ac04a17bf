package condition

import (
	"testing"

	"github.com/HydJing/conveyor/internal/domain"
)

func ctx(branch string, event domain.EventKind) domain.RunContext {
	return domain.RunContext{Pipeline: "web-deploy", Branch: branch, Event: event}
}

func TestBranchMatches(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		branch   string
		want     bool
	}{
		{"empty patterns match anything", nil, "main", true},
		{"exact match", []string{"main"}, "main", true},
		{"no match", []string{"main"}, "develop", false},
		{"glob match", []string{"release/*"}, "release/1.2", true},
		{"glob no match", []string{"release/*"}, "main", false},
		{"second pattern matches", []string{"main", "hotfix/*"}, "hotfix/oops", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BranchMatches(tt.patterns).Eval(ctx(tt.branch, domain.EventPush), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("BranchMatches(%v) on %q = %v, want %v", tt.patterns, tt.branch, got, tt.want)
			}
		})
	}
}

func TestEventIs(t *testing.T) {
	cond := EventIs([]domain.EventKind{domain.EventPush, domain.EventManual})

	ok, err := cond.Eval(ctx("main", domain.EventPush), nil)
	if err != nil || !ok {
		t.Errorf("push should match, ok=%v err=%v", ok, err)
	}

	ok, err = cond.Eval(ctx("main", domain.EventSchedule), nil)
	if err != nil || ok {
		t.Errorf("schedule should not match, ok=%v err=%v", ok, err)
	}
}

func TestUpstreamAllows(t *testing.T) {
	succeeded := Outcomes{"a": domain.ExecutionSucceeded, "b": domain.ExecutionSucceeded}
	failed := Outcomes{"a": domain.ExecutionSucceeded, "b": domain.ExecutionFailed}
	cancelled := Outcomes{"a": domain.ExecutionCancelled}

	tests := []struct {
		name     string
		when     domain.RunWhen
		upstream Outcomes
		want     bool
	}{
		{"on_success all ok", domain.WhenOnSuccess, succeeded, true},
		{"on_success with failure", domain.WhenOnSuccess, failed, false},
		{"on_success with cancellation", domain.WhenOnSuccess, cancelled, false},
		{"on_failure with failure", domain.WhenOnFailure, failed, true},
		{"on_failure all ok", domain.WhenOnFailure, succeeded, false},
		{"on_failure with cancellation only", domain.WhenOnFailure, cancelled, false},
		{"always with failure", domain.WhenAlways, failed, true},
		{"always with cancellation", domain.WhenAlways, cancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UpstreamAllows(tt.when).Eval(ctx("main", domain.EventPush), tt.upstream)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("UpstreamAllows(%s) = %v, want %v", tt.when, got, tt.want)
			}
		})
	}
}

func TestExpression(t *testing.T) {
	rc := domain.RunContext{
		Pipeline:  "web-deploy",
		Branch:    "main",
		Event:     domain.EventPush,
		CommitSHA: "abc123",
		Meta:      map[string]string{"env": "prod"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty expression is true", "", true},
		{"branch equality", `eq .Branch "main"`, true},
		{"branch inequality", `eq .Branch "develop"`, false},
		{"meta access", `eq .Meta.env "prod"`, true},
		{"conjunction", `and (eq .Event "push") (eq .Branch "main")`, true},
		{"wrapped expression", `{{ eq .Branch "main" }}`, false}, // двойное {{ }} — невалидный синтаксис внутри if
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expression(tt.expr).Eval(rc, nil)
			if tt.name == "wrapped expression" {
				if err == nil {
					t.Error("expected parse error for wrapped expression")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expression(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEval_Deterministic(t *testing.T) {
	job := &domain.JobSpec{
		ID:       "deploy",
		Branches: []string{"main"},
		Events:   []domain.EventKind{domain.EventPush},
		If:       `eq .Meta.ready "yes"`,
	}
	rc := domain.RunContext{
		Branch: "main",
		Event:  domain.EventPush,
		Meta:   map[string]string{"ready": "yes"},
	}
	upstream := Outcomes{"test": domain.ExecutionSucceeded}

	// Повторное вычисление с теми же входами всегда даёт тот же вердикт
	for i := 0; i < 5; i++ {
		verdict, err := Eval(job, rc, upstream)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if verdict != VerdictRun {
			t.Fatalf("iteration %d: verdict = %s, want run", i, verdict)
		}
	}
}

func TestEval_SkipOnFailedDependency(t *testing.T) {
	job := &domain.JobSpec{ID: "deploy", DependsOn: []string{"test"}}
	upstream := Outcomes{"test": domain.ExecutionFailed}

	verdict, err := Eval(job, ctx("main", domain.EventPush), upstream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != VerdictSkip {
		t.Errorf("verdict = %s, want skip", verdict)
	}
}

func TestEval_RunOnFailureOptIn(t *testing.T) {
	job := &domain.JobSpec{ID: "cleanup", DependsOn: []string{"test"}, When: domain.WhenOnFailure}
	upstream := Outcomes{"test": domain.ExecutionFailed}

	verdict, err := Eval(job, ctx("main", domain.EventPush), upstream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != VerdictRun {
		t.Errorf("verdict = %s, want run", verdict)
	}
}

func TestValidateExpression(t *testing.T) {
	if err := ValidateExpression(`eq .Branch "main"`); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateExpression(`eq .Branch "main`); err == nil {
		t.Error("invalid expression accepted")
	}
}
