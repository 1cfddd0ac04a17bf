package pipespec

import (
	"errors"
	"strings"
	"testing"

	"github.com/HydJing/conveyor/internal/domain"
)

const validSpec = `
name: webapp
description: build, test and deploy the web application
triggers:
  events: [push, pull_request]
  branches: [main, "release/*"]
  schedules:
    - cron: "0 4 * * *"
      branch: main
environments:
  staging:
    external_url: https://staging.example.com
  production:
    protection:
      min_approvals: 2
      branches: [main]
jobs:
  - id: lint
  - id: test
  - id: build
    depends_on: [lint, test]
    produces: [binary]
  - id: deploy-staging
    depends_on: [build]
    consumes: [binary]
    environment: staging
    concurrency:
      group: "{{ .Pipeline }}-staging"
      cancel_in_progress: true
  - id: deploy-production
    depends_on: [deploy-staging]
    consumes: [binary]
    branches: [main]
    environment: production
    if: 'eq .Event "push"'
  - id: cleanup
    depends_on: [deploy-production]
    when: always
    continue_on_error: true
`

func TestParse_ValidSpec(t *testing.T) {
	spec, err := Parse([]byte(validSpec))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if spec.Name != "webapp" {
		t.Errorf("Name = %q", spec.Name)
	}
	if len(spec.Jobs) != 6 {
		t.Fatalf("Jobs = %d, want 6", len(spec.Jobs))
	}
	if len(spec.Triggers.Events) != 2 || spec.Triggers.Events[0] != domain.EventPush {
		t.Errorf("Triggers.Events = %v", spec.Triggers.Events)
	}
	if len(spec.Triggers.Schedules) != 1 || spec.Triggers.Schedules[0].Cron != "0 4 * * *" {
		t.Errorf("Schedules = %v", spec.Triggers.Schedules)
	}

	prod, ok := spec.Environment("production")
	if !ok {
		t.Fatal("production environment missing")
	}
	if !prod.Protected() || prod.Protection.MinApprovals != 2 {
		t.Errorf("production protection = %+v", prod.Protection)
	}
	if prod.Name != "production" {
		t.Errorf("environment Name = %q, want key name", prod.Name)
	}

	deploy, ok := spec.Job("deploy-staging")
	if !ok {
		t.Fatal("deploy-staging missing")
	}
	if deploy.Concurrency == nil || !deploy.Concurrency.CancelInProgress {
		t.Errorf("deploy-staging concurrency = %+v", deploy.Concurrency)
	}

	cleanup, _ := spec.Job("cleanup")
	if cleanup.EffectiveWhen() != domain.WhenAlways {
		t.Errorf("cleanup when = %s", cleanup.EffectiveWhen())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "jobs:\n  - id: a\n",
			want: "name is required",
		},
		{
			name: "cycle",
			yaml: "name: p\njobs:\n  - id: a\n    depends_on: [b]\n  - id: b\n    depends_on: [a]\n",
			want: "cyclic",
		},
		{
			name: "dangling dependency",
			yaml: "name: p\njobs:\n  - id: a\n    depends_on: [ghost]\n",
			want: "ghost",
		},
		{
			name: "duplicate job id",
			yaml: "name: p\njobs:\n  - id: a\n  - id: a\n",
			want: "duplicate",
		},
		{
			name: "unknown trigger event",
			yaml: "name: p\ntriggers:\n  events: [merge]\njobs:\n  - id: a\n",
			want: "unknown trigger event",
		},
		{
			name: "unknown job event",
			yaml: "name: p\njobs:\n  - id: a\n    events: [merge]\n",
			want: "unknown event",
		},
		{
			name: "bad cron",
			yaml: "name: p\ntriggers:\n  schedules:\n    - cron: \"not a cron\"\n      branch: main\njobs:\n  - id: a\n",
			want: "cron",
		},
		{
			name: "schedule without branch",
			yaml: "name: p\ntriggers:\n  schedules:\n    - cron: \"0 4 * * *\"\njobs:\n  - id: a\n",
			want: "branch is required",
		},
		{
			name: "unknown environment",
			yaml: "name: p\njobs:\n  - id: a\n    environment: mars\n",
			want: "unknown environment",
		},
		{
			name: "unknown when",
			yaml: "name: p\njobs:\n  - id: a\n    when: sometimes\n",
			want: "when policy",
		},
		{
			name: "empty concurrency group",
			yaml: "name: p\njobs:\n  - id: a\n    concurrency:\n      group: \"\"\n",
			want: "concurrency group",
		},
		{
			name: "bad if expression",
			yaml: "name: p\njobs:\n  - id: a\n    if: 'eq .Branch \"main'\n",
			want: "if expression",
		},
		{
			name: "consumed artifact not produced",
			yaml: "name: p\njobs:\n  - id: a\n  - id: b\n    depends_on: [a]\n    consumes: [binary]\n",
			want: "not produced",
		},
		{
			name: "artifact produced by non-dependency",
			yaml: "name: p\njobs:\n  - id: a\n    produces: [binary]\n  - id: b\n    consumes: [binary]\n",
			want: "not produced",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, ErrSpecInvalid) {
				t.Fatalf("err = %v, want ErrSpecInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestParse_TransitiveArtifact(t *testing.T) {
	// b потребляет артефакт, произведённый транзитивной зависимостью a
	spec := `
name: p
jobs:
  - id: a
    produces: [binary]
  - id: mid
    depends_on: [a]
  - id: b
    depends_on: [mid]
    consumes: [binary]
`
	if _, err := Parse([]byte(spec)); err != nil {
		t.Fatalf("transitive artifact must validate: %v", err)
	}
}
