package cron

import (
	"context"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry, err := NewRegistry(namedJob(IngestionSyncJobName), nil, namedJob(InsightsWeeklyJobName))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Name() != IngestionSyncJobName || jobs[1].Name() != InsightsWeeklyJobName {
		t.Fatalf("unexpected order %s, %s", jobs[0].Name(), jobs[1].Name())
	}

	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("expected Jobs to return a copy")
	}

	job, ok := registry.Lookup(InsightsWeeklyJobName)
	if !ok || job.Name() != InsightsWeeklyJobName {
		t.Fatalf("lookup returned %v, %v", job, ok)
	}
	if _, ok := registry.Lookup("missing"); ok {
		t.Fatalf("expected missing job lookup to fail")
	}
}

func TestRegistryRejectsDuplicateAndBlankNames(t *testing.T) {
	if _, err := NewRegistry(namedJob("sync"), namedJob("sync")); err == nil {
		t.Fatalf("expected duplicate name error")
	}

	var registry Registry
	if err := registry.Register(namedJob("")); err == nil {
		t.Fatalf("expected blank name error")
	}
	if err := registry.Register(namedJob("sync")); err != nil {
		t.Fatalf("register: %v", err)
	}
}
