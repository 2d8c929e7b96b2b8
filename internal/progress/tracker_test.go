package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ankgale/TFG/internal/apperrors"
)

const testCatalog = `{
  "modules": [
    {"id": "m1", "title": "Basics", "xp_reward": 500, "lessons": [
      {"id": "l1", "xp_reward": 50},
      {"id": "l2", "xp_reward": 50}
    ]},
    {"id": "m2", "title": "Advanced", "xp_reward": 900, "lessons": [
      {"id": "l3", "xp_reward": 100}
    ]}
  ]
}`

func newTracker(t *testing.T) *MemoryTracker {
	t.Helper()
	c, err := ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return NewMemoryTracker(c)
}

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if len(c.Modules) == 0 || c.lessonCount() == 0 {
		t.Error("default catalog should not be empty")
	}
}

func TestParseCatalog_DuplicateLesson(t *testing.T) {
	_, err := ParseCatalog([]byte(`{"modules":[{"id":"a","lessons":[{"id":"x"}]},{"id":"b","lessons":[{"id":"x"}]}]}`))
	if err == nil {
		t.Error("expected duplicate lesson error")
	}
}

func TestCompleteLesson_XP(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	c, err := tr.CompleteLesson(ctx, "user1", "l1", 80)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.XPEarned != 50 || c.Module.LessonsCompleted != 1 || c.Module.IsCompleted {
		t.Errorf("unexpected first completion: %+v", c)
	}

	c, _ = tr.CompleteLesson(ctx, "user1", "l1", 95)
	if c.XPEarned != 0 || c.Attempts != 2 || c.Score != 95 {
		t.Errorf("repeat should earn nothing and keep best score: %+v", c)
	}

	c, _ = tr.CompleteLesson(ctx, "user1", "l2", 70)
	if c.XPEarned != 550 {
		t.Errorf("finishing the module should add module XP, got %d", c.XPEarned)
	}
	if !c.Module.IsCompleted || c.Module.CompletedAt == nil || c.Module.LessonsCompleted != 2 {
		t.Errorf("module should be complete: %+v", c.Module)
	}

	c, _ = tr.CompleteLesson(ctx, "user1", "l2", 100)
	if c.XPEarned != 0 {
		t.Errorf("module XP is awarded once, got %d", c.XPEarned)
	}
	if c.XPPoints != 600 || c.Level != 1 {
		t.Errorf("expected 600 XP at level 1, got %d / %d", c.XPPoints, c.Level)
	}

	c, _ = tr.CompleteLesson(ctx, "user1", "l3", 100)
	if !c.LeveledUp || c.Level != 2 || c.XPPoints != 1600 {
		t.Errorf("expected level up to 2 at 1600 XP: %+v", c)
	}
}

func TestCompleteLesson_Errors(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	if _, err := tr.CompleteLesson(ctx, "user1", "nope", 100); !errors.Is(err, apperrors.ErrLessonNotFound) {
		t.Errorf("expected ErrLessonNotFound, got %v", err)
	}
	if _, err := tr.CompleteLesson(ctx, "", "l1", 100); !errors.Is(err, apperrors.ErrMissingRequiredField) {
		t.Errorf("expected ErrMissingRequiredField, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	s, err := tr.Summary(ctx, "fresh")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Level != 1 || s.XPToNextLevel != 1000 || s.TotalModules != 2 || s.TotalLessons != 3 {
		t.Errorf("unexpected empty summary: %+v", s)
	}

	tr.CompleteLesson(ctx, "user1", "l3", 100)
	s, _ = tr.Summary(ctx, "user1")
	if s.CompletedLessons != 1 || s.CompletedModules != 1 || s.TotalXPEarned != 1000 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Level != 2 || s.XPToNextLevel != 1000 {
		t.Errorf("expected level 2 with 1000 to go, got %d / %d", s.Level, s.XPToNextLevel)
	}
}

func TestConcurrentCompletionsRecount(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lesson := fmt.Sprintf("l%d", i%3+1)
			if _, err := tr.CompleteLesson(ctx, "user1", lesson, i); err != nil {
				t.Errorf("complete: %v", err)
			}
		}(i)
	}
	wg.Wait()

	s, _ := tr.Summary(ctx, "user1")
	if s.CompletedLessons != 3 || s.CompletedModules != 2 {
		t.Errorf("expected 3 lessons / 2 modules, got %d / %d", s.CompletedLessons, s.CompletedModules)
	}
	// 50 + 50 + 500 + 100 + 900
	if s.TotalXPEarned != 1600 {
		t.Errorf("expected 1600 XP, got %d", s.TotalXPEarned)
	}
	for _, m := range s.Modules {
		if m.LessonsCompleted != m.TotalLessons {
			t.Errorf("module %s recount mismatch: %+v", m.ModuleID, m)
		}
	}
}
