// Package progress records lesson completions and the XP they earn.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/metrics"
)

// xpPerLevel is the XP needed to gain one level.
const xpPerLevel = 1000

// Tracker receives learning progress events.
type Tracker interface {
	CompleteLesson(ctx context.Context, userID, lessonID string, score int) (*Completion, error)
	Summary(ctx context.Context, userID string) (*Summary, error)
}

// ModuleProgress is a user's standing in one module. LessonsCompleted and
// IsCompleted are recounted from the completed lessons on every write.
type ModuleProgress struct {
	ModuleID         string     `json:"module_id"`
	Title            string     `json:"title"`
	LessonsCompleted int        `json:"lessons_completed"`
	TotalLessons     int        `json:"total_lessons"`
	IsCompleted      bool       `json:"is_completed"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// Completion is the result of CompleteLesson.
type Completion struct {
	UserID    string         `json:"user_id"`
	LessonID  string         `json:"lesson_id"`
	Score     int            `json:"score"`
	Attempts  int            `json:"attempts"`
	XPEarned  int            `json:"xp_earned"`
	XPPoints  int            `json:"xp_points"`
	Level     int            `json:"level"`
	LeveledUp bool           `json:"leveled_up"`
	Module    ModuleProgress `json:"module_progress"`
}

// Summary is a user's overall progress.
type Summary struct {
	UserID           string           `json:"user_id"`
	TotalModules     int              `json:"total_modules"`
	TotalLessons     int              `json:"total_lessons"`
	CompletedModules int              `json:"completed_modules"`
	CompletedLessons int              `json:"completed_lessons"`
	TotalXPEarned    int              `json:"total_xp_earned"`
	Level            int              `json:"level"`
	XPToNextLevel    int              `json:"xp_to_next_level"`
	Modules          []ModuleProgress `json:"modules"`
}

type lessonRecord struct {
	score       int
	attempts    int
	completedAt time.Time
}

type userProgress struct {
	lessons map[string]*lessonRecord
	modules map[string]*ModuleProgress
	xp      int
}

// MemoryTracker keeps progress in process memory. Safe for concurrent use.
type MemoryTracker struct {
	catalog *Catalog

	mu    sync.Mutex
	users map[string]*userProgress
	now   func() time.Time
}

// NewMemoryTracker creates a tracker over catalog.
func NewMemoryTracker(catalog *Catalog) *MemoryTracker {
	return &MemoryTracker{
		catalog: catalog,
		users:   make(map[string]*userProgress),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func level(xp int) int {
	return xp/xpPerLevel + 1
}

// CompleteLesson marks lessonID completed for userID. Lesson XP is awarded
// on the first completion and module XP when the module becomes complete;
// repeats only bump attempts and keep the best score.
func (t *MemoryTracker) CompleteLesson(_ context.Context, userID, lessonID string, score int) (*Completion, error) {
	if userID == "" || lessonID == "" {
		return nil, fmt.Errorf("%w: user_id and lesson_id", apperrors.ErrMissingRequiredField)
	}
	module, lesson, ok := t.catalog.lookup(lessonID)
	if !ok {
		return nil, fmt.Errorf("lesson %s: %w", lessonID, apperrors.ErrLessonNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.user(userID)
	now := t.now()
	oldLevel := level(u.xp)
	earned := 0

	rec, seen := u.lessons[lessonID]
	if !seen {
		rec = &lessonRecord{score: score, attempts: 1, completedAt: now}
		u.lessons[lessonID] = rec
		earned += lesson.XPReward
		metrics.LessonsCompleted.Inc()
	} else {
		rec.attempts++
		rec.score = max(rec.score, score)
		rec.completedAt = now
	}

	mp, finished := t.recount(u, module, now)
	if finished {
		earned += module.XPReward
	}
	u.xp += earned

	c := &Completion{
		UserID:    userID,
		LessonID:  lessonID,
		Score:     rec.score,
		Attempts:  rec.attempts,
		XPEarned:  earned,
		XPPoints:  u.xp,
		Level:     level(u.xp),
		LeveledUp: level(u.xp) > oldLevel,
		Module:    *mp,
	}
	slog.Info("lesson completed",
		"user", userID,
		"lesson", lessonID,
		"module", module.ID,
		"xp_earned", earned,
		"module_completed", mp.IsCompleted,
	)
	return c, nil
}

// recount derives the module's progress from the user's completed lessons.
// finished reports whether this recount completed the module.
func (t *MemoryTracker) recount(u *userProgress, m *Module, now time.Time) (mp *ModuleProgress, finished bool) {
	mp, ok := u.modules[m.ID]
	if !ok {
		mp = &ModuleProgress{ModuleID: m.ID, Title: m.Title}
		u.modules[m.ID] = mp
	}

	done := 0
	for _, l := range m.Lessons {
		if _, ok := u.lessons[l.ID]; ok {
			done++
		}
	}
	mp.LessonsCompleted = done
	mp.TotalLessons = len(m.Lessons)
	if done >= len(m.Lessons) && !mp.IsCompleted {
		mp.IsCompleted = true
		at := now
		mp.CompletedAt = &at
		finished = true
	}
	return mp, finished
}

// Summary reports the user's progress across the catalog. Unknown users get
// an empty summary at level 1.
func (t *MemoryTracker) Summary(_ context.Context, userID string) (*Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id", apperrors.ErrMissingRequiredField)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Summary{
		UserID:       userID,
		TotalModules: len(t.catalog.Modules),
		TotalLessons: t.catalog.lessonCount(),
		Modules:      []ModuleProgress{},
	}
	u, ok := t.users[userID]
	if ok {
		s.CompletedLessons = len(u.lessons)
		s.TotalXPEarned = u.xp
		for _, m := range t.catalog.Modules {
			mp, ok := u.modules[m.ID]
			if !ok {
				continue
			}
			if mp.IsCompleted {
				s.CompletedModules++
			}
			s.Modules = append(s.Modules, *mp)
		}
	}
	s.Level = level(s.TotalXPEarned)
	s.XPToNextLevel = s.Level*xpPerLevel - s.TotalXPEarned
	return s, nil
}

func (t *MemoryTracker) user(userID string) *userProgress {
	u, ok := t.users[userID]
	if !ok {
		u = &userProgress{
			lessons: make(map[string]*lessonRecord),
			modules: make(map[string]*ModuleProgress),
		}
		t.users[userID] = u
	}
	return u
}
