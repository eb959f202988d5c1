package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/interviewd/internal/domain"
)

func newSession(id string, updated time.Time) *domain.Session {
	s := &domain.Session{
		ID:       id,
		UserName: "访谈者_" + id,
		SelectedTopics: []domain.Topic{
			{Name: "学校-德育", Scene: "学校", EduType: "德育", CoreQuestion: "Q1", Followups: []string{"F1"}},
		},
		StartTime: updated,
		UpdatedAt: updated,
	}
	s.Append(domain.NewAssistantQuestion("第1/1题：Q1", updated))
	s.PushUndo()
	s.Append(domain.NewCoreAnswer("学校-德育", "Q1", "我的回答", 1, []string{"学习"}, updated))
	return s
}

type repoFactory func(t *testing.T, limits Limits) Repository

func repositories() map[string]repoFactory {
	factories := map[string]repoFactory{
		"memory": func(t *testing.T, limits Limits) Repository {
			return NewMemory(limits)
		},
		"sqlite": func(t *testing.T, limits Limits) Repository {
			repo, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"), limits)
			if err != nil {
				t.Fatalf("NewSQLite: %v", err)
			}
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		factories["redis"] = func(t *testing.T, limits Limits) Repository {
			repo, err := NewRedis(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), 0, limits)
			if err != nil {
				t.Fatalf("NewRedis: %v", err)
			}
			ctx := context.Background()
			if err := repo.client.FlushDB(ctx).Err(); err != nil {
				t.Fatalf("flush redis: %v", err)
			}
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		}
	}
	return factories
}

func TestRepositoryRoundTrip(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t, Limits{})

			got, err := repo.Get(ctx, "missing")
			if err != nil || got != nil {
				t.Fatalf("expected nil, nil for missing session, got %v, %v", got, err)
			}

			s := newSession(uuid.NewString(), time.Now())
			if err := repo.Save(ctx, s); err != nil {
				t.Fatalf("Save: %v", err)
			}
			// A retried save of the same snapshot must not duplicate entries.
			if err := repo.Save(ctx, s); err != nil {
				t.Fatalf("second Save: %v", err)
			}

			got, err = repo.Get(ctx, s.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got.ConversationLog) != 2 || len(got.UndoStack) != 1 {
				t.Fatalf("unexpected session after round trip: %d entries, %d snapshots", len(got.ConversationLog), len(got.UndoStack))
			}
			if got.ConversationLog[1].Kind != domain.KindCoreAnswer || got.ConversationLog[1].Keywords[0] != "学习" {
				t.Fatalf("entry not preserved: %+v", got.ConversationLog[1])
			}

			got.ConversationLog[0].Text = "mutated"
			again, _ := repo.Get(ctx, s.ID)
			if again.ConversationLog[0].Text == "mutated" {
				t.Fatal("Get returned shared storage")
			}

			if n, err := repo.Count(ctx); err != nil || n != 1 {
				t.Fatalf("Count = %d, %v; want 1", n, err)
			}

			deleted, err := repo.Delete(ctx, s.ID)
			if err != nil || !deleted {
				t.Fatalf("Delete = %v, %v; want true", deleted, err)
			}
			deleted, err = repo.Delete(ctx, s.ID)
			if err != nil || deleted {
				t.Fatalf("second Delete = %v, %v; want false", deleted, err)
			}
			if err := repo.Ping(ctx); err != nil {
				t.Fatalf("Ping: %v", err)
			}
		})
	}
}

func TestRepositoryDeleteIdle(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t, Limits{})

			stale := newSession("stale", time.Now().Add(-2*time.Hour))
			fresh := newSession("fresh", time.Now())
			for _, s := range []*domain.Session{stale, fresh} {
				if err := repo.Save(ctx, s); err != nil {
					t.Fatalf("Save: %v", err)
				}
			}

			ids, err := repo.DeleteIdle(ctx, time.Hour)
			if err != nil {
				t.Fatalf("DeleteIdle: %v", err)
			}
			if !slices.Equal(ids, []string{"stale"}) {
				t.Fatalf("expected [stale] evicted, got %v", ids)
			}
			if got, _ := repo.Get(ctx, "fresh"); got == nil {
				t.Fatal("fresh session should remain")
			}
		})
	}
}

func TestRepositoryCapacity(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t, Limits{MaxSessions: 2, IdleTTL: time.Hour})

			if err := repo.Save(ctx, newSession("a", time.Now())); err != nil {
				t.Fatalf("Save a: %v", err)
			}
			if err := repo.Save(ctx, newSession("b", time.Now())); err != nil {
				t.Fatalf("Save b: %v", err)
			}
			if err := repo.Save(ctx, newSession("c", time.Now())); !errors.Is(err, domain.ErrCapacity) {
				t.Fatalf("expected ErrCapacity, got %v", err)
			}
			// Updating an existing session is always allowed.
			if err := repo.Save(ctx, newSession("a", time.Now())); err != nil {
				t.Fatalf("update a at capacity: %v", err)
			}

			// An idle session makes room for a new one.
			if err := repo.Save(ctx, newSession("b", time.Now().Add(-2*time.Hour))); err != nil {
				t.Fatalf("age b: %v", err)
			}
			if err := repo.Save(ctx, newSession("c", time.Now())); err != nil {
				t.Fatalf("expected idle eviction to make room: %v", err)
			}
			if got, _ := repo.Get(ctx, "b"); got != nil {
				t.Fatal("idle session b should have been evicted")
			}
		})
	}
}

func TestRepositoryUpdateRequiresExistingSession(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := factory(t, Limits{MaxSessions: 1, IdleTTL: time.Hour})

			if err := repo.Update(ctx, newSession("ghost", time.Now())); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("Update of unknown session = %v; want ErrNotFound", err)
			}
			if got, _ := repo.Get(ctx, "ghost"); got != nil {
				t.Fatal("Update must not create a session")
			}

			s := newSession("a", time.Now())
			if err := repo.Save(ctx, s); err != nil {
				t.Fatalf("Save: %v", err)
			}
			s.CurrentQuestionIdx = 1
			if err := repo.Update(ctx, s); err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, err := repo.Get(ctx, "a")
			if err != nil || got == nil || got.CurrentQuestionIdx != 1 {
				t.Fatalf("Get after Update = %+v, %v", got, err)
			}

			if _, err := repo.Delete(ctx, "a"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := repo.Update(ctx, s); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("Update after Delete = %v; want ErrNotFound", err)
			}
			if n, _ := repo.Count(ctx); n != 0 {
				t.Fatalf("Count after rejected Update = %d; want 0", n)
			}
		})
	}
}

func TestRepositoryConcurrentCreatesRespectCapacity(t *testing.T) {
	for name, factory := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const limit = 3
			repo := factory(t, Limits{MaxSessions: limit, IdleTTL: time.Hour})

			var (
				wg       sync.WaitGroup
				accepted atomic.Int32
			)
			for i := range 12 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := repo.Save(ctx, newSession(fmt.Sprintf("s%d", i), time.Now()))
					switch {
					case err == nil:
						accepted.Add(1)
					case !errors.Is(err, domain.ErrCapacity):
						t.Errorf("Save s%d: %v", i, err)
					}
				}()
			}
			wg.Wait()

			if got := accepted.Load(); got != limit {
				t.Fatalf("accepted %d sessions; want %d", got, limit)
			}
			if n, err := repo.Count(ctx); err != nil || n != limit {
				t.Fatalf("Count = %d, %v; want %d", n, err, limit)
			}
		})
	}
}

func TestSweepIdleCallsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory(Limits{})
	_ = repo.Save(ctx, newSession("old", time.Now().Add(-time.Hour)))
	_ = repo.Save(ctx, newSession("new", time.Now()))

	var evicted []string
	n := SweepIdle(ctx, repo, 30*time.Minute, func(id string) { evicted = append(evicted, id) })
	if n != 1 || !slices.Equal(evicted, []string{"old"}) {
		t.Fatalf("expected old evicted once, got n=%d ids=%v", n, evicted)
	}
}

func TestTTLWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := NewMemory(Limits{})
	_ = repo.Save(ctx, newSession("old", time.Now().Add(-time.Hour)))

	evicted := make(chan string, 1)
	done := StartTTLWorker(ctx, repo, time.Minute, 10*time.Millisecond, func(id string) {
		select {
		case evicted <- id:
		default:
		}
	})

	select {
	case id := <-evicted:
		if id != "old" {
			t.Fatalf("unexpected eviction %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TTL worker did not evict the idle session")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TTL worker did not stop")
	}
}

func TestIsLockConflict(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":          {nil, false},
		"busy text":    {errors.New("exec: SQLITE_BUSY"), true},
		"locked text":  {fmt.Errorf("save: %w", errors.New("database is locked (5)")), true},
		"other":        {errors.New("no such table"), false},
		"wrapped busy": {fmt.Errorf("upsert: %w", errors.New("SQLITE_BUSY: busy")), true},
	}
	for name, tc := range cases {
		if got := isLockConflict(tc.err); got != tc.want {
			t.Errorf("%s: isLockConflict = %v, want %v", name, got, tc.want)
		}
	}
}
