package cron

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T, onJob OnJob) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cron.json")
	s := NewService(path, onJob, nil)
	t.Cleanup(s.Stop)
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOneShotJobFiresAndIsRemoved(t *testing.T) {
	fired := make(chan string, 1)
	s := newTestService(t, func(j Job) (string, error) {
		fired <- j.Payload.Message
		return "", nil
	})
	s.Start()

	s.AddJob("ping-once", Schedule{Kind: "at", AtMs: nowMs() + 200}, "ping", false, "", "", true)

	select {
	case msg := <-fired:
		if msg != "ping" {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}

	waitUntil(t, 5*time.Second, func() bool {
		return len(s.ListJobs(true)) == 0
	})
}

func TestOneShotJobSelfDisables(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := newTestService(t, func(Job) (string, error) {
		fired <- struct{}{}
		return "", nil
	})
	s.Start()

	job := s.AddJob("remind", Schedule{Kind: "at", AtMs: nowMs() + 200}, "remind me", false, "", "", false)

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}

	waitUntil(t, 5*time.Second, func() bool {
		jobs := s.ListJobs(true)
		return len(jobs) == 1 && !jobs[0].Enabled && jobs[0].State.NextRunAtMs == 0
	})
	if got := s.ListJobs(false); len(got) != 0 {
		t.Fatalf("disabled job %s should be hidden by default", job.ID)
	}
}

func TestJobErrorCapturedWorkerSurvives(t *testing.T) {
	calls := make(chan string, 4)
	s := newTestService(t, func(j Job) (string, error) {
		calls <- j.Name
		if j.Name == "bad" {
			return "", errors.New("backend unreachable")
		}
		return "done", nil
	})
	s.Start()

	bad := s.AddJob("bad", Schedule{Kind: "at", AtMs: nowMs() + 100}, "x", false, "", "", false)
	s.AddJob("good", Schedule{Kind: "at", AtMs: nowMs() + 300}, "y", false, "", "", false)

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case name := <-calls:
			seen[name] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only saw %v", seen)
		}
	}

	waitUntil(t, 5*time.Second, func() bool {
		for _, j := range s.ListJobs(true) {
			if j.ID == bad.ID {
				return j.State.LastStatus == "error" && j.State.LastError == "backend unreachable"
			}
		}
		return false
	})
}

func TestFailedOneShotRetriesUntilSuccess(t *testing.T) {
	attempts := make(chan int, 8)
	count := 0
	s := newTestService(t, func(Job) (string, error) {
		count++
		attempts <- count
		if count < 2 {
			return "", errors.New("delivery failed")
		}
		return "", nil
	})
	s.Start()

	s.AddJob("retry", Schedule{Kind: "at", AtMs: nowMs() + 100}, "x", false, "", "", true)

	// An errored delete-after one-shot keeps its due time and is re-fired
	// on the next worker pass; only a successful run removes it.
	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("attempt %d, want %d", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("never saw attempt %d", want)
		}
	}
	waitUntil(t, 5*time.Second, func() bool {
		return len(s.ListJobs(true)) == 0
	})
}

func TestRunJobNow(t *testing.T) {
	fired := make(chan struct{}, 2)
	s := newTestService(t, func(Job) (string, error) {
		fired <- struct{}{}
		return "", nil
	})

	job := s.AddJob("manual", Schedule{Kind: "every", EveryMs: 3_600_000}, "tick", false, "", "", false)
	if !s.RunJobNow(job.ID, false) {
		t.Fatal("run now failed for enabled job")
	}
	<-fired

	s.EnableJob(job.ID, false)
	if s.RunJobNow(job.ID, false) {
		t.Fatal("run now should refuse a disabled job")
	}
	if !s.RunJobNow(job.ID, true) {
		t.Fatal("forced run should fire a disabled job")
	}
	<-fired

	if s.RunJobNow("no-such-id", true) {
		t.Fatal("unknown id should report false")
	}
}

func TestJobCallbackCanUseService(t *testing.T) {
	listed := make(chan int, 1)
	var s *Service
	s = newTestService(t, func(Job) (string, error) {
		// The cron tool's list action runs inside a fired job's agent turn.
		listed <- len(s.ListJobs(true))
		return "", nil
	})

	job := s.AddJob("introspect", Schedule{Kind: "every", EveryMs: 3_600_000}, "tick", false, "", "", false)

	done := make(chan struct{})
	go func() {
		s.RunJobNow(job.ID, false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunJobNow blocked while the callback used the service")
	}
	if n := <-listed; n != 1 {
		t.Fatalf("callback saw %d jobs, want 1", n)
	}
}

func TestEnableRecomputesNextRun(t *testing.T) {
	s := newTestService(t, nil)
	job := s.AddJob("daily", Schedule{Kind: "cron", Expr: "0 9 * * *"}, "hello", false, "", "", false)
	if job.State.NextRunAtMs == 0 {
		t.Fatal("expected a next run time")
	}

	updated, ok := s.EnableJob(job.ID, false)
	if !ok || updated.State.NextRunAtMs != 0 {
		t.Fatalf("disable should zero next run, got %+v ok=%v", updated, ok)
	}
	updated, ok = s.EnableJob(job.ID, true)
	if !ok || updated.State.NextRunAtMs == 0 {
		t.Fatalf("enable should recompute next run, got %+v ok=%v", updated, ok)
	}
}

func TestInvalidExpressionJobNeverFires(t *testing.T) {
	s := newTestService(t, nil)
	job := s.AddJob("broken", Schedule{Kind: "cron", Expr: "x y z"}, "m", false, "", "", false)
	if job.State.NextRunAtMs != 0 {
		t.Fatalf("invalid expression should leave next run at 0, got %d", job.State.NextRunAtMs)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")
	s1 := NewService(path, nil, nil)
	added := s1.AddJob("persisted", Schedule{Kind: "every", EveryMs: 60000}, "tick", true, "telegram", "42", false)
	s1.RemoveJob(s1.AddJob("temp", Schedule{Kind: "every", EveryMs: 1000}, "x", false, "", "", false).ID)

	s2 := NewService(path, nil, nil)
	jobs := s2.ListJobs(true)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job after reload, got %d", len(jobs))
	}
	j := jobs[0]
	if j.ID != added.ID || j.Name != "persisted" || j.Payload.Channel != "telegram" || j.Payload.To != "42" || !j.Payload.Deliver {
		t.Fatalf("job did not round-trip: %+v", j)
	}
}

func TestRemoveJob(t *testing.T) {
	s := newTestService(t, nil)
	job := s.AddJob("gone", Schedule{Kind: "every", EveryMs: 1000}, "x", false, "", "", false)
	if !s.RemoveJob(job.ID) {
		t.Fatal("remove should succeed")
	}
	if s.RemoveJob(job.ID) {
		t.Fatal("second remove should fail")
	}
	if got := len(s.ListJobs(true)); got != 0 {
		t.Fatalf("expected empty table, got %d jobs", got)
	}
}

func TestStatus(t *testing.T) {
	s := newTestService(t, nil)
	st := s.Status()
	if st.Enabled || st.Jobs != 0 || st.NextWakeAtMs != 0 {
		t.Fatalf("unexpected idle status %+v", st)
	}
	s.AddJob("j", Schedule{Kind: "every", EveryMs: 3_600_000}, "x", false, "", "", false)
	s.Start()
	st = s.Status()
	if !st.Enabled || st.Jobs != 1 || st.NextWakeAtMs == 0 {
		t.Fatalf("unexpected running status %+v", st)
	}
}
