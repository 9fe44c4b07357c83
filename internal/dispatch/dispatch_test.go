package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ok(name string) Job {
	return Job{Name: name, Run: func(context.Context) error { return nil }}
}

func TestRunAllSucceed(t *testing.T) {
	var running, peak int32
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = Job{Name: string(rune('a' + i)), Run: func(context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}}
	}
	summary, err := New(3).Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Count(StatusSucceeded))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, "a", summary.Results[0].Name)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestFirstFailureStopsBatch(t *testing.T) {
	boom := errors.New("report failed")
	started := make(chan struct{})
	jobs := []Job{
		{Name: "slow", Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "bad", Run: func(context.Context) error {
			<-started
			return boom
		}},
		ok("never1"),
		ok("never2"),
	}
	summary, err := New(2).Run(context.Background(), jobs)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, "bad", batch.Job)
	assert.Equal(t, []string{"slow"}, batch.Cancelled)
	assert.Equal(t, []string{"never1", "never2"}, batch.Skipped)
	assert.Contains(t, err.Error(), "job bad failed")

	assert.Equal(t, StatusCancelled, summary.Results[0].Status)
	assert.Equal(t, StatusFailed, summary.Results[1].Status)
	assert.Equal(t, "report failed", summary.Results[1].Error)
	assert.Equal(t, 2, summary.Count(StatusSkipped))
	assert.Zero(t, summary.Results[2].Duration())
}

func TestParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := New(1).Run(ctx, []Job{ok("a"), ok("b")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Count(StatusSkipped))
}

func TestPanicAndNilRunAreFailures(t *testing.T) {
	_, err := New(1).Run(context.Background(), []Job{{Name: "panics", Run: func(context.Context) error { panic("kaboom") }}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	_, err = New(0).Run(context.Background(), []Job{{Name: "empty"}})
	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, "empty", batch.Job)
}

type jobObservation struct {
	job, status string
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []jobObservation
}

func (r *recordingObserver) ObserveJob(job, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, jobObservation{job, status})
}

func TestObserverSeesStartedJobs(t *testing.T) {
	obs := &recordingObserver{}
	_, err := New(1, WithObserver(obs), WithLogger(nil)).Run(context.Background(), []Job{
		ok("first"),
		{Name: "second", Run: func(context.Context) error { return errors.New("x") }},
		ok("third"),
	})
	require.Error(t, err)
	assert.Equal(t, []jobObservation{{"first", "succeeded"}, {"second", "failed"}}, obs.obs)
}

func TestCommandJobs(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	dir := t.TempDir()
	cmds := WithLogDir([]Command{
		Shell("echo hello from $REPORT"),
		Shell("exit 3"),
	}, dir)
	cmds[0].Env = []string{"REPORT=MRK_List1"}
	require.NoError(t, cmds[0].Run(context.Background()))
	data, err := os.ReadFile(filepath.Join(dir, "001-echo.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello from MRK_List1\n", string(data))

	err = cmds[1].Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Equal(t, "exit", cmds[1].Job().Name)

	require.Error(t, Command{}.Run(context.Background()))
}

func TestCommandCancelledBySIGTERM(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	cmd := Shell("sleep 30")
	cmd.Grace = time.Second
	start := time.Now()
	err := cmd.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestReadJobs(t *testing.T) {
	cmds, err := ReadJobs(strings.NewReader("# weekly\n\n./MRK_List1.py\n  ./GO_gene_association.py --iea  \n"))
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "MRK_List1.py", cmds[0].Name)
	assert.Equal(t, []string{"-c", "./GO_gene_association.py --iea"}, cmds[1].Args)
	assert.Equal(t, "GO_gene_association.py", cmds[1].Job().Name)
}
