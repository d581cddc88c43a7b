package observer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/dcshock/trypipe/pipeline"
)

func TestLogObserver_FailedRun(t *testing.T) {
	core, logs := zapobserver.New(zapcore.DebugLevel)
	obs := NewLogObserver(zap.New(core))
	p := load(t, `try { raise("Timeout", "slow") } with "calling upstream"`)

	_, err := p.Run(context.Background(), nil, &pipeline.RunOptions{Observer: obs, RunID: "r1"})
	require.Error(t, err)

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"pipeline started", "stage started", "stage finished", "pipeline failed"}, msgs)

	failed := logs.FilterMessage("pipeline failed").All()[0]
	assert.Equal(t, zapcore.WarnLevel, failed.Level)
	fields := failed.ContextMap()
	assert.Equal(t, "r1", fields["run_id"])
	assert.Equal(t, "Timeout", fields["failure_type"])
	assert.Equal(t, int64(1), fields["frames"])

	stage := logs.FilterMessage("stage finished").All()[0].ContextMap()
	assert.Equal(t, "try", stage["kind"])
	assert.Equal(t, "test.pipe:1:1", stage["location"])
	assert.Equal(t, "slow", stage["error"])
	_, hasElement := stage["element"]
	assert.False(t, hasElement)
}

func TestLogObserver_InfoLevelSkipsStages(t *testing.T) {
	core, logs := zapobserver.New(zapcore.InfoLevel)
	obs := NewLogObserver(zap.New(core))
	p := load(t, `try { ok(1) } then |x| { x }`)

	out, err := p.Run(context.Background(), nil, &pipeline.RunOptions{Observer: obs})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out)
	assert.Equal(t, 0, logs.FilterMessage("stage started").Len())
	require.Equal(t, 1, logs.FilterMessage("pipeline finished").Len())
	assert.Equal(t, int64(1), logs.FilterMessage("pipeline finished").All()[0].ContextMap()["result"])
}

func TestLogObserver_WithStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	core, logs := zapobserver.New(zapcore.InfoLevel)
	obs := pipeline.MultiObserver{NewLogObserver(zap.New(core)), s}

	_, err := load(t, `try { ok("x") }`).Run(ctx, nil, &pipeline.RunOptions{Observer: obs, RunID: "both"})
	require.NoError(t, err)
	assert.Equal(t, 2, logs.Len())
	run, err := s.Run(ctx, "both")
	require.NoError(t, err)
	assert.JSONEq(t, `"x"`, string(run.Result))
}

func TestNewLogObserver_NilLogger(t *testing.T) {
	obs := NewLogObserver(nil)
	assert.NoError(t, obs.BeforePipeline(context.Background(), "r", "p"))
}
