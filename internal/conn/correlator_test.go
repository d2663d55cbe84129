package conn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/schema"
)

func TestCorrelatorResolvesRegisteredID(t *testing.T) {
	c := newCorrelator("test")
	ch, release, err := c.register("abc")
	require.NoError(t, err)
	defer release()

	frame, err := schema.DecodeFrame([]byte(`{"req_id":"abc","msg_type":"ping","ping":"pong"}`))
	require.NoError(t, err)
	require.True(t, c.resolve(frame))

	got, err := c.await(context.Background(), "abc", ch, time.Second)
	require.NoError(t, err)
	require.Equal(t, "abc", got.ReqID)
}

func TestCorrelatorRejectsDuplicateID(t *testing.T) {
	c := newCorrelator("test")
	_, release, err := c.register("dup")
	require.NoError(t, err)
	defer release()

	_, _, err = c.register("dup")
	require.Error(t, err)
	require.Equal(t, errs.CodeState, errs.CodeOf(err))
}

func TestCorrelatorTimesOut(t *testing.T) {
	c := newCorrelator("test")
	ch, release, err := c.register("slow")
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = c.await(context.Background(), "slow", ch, 50*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, errs.CodeTimeout, errs.CodeOf(err))
	require.Less(t, time.Since(start), time.Second)
}

func TestCorrelatorLateResponseIsDropped(t *testing.T) {
	c := newCorrelator("test")
	ch, release, err := c.register("late")
	require.NoError(t, err)

	_, err = c.await(context.Background(), "late", ch, 10*time.Millisecond)
	require.Error(t, err)
	release()

	frame, err := schema.DecodeFrame([]byte(`{"req_id":"late","msg_type":"ping"}`))
	require.NoError(t, err)
	require.False(t, c.resolve(frame))
}

func TestCorrelatorFailAllResolvesEveryPending(t *testing.T) {
	c := newCorrelator("test")
	var chans []<-chan *schema.Frame
	for _, id := range []string{"a", "b", "c"} {
		ch, _, err := c.register(id)
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	c.failAll(errs.New("test", errs.CodeConnection, errs.WithMessage("dropped")))

	for i, ch := range chans {
		_, err := c.await(context.Background(), string(rune('a'+i)), ch, time.Second)
		require.Error(t, err)
		require.Equal(t, errs.CodeConnection, errs.CodeOf(err))
	}
}

func TestCorrelatorAwaitHonoursContext(t *testing.T) {
	c := newCorrelator("test")
	ch, release, err := c.register("ctx")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.await(ctx, "ctx", ch, time.Minute)
	require.Error(t, err)
	require.Equal(t, errs.CodeConnection, errs.CodeOf(err))
}
