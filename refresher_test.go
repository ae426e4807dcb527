package rediscluster

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClusterSlots(t *testing.T) {
	raw := slotsReply(
		slotsRange(0, 5460, "10.0.0.1:7000", "10.0.0.4:7000"),
		slotsRange(5461, 10922, "10.0.0.2:7000"),
		slotsRange(10923, 16383, "10.0.0.3:7000", "10.0.0.5:7000", "10.0.0.6:7000"),
	)
	ranges, err := parseClusterSlots(raw)
	require.NoError(t, err)
	require.Len(t, ranges, 3)

	assert.Equal(t, 0, ranges[0].start)
	assert.Equal(t, 5460, ranges[0].end)
	require.Len(t, ranges[0].endpoints, 2)
	assert.Equal(t, "10.0.0.1:7000", ranges[0].endpoints[0].Key())
	assert.False(t, ranges[0].endpoints[0].ReadOnly, "primary at index 0")
	assert.True(t, ranges[0].endpoints[1].ReadOnly, "replicas are read-only")

	require.Len(t, ranges[2].endpoints, 3)
	assert.True(t, ranges[2].endpoints[2].ReadOnly)
}

func TestParseClusterSlotsWithNodeIDs(t *testing.T) {
	// redis >= 4 appends a node id to each endpoint entry
	tuple := []interface{}{int64(0), int64(16383),
		[]interface{}{[]byte("10.0.0.1"), int64(7000), []byte("abcdef0123")},
	}
	ranges, err := parseClusterSlots([]interface{}{tuple})
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, "10.0.0.1:7000", ranges[0].endpoints[0].Key())
}

func TestParseClusterSlotsMalformed(t *testing.T) {
	_, err := parseClusterSlots([]interface{}{[]interface{}{int64(0)}})
	assert.Error(t, err)
	_, err = parseClusterSlots("nope")
	assert.Error(t, err)
}

func TestRefreshBuildsPoolAndMap(t *testing.T) {
	reply := slotsReply(
		slotsRange(0, 8191, "10.0.0.1:7000", "10.0.0.3:7000"),
		slotsRange(8192, 16383, "10.0.0.2:7000"),
	)
	ff := newFakeFactory(staticSlots(reply))
	c := newTestCluster(t, nil, ff)
	require.NoError(t, c.Connect())

	assert.Equal(t, StatusReady, c.Status())
	assert.Len(t, c.Nodes("all"), 3)
	assert.Len(t, c.Nodes("master"), 2)
	assert.Len(t, c.Nodes("slave"), 1)

	assert.Equal(t, []string{"10.0.0.1:7000", "10.0.0.3:7000"}, c.slots.Get(0))
	assert.Equal(t, []string{"10.0.0.1:7000", "10.0.0.3:7000"}, c.slots.Get(8191))
	assert.Equal(t, []string{"10.0.0.2:7000"}, c.slots.Get(8192))
	assert.Equal(t, []string{"10.0.0.2:7000"}, c.slots.Get(16383))

	// every key in the map resolves against the pool
	for _, key := range c.slots.Get(0) {
		assert.NotNil(t, c.pool.Get(key))
	}
}

func TestRefreshTriesNextNodeOnFailure(t *testing.T) {
	reply := slotsReply(slotsRange(0, 16383, "10.0.0.1:7000", "10.0.0.2:7000"))
	// the walk order is shuffled, so whichever node is probed first
	// refuses and the next one answers
	var probes int32
	ff := newFakeFactory(func(f *fakeClient) {
		f.slotsFn = func(*fakeClient) (interface{}, error) {
			if atomic.AddInt32(&probes, 1) == 1 {
				return nil, errors.New("probe refused")
			}
			return reply, nil
		}
	})

	var nodeErrs int32
	c := newTestCluster(t, &Options{
		StartupNodes: []string{"10.0.0.1:7000", "10.0.0.2:7000"},
	}, ff)
	c.On(EventNodeError, func(...interface{}) { atomic.AddInt32(&nodeErrs, 1) })

	require.NoError(t, c.Connect())
	assert.Equal(t, StatusReady, c.Status())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&nodeErrs) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&nodeErrs), "failed probe is observational")
	assert.EqualValues(t, 2, atomic.LoadInt32(&probes), "the walk moved on to the next node")
}

func TestRefreshAllNodesFail(t *testing.T) {
	probeErr := errors.New("probe refused")
	ff := newFakeFactory(func(f *fakeClient) {
		f.slotsFn = func(*fakeClient) (interface{}, error) { return nil, probeErr }
	})
	c := newTestCluster(t, nil, ff)

	c.pool.Reset(c.startup)
	err := c.RefreshSlotsCache()
	require.Error(t, err)
	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Failed to refresh slots cache.", rerr.Error())
	assert.Equal(t, probeErr, rerr.LastNodeError)
}

func TestRefreshAbortsWhenEnded(t *testing.T) {
	ff := newFakeFactory(staticSlots(slotsReply(slotsRange(0, 16383, "10.0.0.1:7000"))))
	c := newTestCluster(t, nil, ff)
	c.pool.Reset(c.startup)
	c.setStatus(StatusEnd)

	err := c.RefreshSlotsCache()
	require.ErrorIs(t, err, errClusterDisconnected)
}

func TestRefreshCoalesced(t *testing.T) {
	release := make(chan struct{})
	reply := slotsReply(slotsRange(0, 16383, "10.0.0.1:7000"))
	ff := newFakeFactory(func(f *fakeClient) {
		f.slotsFn = func(*fakeClient) (interface{}, error) {
			<-release
			return reply, nil
		}
	})
	c := newTestCluster(t, nil, ff)
	c.pool.Reset(c.startup)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.RefreshSlotsCache())
		}()
	}
	time.Sleep(50 * time.Millisecond) // let every request attach
	close(release)
	wg.Wait()

	node := ff.get("10.0.0.1:7000")
	assert.EqualValues(t, 1, atomic.LoadInt32(&node.slotsCalls),
		"overlapping refreshes share one CLUSTER SLOTS call")
}
