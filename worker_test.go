package parsimon

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// startWorker serves sim on a loopback port until the test ends
func startWorker(t *testing.T, sim LinkSim) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	log, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewWorkerServer(sim, log).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func TestRemoteWorkerMatchesLocal(t *testing.T) {
	addr := startWorker(t, IdealLinkSim{})
	desc := &LinkSimDesc{Link: testLink, Flows: []LinkFlow{
		{ID: 0, Size: 1000, Start: 0},
		{ID: 1, Size: 3000, Start: 10},
		{ID: 2, Size: 5000, Start: 20},
		{ID: 3, Size: 7000, Start: 30},
	}}
	job := &Job{ID: "job-1", ClusterID: 4, Attempt: 1, Desc: desc, Buckets: BucketOpts{Ratio: 2, MinFlows: 2}}

	rw := &RemoteWorker{Addr: addr, DialTimeout: time.Second}
	require.Equal(t, "tcp/"+addr, rw.Name())
	remote, err := rw.RunJob(context.Background(), job)
	require.NoError(t, err)
	local, err := (&LocalWorker{Sim: IdealLinkSim{}}).RunJob(context.Background(), job)
	require.NoError(t, err)
	require.True(t, local.Dist.Equal(remote.Dist))

	// the size buckets travel with the distribution
	require.NotNil(t, remote.Buckets)
	require.Equal(t, local.Buckets.Desc(), remote.Buckets.Desc())
	require.Len(t, remote.Buckets.Buckets(), 2)
}

func TestRemoteWorkerReportsFailure(t *testing.T) {
	addr := startWorker(t, failingSim{fail: map[LinkID]bool{testLink.ID: true}})
	rw := &RemoteWorker{Addr: addr, DialTimeout: time.Second}
	_, err := rw.RunJob(context.Background(), &Job{ID: "job-2", Attempt: 1, Desc: &LinkSimDesc{Link: testLink}})
	require.ErrorContains(t, err, "backend exploded")
}

func TestRemoteWorkerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	rw := &RemoteWorker{Addr: addr, DialTimeout: time.Second}
	_, err = rw.RunJob(context.Background(), &Job{ID: "job-3", Desc: &LinkSimDesc{Link: testLink}})
	require.Error(t, err)
}

func TestRemoteWorkerHonorsDeadline(t *testing.T) {
	// a listener that accepts and never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		time.Sleep(time.Second)
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rw := &RemoteWorker{Addr: ln.Addr().String(), DialTimeout: time.Second}
	_, err = rw.RunJob(ctx, &Job{ID: "job-4", Desc: &LinkSimDesc{Link: testLink}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	req := JobRequest{JobID: "abc", ClusterID: 2, Attempt: 3, Desc: &LinkSimDesc{Link: testLink,
		Flows: []LinkFlow{{ID: 1, Src: 0, Dst: 5, Size: 10, Start: 20}}}}
	require.NoError(t, writeFrame(&buf, &req))
	var got JobRequest
	require.NoError(t, readFrame(&buf, &got))
	require.Equal(t, req, got)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], maxFrameLen+1)
	err := readFrame(bytes.NewReader(hdr[:]), &got)
	require.ErrorContains(t, err, "exceeds limit")

	binary.BigEndian.PutUint32(hdr[:], 3)
	err = readFrame(bytes.NewReader(append(hdr[:], 0xff, 0xff, 0xff)), &got)
	require.ErrorContains(t, err, "decompressing")
}

func TestRunWithRemoteWorkers(t *testing.T) {
	addrs := []string{startWorker(t, IdealLinkSim{}), startWorker(t, IdealLinkSim{})}
	topo := eightNodeNetwork(t,
		FlowDesc{ID: 0, Src: 0, Dst: 3, Size: 2000},
		FlowDesc{ID: 1, Src: 1, Dst: 2, Size: 4000})

	cfg := DefaultConfig()
	cfg.LinkSim.Model = "ideal"
	cfg.Dispatch.Workers = addrs
	log, _ := test.NewNullLogger()
	remote, err := Run(context.Background(), topo, cfg, WithLogger(log))
	require.NoError(t, err)

	cfg.Dispatch.Workers = nil
	local, err := Run(context.Background(), topo, cfg, WithLogger(log))
	require.NoError(t, err)

	for _, flow := range topo.Flows() {
		want, err := local.FlowPercentile(flow.ID, 99)
		require.NoError(t, err)
		got, err := remote.FlowPercentile(flow.ID, 99)
		require.NoError(t, err)
		require.InDelta(t, want, got, 1e-6)
	}
}
