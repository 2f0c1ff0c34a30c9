/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type mockT struct {
	failed bool
}

func (t *mockT) FailNow() { t.failed = true }

func (t *mockT) Errorf(string, ...interface{}) {}

func TestWaitListeningServer(t *testing.T) {
	addr := GetLocalAddrWithFreeTCPPort()
	require.Error(t, WaitListeningServer(addr, time.Millisecond*50))

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer func() { require.NoError(t, ln.Close()) }()
	require.NoError(t, WaitListeningServer(addr, time.Second))
}

func TestRequireNoErrorInChannel(t *testing.T) {
	c := make(chan error, 1)
	mt := &mockT{}
	RequireNoErrorInChannel(mt, c)
	require.False(t, mt.failed)

	c <- errors.New("fatal")
	RequireNoErrorInChannel(mt, c)
	require.True(t, mt.failed)
}

func TestAssertSamplesCountInHistogram(t *testing.T) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_duration_seconds"}, []string{"op"})
	hist.With(prometheus.Labels{"op": "get"}).Observe(0.1)
	hist.With(prometheus.Labels{"op": "get"}).Observe(0.2)
	require.True(t, AssertSamplesCountInHistogram(t, hist.With(prometheus.Labels{"op": "get"}), 2))
}
