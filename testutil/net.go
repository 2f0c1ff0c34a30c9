/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/acronis/go-lrucache/retry"
)

// GetLocalFreeTCPPort returns free (not listening by somebody) TCP port on the 127.0.0.1 network interface.
func GetLocalFreeTCPPort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err = listener.Close(); err != nil {
		panic(err)
	}
	return port
}

// GetLocalAddrWithFreeTCPPort returns 127.0.0.1:<free-tcp-port> address.
func GetLocalAddrWithFreeTCPPort() string {
	return fmt.Sprintf("127.0.0.1:%d", GetLocalFreeTCPPort())
}

// WaitListeningServer waits until the server is ready to accept TCP connection on the passing address.
func WaitListeningServer(addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	dialer := net.Dialer{Timeout: time.Second}
	err := retry.DoWithRetry(ctx, retry.NewConstantBackoffPolicy(10*time.Millisecond, 0), nil, nil,
		func(ctx context.Context) error {
			conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
			if dialErr != nil {
				return dialErr
			}
			return conn.Close()
		})
	if err != nil && ctx.Err() != nil {
		return errors.New("waiting listening server timed out")
	}
	return err
}
