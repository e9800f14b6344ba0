//go:build unix
// +build unix

// File: reactor/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Blocking listening socket handed to the completion queue.

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ingest/api"
)

func listenTCP(host string, port, backlog int) (int, *net.TCPAddr, error) {
	family := unix.AF_INET
	var sa unix.Sockaddr = &unix.SockaddrInet4{Port: port}
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			return -1, nil, fmt.Errorf("listen host %q: %w", host, api.ErrInvalidArgument)
		}
		if ip4 := ip.To4(); ip4 != nil {
			s := &unix.SockaddrInet4{Port: port}
			copy(s.Addr[:], ip4)
			sa = s
		} else {
			s := &unix.SockaddrInet6{Port: port}
			copy(s.Addr[:], ip.To16())
			sa = s
			family = unix.AF_INET6
		}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	fail := func(op string, err error) (int, *net.TCPAddr, error) {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fail("setsockopt SO_REUSEPORT", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail(fmt.Sprintf("bind port %d", port), err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	var addr *net.TCPAddr
	switch b := bound.(type) {
	case *unix.SockaddrInet4:
		addr = &net.TCPAddr{IP: net.IP(append([]byte(nil), b.Addr[:]...)), Port: b.Port}
	case *unix.SockaddrInet6:
		addr = &net.TCPAddr{IP: net.IP(append([]byte(nil), b.Addr[:]...)), Port: b.Port}
	}
	return fd, addr, nil
}
