package main

import (
	"sync/atomic"
	"time"

	"github.com/anatol/go-udev/netlink"
)

// deviceEvents wakes up the device wait when the kernel announces a new block device
type deviceEvents interface {
	// Wait blocks until a block device is added or the timeout expires
	Wait(timeout time.Duration) bool
	Close() error
}

// blockEvents listens to kernel uevents. There is no udevd in the initramfs so only the
// kernel broadcast group is used.
type blockEvents struct {
	conn   *netlink.UEventConn
	added  chan struct{}
	closed atomic.Bool
}

func listenBlockEvents() (deviceEvents, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		return nil, err
	}

	e := &blockEvents{
		conn:  conn,
		added: make(chan struct{}, 1),
	}
	go e.listen()
	return e, nil
}

func isBlockAdd(action string, env map[string]string) bool {
	return action == "add" && env["SUBSYSTEM"] == "block"
}

func (e *blockEvents) listen() {
	for {
		ev, err := e.conn.ReadUEvent()
		if e.closed.Load() {
			return
		}
		if err != nil {
			debug("uevent: %v", err)
			return
		}
		if !isBlockAdd(string(ev.Action), ev.Env) {
			continue
		}
		debug("uevent: %s %s", ev.Action, ev.KObj)
		e.notify()
	}
}

// notify never blocks, one pending wakeup is enough to trigger the next attempt
func (e *blockEvents) notify() {
	select {
	case e.added <- struct{}{}:
	default:
	}
}

func (e *blockEvents) Wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-e.added:
		return true
	case <-t.C:
		return false
	}
}

// Close releases the netlink socket. It has to happen before switching root, otherwise the
// descriptor leaks into the real init.
func (e *blockEvents) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.conn.Close()
}
