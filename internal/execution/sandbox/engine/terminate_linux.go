//go:build linux

package engine

import (
	"syscall"
	"time"

	"runbox/internal/execution/sandbox/monitor"
	appErr "runbox/pkg/errors"

	"golang.org/x/sys/unix"
)

const terminatePoll = 10 * time.Millisecond

// TerminateTree stops every live member of the tracked tree. It sends
// SIGTERM, waits up to grace, then repeats SIGKILL until the tree is gone or
// confirm expires. Members reparented to this process are reaped on the way.
// A nil error means no member of the tree is left running.
func TerminateTree(t *monitor.Tracker, grace, confirm time.Duration) error {
	live, _ := t.Refresh()
	reapAdopted(t)
	if len(live) == 0 {
		return nil
	}
	signalTree(t, live, unix.SIGTERM)
	if waitGone(t, grace, 0) {
		return nil
	}
	live, _ = t.Refresh()
	signalTree(t, live, unix.SIGKILL)
	if waitGone(t, confirm, unix.SIGKILL) {
		return nil
	}
	live, _ = t.Refresh()
	pids := make([]int, 0, len(live))
	for _, m := range live {
		pids = append(pids, m.PID)
	}
	return appErr.Newf(appErr.ProcessTerminationUnconfirmed,
		"process tree %d still running after SIGKILL: %v", t.Root(), pids)
}

func signalTree(t *monitor.Tracker, live []monitor.Member, sig syscall.Signal) {
	// the group reaches children that are still forking; it is only
	// signalled while a verified member holds it, so the id cannot be stale
	for _, m := range live {
		if m.PGRP == t.Root() {
			_ = unix.Kill(-t.Root(), sig)
			break
		}
	}
	for _, m := range live {
		_ = unix.Kill(m.PID, sig)
	}
}

func waitGone(t *monitor.Tracker, d time.Duration, resignal syscall.Signal) bool {
	deadline := time.Now().Add(d)
	for {
		live, _ := t.Refresh()
		reapAdopted(t)
		if len(live) == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(terminatePoll)
		if resignal != 0 {
			signalTree(t, live, resignal)
		}
	}
}

// reapAdopted collects exited members the kernel handed to this process as
// subreaper. Only pids the tracker verified are waited on.
func reapAdopted(t *monitor.Tracker) {
	for _, pid := range t.Zombies() {
		var ws unix.WaitStatus
		_, _ = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	}
}
