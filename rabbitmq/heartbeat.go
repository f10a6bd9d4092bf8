package rabbitmq

import (
	"time"
)

// heartbeatMonitor sends a heartbeat after every interval without outbound
// traffic and declares the peer dead after two intervals without inbound
// traffic. It runs on the event loop through the scheduler.
type heartbeatMonitor struct {
	sched    scheduler
	interval time.Duration
	send     func()
	dead     func(error)

	running    bool
	sendTimer  timer
	graceTimer timer
}

func newHeartbeatMonitor(sched scheduler, send func(), dead func(error)) *heartbeatMonitor {
	return &heartbeatMonitor{sched: sched, send: send, dead: dead}
}

// start arms both timers. A zero interval disables heartbeats.
func (h *heartbeatMonitor) start(interval time.Duration) {
	h.stop()
	if interval <= 0 {
		return
	}
	h.interval = interval
	h.running = true
	h.armSend()
	h.armGrace()
}

func (h *heartbeatMonitor) stop() {
	h.running = false
	if h.sendTimer != nil {
		h.sendTimer.Stop()
		h.sendTimer = nil
	}
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
}

// outbound records that a frame was written.
func (h *heartbeatMonitor) outbound() {
	if h.running {
		h.armSend()
	}
}

// inbound records that data arrived.
func (h *heartbeatMonitor) inbound() {
	if h.running {
		h.armGrace()
	}
}

func (h *heartbeatMonitor) armSend() {
	if h.sendTimer != nil {
		h.sendTimer.Stop()
	}
	h.sendTimer = h.sched.AfterFunc(h.interval, func() {
		h.sendTimer = nil
		h.send()
		h.outbound()
	})
}

func (h *heartbeatMonitor) armGrace() {
	if h.graceTimer != nil {
		h.graceTimer.Stop()
	}
	h.graceTimer = h.sched.AfterFunc(2*h.interval, func() {
		h.graceTimer = nil
		interval := h.interval
		h.stop()
		h.dead(&LivenessError{Interval: interval})
	})
}
