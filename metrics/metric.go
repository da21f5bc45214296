//
//
// Zluster is pleased to support the open source community by making znet available.
//
// Copyright (C) 2024 Zluster.
// All rights reserved.
//
// znet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package metrics provides znet runtime monitoring data, such as how often
// loops actually block in epoll_wait and how efficient scatter reads are,
// which is a good tool for performance tuning.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Poller metrics
	EpollWait = iota
	EpollWaitErrors
	EpollEvents
	WakeupCalls

	// Timer metrics
	TimersAdded
	TimersFired
	TimersCancelled

	// Loop task metrics
	TasksQueued
	TasksRun

	// Accept/connect metrics
	AcceptCalls
	AcceptFails
	ConnectRetries
	ConnectFails

	// TCP connection metrics
	TCPConnsCreate
	TCPConnsClose
	TCPReadvCalls
	TCPReadvFails
	TCPReadvBytes
	TCPWriteCalls
	TCPWriteFails
	TCPWriteBytes
	TCPHighWaterMarks
	Max
)

var metrics [Max]atomic.Uint64

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	cur := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = cur[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	fmt.Println("######### znet metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showPollerMetrics(m)
	showTimerMetrics(m)
	showTCPMetrics(m)
	fmt.Printf("\n")
}

func showPollerMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# POLL - number of epoll_wait returns", m[EpollWait])
	fmt.Printf("%-59s: %d\n", "# POLL - number of epoll_wait errors", m[EpollWaitErrors])
	fmt.Printf("%-59s: %d\n", "# POLL - number of total events", m[EpollEvents])
	if m[EpollWait] > 0 {
		fmt.Printf("%-59s: %.2f\n", "# POLL - average events number per epoll_wait",
			float32(m[EpollEvents])/float32(m[EpollWait]))
	}
	fmt.Printf("%-59s: %d\n", "# POLL - number of eventfd wakeups", m[WakeupCalls])
	fmt.Printf("%-59s: %d\n", "# POLL - number of tasks queued", m[TasksQueued])
	fmt.Printf("%-59s: %d\n", "# POLL - number of tasks run", m[TasksRun])
}

func showTimerMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# TIMER - number of timers added", m[TimersAdded])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of timers fired", m[TimersFired])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of timers cancelled", m[TimersCancelled])
}

func showTCPMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# TCP - number of accept calls", m[AcceptCalls])
	fmt.Printf("%-59s: %d\n", "# TCP - number of failed accept calls", m[AcceptFails])
	fmt.Printf("%-59s: %d\n", "# TCP - number of connect retries", m[ConnectRetries])
	fmt.Printf("%-59s: %d\n", "# TCP - number of aborted connects", m[ConnectFails])
	fmt.Printf("%-59s: %d\n", "# TCP - number of connections created", m[TCPConnsCreate])
	fmt.Printf("%-59s: %d\n", "# TCP - number of connections closed", m[TCPConnsClose])
	fmt.Printf("%-59s: %d\n", "# TCP - number of Readv system calls", m[TCPReadvCalls])
	fmt.Printf("%-59s: %d\n", "# TCP - number of failed Readv system calls", m[TCPReadvFails])
	readvSucc := m[TCPReadvCalls] - m[TCPReadvFails]
	if readvSucc > 0 {
		fmt.Printf("%-59s: %dB\n", "# TCP - Readv efficiency", m[TCPReadvBytes]/readvSucc)
	}
	fmt.Printf("%-59s: %d\n", "# TCP - number of write system calls", m[TCPWriteCalls])
	fmt.Printf("%-59s: %d\n", "# TCP - number of failed write system calls", m[TCPWriteFails])
	writeSucc := m[TCPWriteCalls] - m[TCPWriteFails]
	if writeSucc > 0 {
		fmt.Printf("%-59s: %dB\n", "# TCP - write efficiency", m[TCPWriteBytes]/writeSucc)
	}
	fmt.Printf("%-59s: %d\n", "# TCP - number of high water mark crossings", m[TCPHighWaterMarks])
}
