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

package znet

import (
	"fmt"
	"time"
)

// MicrosecondsPerSecond is the resolution of Timestamp.
const MicrosecondsPerSecond int64 = 1000 * 1000

// Timestamp is a microsecond instant since the Unix epoch.
// The zero value is the invalid timestamp.
type Timestamp int64

// Now returns the current instant.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// InvalidTimestamp returns the invalid timestamp.
func InvalidTimestamp() Timestamp {
	return 0
}

// IsValid reports whether t holds a real instant.
func (t Timestamp) IsValid() bool {
	return t > 0
}

// Add returns t shifted by seconds, which may be fractional.
func (t Timestamp) Add(seconds float64) Timestamp {
	return t + Timestamp(seconds*float64(MicrosecondsPerSecond))
}

// Sub returns the difference t-other in seconds.
func (t Timestamp) Sub(other Timestamp) float64 {
	return float64(t-other) / float64(MicrosecondsPerSecond)
}

// Before reports whether t is earlier than other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// After reports whether t is later than other.
func (t Timestamp) After(other Timestamp) bool {
	return t > other
}

// Time converts t into a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t))
}

// String formats t as seconds.microseconds since the epoch.
func (t Timestamp) String() string {
	seconds := int64(t) / MicrosecondsPerSecond
	micros := int64(t) % MicrosecondsPerSecond
	return fmt.Sprintf("%d.%06d", seconds, micros)
}

// Format renders t as "yyyymmdd hh:mm:ss" in UTC, with microseconds
// appended when showMicros is set.
func (t Timestamp) Format(showMicros bool) string {
	tm := t.Time().UTC()
	if showMicros {
		micros := int64(t) % MicrosecondsPerSecond
		return fmt.Sprintf("%04d%02d%02d %02d:%02d:%02d.%06d",
			tm.Year(), tm.Month(), tm.Day(), tm.Hour(), tm.Minute(), tm.Second(), micros)
	}
	return fmt.Sprintf("%04d%02d%02d %02d:%02d:%02d",
		tm.Year(), tm.Month(), tm.Day(), tm.Hour(), tm.Minute(), tm.Second())
}
