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

package log_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zluster/znet/log"
)

type recordLogger struct {
	calls []string
}

func (r *recordLogger) record(name string)                        { r.calls = append(r.calls, name) }
func (r *recordLogger) Debug(args ...interface{})                 { r.record("Debug") }
func (r *recordLogger) Debugf(f string, args ...interface{})      { r.record("Debugf") }
func (r *recordLogger) Info(args ...interface{})                  { r.record("Info") }
func (r *recordLogger) Infof(f string, args ...interface{})       { r.record("Infof") }
func (r *recordLogger) Warn(args ...interface{})                  { r.record("Warn") }
func (r *recordLogger) Warnf(f string, args ...interface{})       { r.record("Warnf") }
func (r *recordLogger) Error(args ...interface{})                 { r.record("Error") }
func (r *recordLogger) Errorf(f string, args ...interface{})      { r.record("Errorf") }
func (r *recordLogger) Fatal(args ...interface{})                 { r.record("Fatal") }
func (r *recordLogger) Fatalf(f string, args ...interface{})      { r.record("Fatalf") }

func TestPackageFuncsDispatchToDefault(t *testing.T) {
	old := log.Default
	defer func() { log.Default = old }()

	r := &recordLogger{}
	log.Default = r

	log.Debug("d")
	log.Debugf("%s", "d")
	log.Info("i")
	log.Infof("%s", "i")
	log.Warn("w")
	log.Warnf("%s", "w")
	log.Error("e")
	log.Errorf("%s", "e")

	assert.Equal(t, []string{"Debug", "Debugf", "Info", "Infof", "Warn", "Warnf", "Error", "Errorf"}, r.calls)
}
