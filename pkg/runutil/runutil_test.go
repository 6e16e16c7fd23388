// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package runutil

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/pkg/errors"
)

type loggerCapturer struct {
	// WasCalled is true if the Log() function has been called.
	WasCalled bool
}

func (lc *loggerCapturer) Log(keyvals ...interface{}) error {
	lc.WasCalled = true
	return nil
}

type emulatedCloser struct {
	io.Reader

	calls int
}

// Close succeeds once, then reports a wrapped os.ErrClosed, then fails.
func (e *emulatedCloser) Close() error {
	e.calls++
	if e.calls == 1 {
		return nil
	}
	if e.calls == 2 {
		return errors.Wrap(os.ErrClosed, "can even be a wrapped one")
	}
	return errors.New("something very bad happened")
}

func TestCloseMoreThanOnce(t *testing.T) {
	lc := &loggerCapturer{}
	r := &emulatedCloser{Reader: strings.NewReader("somestring")}

	CloseWithLogOnErr(lc, r, "should not be called")
	CloseWithLogOnErr(lc, r, "should not be called")
	testutil.Equals(t, false, lc.WasCalled)

	CloseWithLogOnErr(lc, r, "should be called")
	testutil.Equals(t, true, lc.WasCalled)
}

func TestExhaustCloseWithLogOnErr(t *testing.T) {
	lc := &loggerCapturer{}
	body := strings.NewReader(strings.Repeat("x", 64*1024))
	r := &emulatedCloser{Reader: body}

	ExhaustCloseWithLogOnErr(lc, r, "close %s", "body")

	testutil.Equals(t, 0, body.Len())
	testutil.Equals(t, 1, r.calls)
	testutil.Equals(t, false, lc.WasCalled)
}

func TestExhaustCloseStopsAtLimit(t *testing.T) {
	body := strings.NewReader(strings.Repeat("x", 2*DrainLimit))
	r := &emulatedCloser{Reader: body}

	ExhaustCloseWithLogOnErr(nil, r, "close body")

	testutil.Equals(t, DrainLimit, body.Len())
	testutil.Equals(t, 1, r.calls)
}
