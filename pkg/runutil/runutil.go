// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

// Package runutil closes response bodies without losing their errors.
//
// Upstream response bodies are closed with
//
//	defer runutil.ExhaustCloseWithLogOnErr(logger, resp.Body, "close upstream response body")
//
// which drains what is left of the body, up to DrainLimit, so the keep-alive
// connection can be reused, and logs a failing Close instead of dropping it.
package runutil

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	pkgerrors "github.com/pkg/errors"
)

// DrainLimit bounds how much of an unread body is discarded before closing.
// Larger remainders are not worth reading just to keep a connection.
const DrainLimit = 256 * 1024

// CloseWithLogOnErr is making sure we log every error, even those from best effort tiny closers.
func CloseWithLogOnErr(logger log.Logger, closer io.Closer, format string, a ...interface{}) {
	err := closer.Close()
	if err == nil {
		return
	}

	// Not a problem if it has been closed already.
	if errors.Is(err, os.ErrClosed) {
		return
	}

	if logger == nil {
		logger = log.NewNopLogger()
	}

	level.Warn(logger).Log("msg", "detected close error", "err", pkgerrors.Wrap(err, fmt.Sprintf(format, a...)))
}

// ExhaustCloseWithLogOnErr discards at most DrainLimit bytes of r and closes
// it, logging a failing Close.
func ExhaustCloseWithLogOnErr(logger log.Logger, r io.ReadCloser, format string, a ...interface{}) {
	n, err := io.Copy(io.Discard, io.LimitReader(r, DrainLimit))
	if err != nil && logger != nil {
		level.Warn(logger).Log("msg", "failed to exhaust reader, performance may be impeded", "err", err)
	}
	if n == DrainLimit && logger != nil {
		level.Debug(logger).Log("msg", "closing body with unread data", "limit", DrainLimit)
	}

	CloseWithLogOnErr(logger, r, format, a...)
}
