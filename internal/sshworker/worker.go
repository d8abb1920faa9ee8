// Package sshworker bridges the synchronous golang.org/x/crypto/ssh client
// API to the harness's cooperative goroutine world. One Worker is bound to
// a single VM's forwarded SSH port and owns exactly one authenticated
// session; callers talk to it only through a bounded request channel and
// per-request one-shot reply channels, so a slow or stuck guest command
// never blocks anything but its own caller. The underlying client is only
// safe to drive from one goroutine at a time, so Worker serialises every
// Exec/Send through a single serving goroutine.
package sshworker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/google/uuid"
	"github.com/pkg/sftp"

	"patchgrader/internal/glog"
	"patchgrader/internal/model"
	"patchgrader/internal/osutil"
)

// request is one {action, reply} pair read off the Worker's channel.
type request struct {
	id      string
	action  model.Action
	outLim  *int64
	replyCh chan model.Outcome
}

// Worker owns one authenticated SSH session to a VM's guest and serves
// Exec/Send requests one at a time.
type Worker struct {
	client  *ssh.Client
	reqs    chan request
	done    chan struct{}
}

// Dial opens a TCP connection to addr, handshakes, and authenticates by
// password, retrying every 100ms until ctx's deadline (the executor's
// connection timeout) is exceeded.
func Dial(ctx context.Context, addr, user, password string) (*Worker, error) {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // guest identity is not a trust boundary here
	}

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("sshworker: connect: %w (last attempt: %v)", ctx.Err(), lastErr)
			}
			return nil, ctx.Err()
		default:
		}

		client, err := dialOnce(ctx, addr, cfg)
		if err == nil {
			w := &Worker{
				client: client,
				reqs:   make(chan request),
				done:   make(chan struct{}),
			}
			go w.serve()
			return w, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("sshworker: connect: %w (last attempt: %v)", ctx.Err(), lastErr)
		case <-time.After(osutil.WaitTick):
		}
	}
}

func dialOnce(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	timeout := osutil.WaitTick * 50
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left > 0 {
			timeout = left
		}
	}
	conn.SetDeadline(time.Now().Add(timeout))
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// serve drains the request channel one at a time until it is closed, then
// tears the session down.
func (w *Worker) serve() {
	defer close(w.done)
	defer w.client.Close()
	for req := range w.reqs {
		glog.Logf(2, "sshworker: dispatching request %v (%v)", req.id, req.action.Kind)
		var outcome model.Outcome
		switch req.action.Kind {
		case model.ActionExec:
			outcome = w.exec(req.action.Command, req.outLim)
		case model.ActionSend:
			outcome = w.send(req.action.From, req.action.To)
		default:
			outcome = model.Outcome{Kind: model.OutcomeError, ErrKind: "invalid", ErrMsg: "unknown action kind"}
		}
		req.replyCh <- outcome
	}
}

// Do submits action to the worker and blocks until it completes or ctx is
// done. A ctx expiry is reported to the caller as context.DeadlineExceeded
// so the executor can upgrade it to an OutcomeTimeout.
func (w *Worker) Do(ctx context.Context, action model.Action, outputLimit *int64) (model.Outcome, error) {
	reply := make(chan model.Outcome, 1)
	req := request{id: uuid.New().String(), action: action, outLim: outputLimit, replyCh: reply}

	select {
	case w.reqs <- req:
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	case <-w.done:
		return model.Outcome{}, io.ErrClosedPipe
	}

	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	case <-w.done:
		return model.Outcome{}, io.ErrClosedPipe
	}
}

// Close closes the request channel, causing serve to drop the session and
// exit.
func (w *Worker) Close() {
	close(w.reqs)
	<-w.done
}

func (w *Worker) exec(command string, outLim *int64) model.Outcome {
	session, err := w.client.NewSession()
	if err != nil {
		return ioErrOutcome(err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = limitedWriter(&stdoutBuf, outLim)
	session.Stderr = limitedWriter(&stderrBuf, outLim)

	err = session.Run(command)
	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			return ioErrOutcome(err)
		}
	}

	return model.Outcome{
		Kind:     model.OutcomeFinished,
		ExitCode: exitCode,
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
	}
}

func (w *Worker) send(local, remote string) model.Outcome {
	sftpClient, err := sftp.NewClient(w.client)
	if err != nil {
		return ioErrOutcome(err)
	}
	defer sftpClient.Close()

	src, err := os.Open(local)
	if err != nil {
		return ioErrOutcome(err)
	}
	defer src.Close()

	dst, err := sftpClient.Create(remote)
	if err != nil {
		return ioErrOutcome(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return ioErrOutcome(err)
	}
	if err := dst.Chmod(model.SendMode); err != nil {
		return ioErrOutcome(err)
	}

	glog.Logf(2, "sshworker: sent %v -> %v", local, remote)
	return model.Outcome{Kind: model.OutcomeFinished, ExitCode: 0}
}

func ioErrOutcome(err error) model.Outcome {
	return model.Outcome{Kind: model.OutcomeError, ErrKind: classifyErr(err), ErrMsg: err.Error()}
}

func classifyErr(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// limitedWriter caps the bytes copied into dst to *limit, discarding the
// remainder silently. A nil limit means unbounded.
func limitedWriter(dst *bytes.Buffer, limit *int64) io.Writer {
	if limit == nil {
		return dst
	}
	return &capWriter{dst: dst, remaining: *limit}
}

type capWriter struct {
	dst       *bytes.Buffer
	remaining int64
}

func (c *capWriter) Write(p []byte) (int, error) {
	if c.remaining <= 0 {
		return len(p), nil
	}
	n := int64(len(p))
	if n > c.remaining {
		n = c.remaining
	}
	c.dst.Write(p[:n])
	c.remaining -= n
	return len(p), nil
}
