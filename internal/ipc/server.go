package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"log/slog"

	"quill/internal/daemon"
	"quill/internal/logging"
	"quill/internal/tracker"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Quill", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func convertRecord(record tracker.JobRecord) Job {
	return Job{
		ID:                 record.ID,
		Status:             string(record.Status),
		Progress:           record.Progress,
		LastUpdate:         record.LastUpdate,
		CorrectionAttempts: record.CorrectionAttempts,
		CorrectionInFlight: record.CorrectionInFlight,
	}
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.Healthy = status.Health.Healthy
	resp.ConsecutiveFailures = status.Health.ConsecutiveFailures
	resp.NextHealthCheck = status.Health.NextCheckDelay
	resp.TrackedJobs = status.TrackedJobs
	resp.InFlightCorrections = status.InFlightCorrections
	resp.PollingEnabled = status.PollingEnabled
	resp.PushEnabled = status.PushEnabled
	resp.LockPath = status.LockFilePath
	resp.SocketPath = status.SocketPath
	resp.PID = os.Getpid()
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	statuses := make(map[tracker.Status]struct{}, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := tracker.ParseStatus(status)
		if !ok {
			continue
		}
		statuses[parsed] = struct{}{}
	}

	records := s.daemon.Jobs()
	resp.Jobs = make([]Job, 0, len(records))
	for _, record := range records {
		if len(statuses) > 0 {
			if _, ok := statuses[record.Status]; !ok {
				continue
			}
		}
		resp.Jobs = append(resp.Jobs, convertRecord(record))
	}
	return nil
}

func (s *service) JobDescribe(req JobDescribeRequest, resp *JobDescribeResponse) error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errors.New("job id is required")
	}
	record, ok := s.daemon.Job(id)
	if !ok {
		return fmt.Errorf("job %q not tracked", id)
	}
	resp.Job = convertRecord(record)
	return nil
}

func (s *service) Track(req TrackRequest, resp *TrackResponse) error {
	s.log().Debug("track requested", logging.String(logging.FieldJobID, req.ID))
	record, err := s.daemon.TrackJob(req.ID, req.Status)
	if err != nil {
		return err
	}
	resp.Job = convertRecord(record)
	s.log().Info("job tracked via IPC",
		logging.String(logging.FieldEventType, "job_track"),
		logging.String(logging.FieldJobID, record.ID))
	return nil
}

func (s *service) Untrack(req UntrackRequest, resp *UntrackResponse) error {
	s.log().Debug("untrack requested", logging.String(logging.FieldJobID, req.ID))
	if err := s.daemon.UntrackJob(req.ID); err != nil {
		return err
	}
	resp.Removed = true
	s.log().Info("job untracked via IPC",
		logging.String(logging.FieldEventType, "job_untrack"),
		logging.String(logging.FieldJobID, req.ID))
	return nil
}

func (s *service) RetryHealth(_ RetryHealthRequest, resp *RetryHealthResponse) error {
	s.log().Debug("health retry requested")
	s.daemon.RetryHealthCheck()
	resp.Triggered = true
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
