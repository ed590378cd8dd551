// Package worker registers with the LiveKit agent endpoint and runs one
// Session per assigned room job.
package worker

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"

	"github.com/cchambers/director/internal/config"
	"github.com/cchambers/director/internal/dashboard"
	"github.com/cchambers/director/internal/logging"
	"github.com/cchambers/director/internal/session"
	"github.com/cchambers/director/internal/version"
)

// Worker is the LiveKit agent worker.
type Worker struct {
	cfg  *config.Config
	dash *dashboard.Server

	conn            *websocket.Conn
	connMu          sync.Mutex
	workerID        string
	registerTimeout time.Duration

	mu       sync.RWMutex
	active   map[string]*sessionRunner
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// sessionRunner tracks one running session.
type sessionRunner struct {
	jobID     string
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a new worker. dash may be nil.
func NewWorker(cfg *config.Config, dash *dashboard.Server) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:             cfg,
		dash:            dash,
		active:          make(map[string]*sessionRunner),
		registerTimeout: 10 * time.Second,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start connects to the agent endpoint and blocks until shutdown.
func (w *Worker) Start() error {
	token, err := w.buildWorkerToken()
	if err != nil {
		return fmt.Errorf("build worker token: %w", err)
	}

	wsURL, err := w.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket URL: %w", err)
	}

	logging.Info(logging.CategoryWorker, "connecting to LiveKit agent endpoint url=%s", wsURL)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	resp.Body.Close()

	w.conn = conn
	logging.Info(logging.CategoryWorker, "connected to LiveKit agent endpoint status=%d", resp.StatusCode)

	if err := w.register(); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	w.wg.Add(1)
	go w.messageLoop()

	w.wg.Add(1)
	go w.loadReporter()

	if w.cfg.PProfAddr != "" {
		w.wg.Add(1)
		go w.startPProf()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigChan:
		logging.Info(logging.CategoryWorker, "received OS shutdown signal, starting drain")
	case <-w.ctx.Done():
		logging.Info(logging.CategoryWorker, "connection lost, starting drain")
	}

	w.mu.Lock()
	w.draining = true
	w.mu.Unlock()

	logging.Info(logging.CategoryWorker, "waiting for active sessions timeout=%v", w.cfg.DrainTimeout)
	done := make(chan struct{})
	go func() {
		w.waitForSessions()
		close(done)
	}()
	select {
	case <-done:
		logging.Info(logging.CategoryWorker, "all sessions completed")
	case <-time.After(w.cfg.DrainTimeout):
		logging.Warning(logging.CategoryWorker, "drain timeout exceeded, cancelling sessions")
		w.cancelAllSessions()
	}

	w.cancel()

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	shutdownDone := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
		logging.Info(logging.CategoryWorker, "worker shutdown complete")
	case <-time.After(5 * time.Second):
		logging.Warning(logging.CategoryWorker, "worker shutdown timeout, some goroutines may not have exited cleanly")
	}

	return nil
}

func (w *Worker) buildWorkerToken() (string, error) {
	at := auth.NewAccessToken(w.cfg.LiveKitAPIKey, w.cfg.LiveKitAPISecret)
	at.AddGrant(&auth.VideoGrant{Agent: true})
	return at.ToJWT()
}

func (w *Worker) buildWSURL() (string, error) {
	u, err := url.Parse(w.cfg.LiveKitURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/agent"
	return u.String(), nil
}

func (w *Worker) register() error {
	req := &livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Register{
			Register: &livekit.RegisterWorkerRequest{
				Type:      w.cfg.JobType,
				Version:   version.Version,
				Namespace: &w.cfg.Namespace,
			},
		},
	}
	if w.cfg.AgentName != "" {
		req.GetRegister().AgentName = w.cfg.AgentName
	}

	if err := w.writeMessage(req); err != nil {
		return fmt.Errorf("write register request: %w", err)
	}

	logging.Info(logging.CategoryWorker, "sent worker registration jobType=%v agentName=%s", w.cfg.JobType, w.cfg.AgentName)

	// readMessage blocks, so the timeout has to race it.
	ctx, cancel := context.WithTimeout(context.Background(), w.registerTimeout)
	defer cancel()

	for {
		msgChan := make(chan *livekit.ServerMessage, 1)
		errChan := make(chan error, 1)

		go func() {
			msg, err := w.readMessage()
			if err != nil {
				errChan <- err
				return
			}
			msgChan <- msg
		}()

		select {
		case <-ctx.Done():
			return fmt.Errorf("registration timeout")
		case err := <-errChan:
			return fmt.Errorf("read registration response: %w", err)
		case msg := <-msgChan:
			if regResp := msg.GetRegister(); regResp != nil {
				w.workerID = regResp.WorkerId
				logging.Info(logging.CategoryWorker, "worker registered workerID=%s", w.workerID)
				return nil
			}
		}
	}
}

func (w *Worker) messageLoop() {
	defer w.wg.Done()

	for {
		msg, err := w.readMessage()
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Info(logging.CategoryWorker, "websocket connection closed, shutting down: %v", err)
			} else {
				logging.Error(logging.CategoryWorker, "websocket read error, shutting down: %v", err)
			}
			w.cancel()
			return
		}

		if err := w.handleMessage(msg); err != nil {
			logging.Error(logging.CategoryWorker, "handle message error: %v", err)
		}
	}
}

func (w *Worker) handleMessage(msg *livekit.ServerMessage) error {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Availability:
		return w.handleAvailability(m.Availability)
	case *livekit.ServerMessage_Assignment:
		return w.handleAssignment(m.Assignment)
	case *livekit.ServerMessage_Termination:
		return w.handleTermination(m.Termination)
	case *livekit.ServerMessage_Pong:
		return nil
	default:
		logging.Debug(logging.CategoryWorker, "unhandled message type %T", m)
		return nil
	}
}

func (w *Worker) handleAvailability(req *livekit.AvailabilityRequest) error {
	jobID := req.Job.Id

	w.mu.RLock()
	available := !w.draining && len(w.active) < w.cfg.MaxConcurrentJobs
	w.mu.RUnlock()

	participantIdentity := fmt.Sprintf("agent-%s", jobID)
	if len(participantIdentity) > 63 {
		participantIdentity = participantIdentity[:63]
	}
	participantName := "Director Assistant"
	if w.cfg.AgentName != "" {
		participantName = w.cfg.AgentName
	}

	resp := &livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Availability{
			Availability: &livekit.AvailabilityResponse{
				JobId:               jobID,
				Available:           available,
				ParticipantIdentity: participantIdentity,
				ParticipantName:     participantName,
			},
		},
	}
	if err := w.writeMessage(resp); err != nil {
		return fmt.Errorf("write availability response: %w", err)
	}

	if available {
		logging.Info(logging.CategoryWorker, "accepted job jobID=%s room=%s", jobID, req.Job.Room.Name)
	} else {
		logging.Info(logging.CategoryWorker, "rejected job jobID=%s reason=draining or at capacity", jobID)
	}
	return nil
}

func (w *Worker) handleAssignment(assign *livekit.JobAssignment) error {
	jobID := assign.Job.Id
	roomName := assign.Job.Room.Name

	logging.Info(logging.CategoryWorker, "received job assignment jobID=%s room=%s", jobID, roomName)

	sess, err := session.New(roomName, assign.Token, w.cfg, w.dash)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	ctx, cancel := context.WithCancel(w.ctx)
	runner := &sessionRunner{jobID: jobID, startedAt: time.Now(), cancel: cancel}

	w.mu.Lock()
	w.active[jobID] = runner
	w.mu.Unlock()

	runner.wg.Add(1)
	go func() {
		defer runner.wg.Done()
		defer cancel()

		err := sess.Run(ctx)
		if err != nil {
			logging.Error(logging.CategoryWorker, "session exited with error jobID=%s: %v", jobID, err)
		} else {
			logging.Info(logging.CategoryWorker, "session completed jobID=%s", jobID)
		}

		status := livekit.JobStatus_JS_SUCCESS
		if err != nil {
			status = livekit.JobStatus_JS_FAILED
		}
		update := &livekit.WorkerMessage{
			Message: &livekit.WorkerMessage_UpdateJob{
				UpdateJob: &livekit.UpdateJobStatus{
					JobId:  jobID,
					Status: status,
					Error:  errString(err),
				},
			},
		}
		if err := w.writeMessage(update); err != nil {
			logging.Error(logging.CategoryWorker, "failed to update job status jobID=%s: %v", jobID, err)
		}

		w.mu.Lock()
		delete(w.active, jobID)
		w.mu.Unlock()
	}()

	return nil
}

func (w *Worker) handleTermination(term *livekit.JobTermination) error {
	logging.Info(logging.CategoryWorker, "received job termination jobID=%s", term.JobId)

	w.mu.RLock()
	runner, ok := w.active[term.JobId]
	w.mu.RUnlock()

	if !ok {
		logging.Warning(logging.CategoryWorker, "termination for unknown job jobID=%s", term.JobId)
		return nil
	}
	runner.cancel()
	return nil
}

func (w *Worker) loadReporter() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.LoadUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.reportLoad()
		}
	}
}

func (w *Worker) reportLoad() {
	w.mu.RLock()
	activeCount := len(w.active)
	draining := w.draining
	w.mu.RUnlock()

	load := float32(activeCount) / float32(w.cfg.MaxConcurrentJobs)
	if load > 1.0 {
		load = 1.0
	}

	var status *livekit.WorkerStatus
	availStatus := livekit.WorkerStatus_WS_AVAILABLE
	if !draining {
		status = &availStatus
	}

	update := &livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateWorker{
			UpdateWorker: &livekit.UpdateWorkerStatus{
				Status: status,
				Load:   load,
			},
		},
	}
	if err := w.writeMessage(update); err != nil {
		logging.Debug(logging.CategoryWorker, "failed to update worker status: %v", err)
	}
}

func (w *Worker) readMessage() (*livekit.ServerMessage, error) {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("websocket connection closed")
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		w.connMu.Lock()
		w.conn = nil
		w.connMu.Unlock()
		return nil, err
	}

	msg := &livekit.ServerMessage{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, nil
}

func (w *Worker) writeMessage(msg *livekit.WorkerMessage) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("websocket connection is closed")
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *Worker) waitForSessions() {
	for {
		w.mu.RLock()
		count := len(w.active)
		w.mu.RUnlock()
		if count == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (w *Worker) cancelAllSessions() {
	w.mu.Lock()
	runners := make([]*sessionRunner, 0, len(w.active))
	for _, r := range w.active {
		runners = append(runners, r)
	}
	w.mu.Unlock()

	for _, r := range runners {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		for _, r := range runners {
			r.wg.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		logging.Info(logging.CategoryWorker, "all sessions cancelled and exited")
	case <-time.After(2 * time.Second):
		logging.Warning(logging.CategoryWorker, "timeout waiting for sessions to exit after cancellation")
	}
}

func (w *Worker) startPProf() {
	defer w.wg.Done()

	server := &http.Server{Addr: w.cfg.PProfAddr, Handler: http.DefaultServeMux}
	go func() {
		<-w.ctx.Done()
		server.Shutdown(context.Background())
	}()

	logging.Info(logging.CategoryWorker, "starting pprof server addr=%s", w.cfg.PProfAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error(logging.CategoryWorker, "pprof server error: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
