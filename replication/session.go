package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Shwetabhk/pg-streamline/pkg/lsn"
)

// ErrShutdown is not a failure; it marks a cooperative shutdown, distinct
// from the operational errors that abort a Session during startup.
var ErrShutdown = errors.New("replication: session shutting down")

// Config configures a Session: the slot bootstrap and start-replication
// parameters, the dispatch worker pool sizing, and the feedback policy.
type Config struct {
	SlotName         string
	Plugin           Plugin
	PublicationNames []string // pgoutput only
	ProtoVersion     uint32   // pgoutput only, default 1

	// Workers bounds the dispatch worker pool, constructed once and held
	// for the session's lifetime. Set to 1 for strictly ordered sink
	// invocations.
	Workers int

	// AdvanceOnFailure mirrors config.DatabaseConfig.AdvanceOnFailureOrDefault:
	// when false (the default), a failed dispatch does not itself move the
	// feedback LSN forward, though a later successful dispatch still
	// advances it past the failed event; when true, failed events are
	// logged and the LSN advances anyway.
	AdvanceOnFailure bool

	StandbyInterval time.Duration
	ReceiveTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProtoVersion == 0 {
		c.ProtoVersion = 1
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.StandbyInterval <= 0 {
		c.StandbyInterval = time.Second
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = 2 * time.Second
	}
	return c
}

// Session owns the dedicated replication connection exclusively for its
// lifetime and drives the lifecycle INIT -> SLOT_READY -> STREAMING ->
// DRAINING -> TERMINATED.
type Session struct {
	cfg        Config
	conn       *pgconn.PgConn
	metaPool   MetadataPool
	dispatcher *Dispatcher
	sink       Sink
	logger     zerolog.Logger

	mu           sync.Mutex
	state        State
	confirmedLSN pglogrepl.LSN
	lastStatus   time.Time

	wg sync.WaitGroup
}

// NewSession constructs a Session. conn must be a replication-mode
// connection (e.g. opened with pgconn.Connect against a DSN carrying
// replication=database) dedicated to this Session for its lifetime;
// metaPool is the shared bounded pool used only for metadata lookups.
func NewSession(conn *pgconn.PgConn, metaPool MetadataPool, resolver RelationResolver, sink Sink, cfg Config, logger zerolog.Logger) *Session {
	cfg = cfg.withDefaults()
	l := logger.With().Str("component", "replication").Str("slot", cfg.SlotName).Logger()
	return &Session{
		cfg:        cfg,
		conn:       conn,
		metaPool:   metaPool,
		dispatcher: NewDispatcher(cfg.Plugin, metaPool, resolver, sink, l),
		sink:       sink,
		logger:     l,
		state:      StateInit,
	}
}

// State returns the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debug().Stringer("state", st).Msg("state transition")
}

// Run executes the full session lifecycle: ensures the replication slot
// exists, starts streaming, consumes the WAL stream until ctx is
// cancelled or an unrecoverable error occurs, then drains in-flight
// dispatch workers and invokes the sink's shutdown hook exactly once
// before returning. A ctx cancellation (typically SIGINT via
// WithInterrupt) is reported as ErrShutdown, not a failure; any other
// non-nil error is an operational failure. If ensuring the slot or
// starting replication fails, Run returns that error at once without
// calling the sink's shutdown hook.
func (s *Session) Run(ctx context.Context) error {
	if err := s.ensureSlot(ctx); err != nil {
		return fmt.Errorf("ensure replication slot: %w", err)
	}
	s.setState(StateSlotReady)

	if err := pglogrepl.StartReplication(ctx, s.conn, s.cfg.SlotName, 0, pglogrepl.StartReplicationOptions{
		PluginArgs: s.pluginArgs(),
	}); err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	s.setState(StateStreaming)
	s.logger.Info().Stringer("plugin", s.cfg.Plugin).Msg("replication streaming started")

	streamErr := s.streamLoop(ctx)

	s.setState(StateDraining)
	s.wg.Wait()
	if err := s.sink.OnShutdown(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("sink shutdown failed")
	}
	s.setState(StateTerminated)

	if streamErr != nil {
		return streamErr
	}
	return ErrShutdown
}

func (s *Session) pluginArgs() []string {
	if s.cfg.Plugin == PluginWal2JSON {
		return nil
	}
	return []string{
		fmt.Sprintf("proto_version '%d'", s.cfg.ProtoVersion),
		fmt.Sprintf("publication_names '%s'", strings.Join(s.cfg.PublicationNames, ",")),
	}
}

// ensureSlot issues select pg_create_logical_replication_slot($1, $2)
// over the metadata pool and treats duplicate_object (SQLSTATE 42710) as
// benign: an existing slot from a prior run is reused.
func (s *Session) ensureSlot(ctx context.Context) error {
	err := s.metaPool.Acquire(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `select pg_create_logical_replication_slot($1, $2)`, s.cfg.SlotName, s.cfg.Plugin.String())
		return err
	})
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42710" {
		s.logger.Info().Msg("replication slot already exists")
		return nil
	}
	return err
}

type workResult struct {
	dataStart pglogrepl.LSN
	err       error
}

// streamLoop is the single goroutine that owns s.conn; the replication
// connection is not safe for concurrent use. It receives XLogData and
// keepalive messages with a short deadline so standby status can still be
// sent during quiet periods, submits each change-carrying message to the
// bounded dispatch worker pool, and drains worker completions so feedback
// is sent from this same goroutine once the worker finishes.
func (s *Session) streamLoop(ctx context.Context) error {
	sem := make(chan struct{}, s.cfg.Workers)
	completions := make(chan workResult, s.cfg.Workers*4)

	defer func() {
		// new work is not submitted once the loop exits; completions
		// already queued at this point are still recorded and get
		// feedback. Workers still running here finish under Run's wait,
		// but their completions are not recorded, so no feedback is sent
		// for those events.
		for len(completions) > 0 {
			s.recordCompletion(context.Background(), <-completions)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.drainCompletions(ctx, completions)

		if time.Since(s.lastStatusSnapshot()) >= s.cfg.StandbyInterval {
			if err := s.sendFeedback(ctx, s.currentLSN()); err != nil {
				s.logger.Err(err).Msg("periodic standby status failed")
			}
		}

		recvCtx, cancel := context.WithDeadline(ctx, time.Now().Add(s.cfg.ReceiveTimeout))
		rawMsg, err := s.conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if pgconn.Timeout(err) {
				continue
			}
			return fmt.Errorf("receive message: %w", err)
		}

		if errResp, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("server error: %s (SQLSTATE %s)", errResp.Message, errResp.Code)
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				s.logger.Err(err).Msg("parse keepalive")
				continue
			}
			if behind := lsn.Lag(s.currentLSN(), pkm.ServerWALEnd); behind > 0 {
				s.logger.Debug().Str("lag", lsn.FormatLag(behind, time.Since(pkm.ServerTime))).Msg("replication lag")
			}
			if pkm.ReplyRequested {
				if err := s.sendFeedback(ctx, s.currentLSN()); err != nil {
					s.logger.Err(err).Msg("keepalive reply failed")
				}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				s.logger.Err(err).Msg("parse xlogdata")
				continue
			}
			s.submit(ctx, xld, sem, completions)
		}
	}
}

// submit dispatches one XLogData payload to the worker pool. It blocks
// only on an available pool slot or ctx cancellation, never on the
// dispatch work itself, so the receive loop keeps servicing keepalives.
func (s *Session) submit(ctx context.Context, xld pglogrepl.XLogData, sem chan struct{}, completions chan workResult) {
	dataStart := pglogrepl.LSN(xld.WALStart)
	payload := xld.WALData

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-sem }()

		err := s.dispatcher.Dispatch(ctx, payload)
		if err != nil {
			s.logger.Error().Err(err).Msg("dispatch failed")
		}

		select {
		case completions <- workResult{dataStart: dataStart, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) drainCompletions(ctx context.Context, completions chan workResult) {
	for {
		select {
		case res := <-completions:
			s.recordCompletion(ctx, res)
		default:
			return
		}
	}
}

// recordCompletion sends feedback for one completed dispatch. The value
// sent to the server is always max(previously confirmed, candidate) under
// s.mu, where candidate is the event's start position when it succeeded
// or AdvanceOnFailure is set, and the unmoved confirmed LSN otherwise.
// Exactly one status update results per completed message.
func (s *Session) recordCompletion(ctx context.Context, res workResult) {
	s.mu.Lock()
	s.confirmedLSN = nextConfirmedLSN(s.confirmedLSN, res.dataStart, res.err != nil, s.cfg.AdvanceOnFailure)
	toSend := s.confirmedLSN
	s.mu.Unlock()

	if err := s.sendFeedback(ctx, toSend); err != nil {
		s.logger.Err(err).Msg("send feedback failed")
	}
}

// nextConfirmedLSN computes the feedback value for one completed
// dispatch. The result never regresses below current, and a failed
// dispatch only advances it when advanceOnFailure is set.
func nextConfirmedLSN(current, candidate pglogrepl.LSN, failed, advanceOnFailure bool) pglogrepl.LSN {
	if failed && !advanceOnFailure {
		candidate = current
	}
	if candidate > current {
		return candidate
	}
	return current
}

func (s *Session) currentLSN() pglogrepl.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmedLSN
}

func (s *Session) lastStatusSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

func (s *Session) sendFeedback(ctx context.Context, lsn pglogrepl.LSN) error {
	s.mu.Lock()
	s.lastStatus = time.Now()
	s.mu.Unlock()

	return pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
}
