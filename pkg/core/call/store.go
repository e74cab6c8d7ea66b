package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
)

// RecordStore is durable, queryable storage of call records.
type RecordStore interface {
	// Create writes the initial record for a call.
	Create(ctx context.Context, rec *Record) error
	// Get returns the record for a call, or an error when none exists.
	Get(ctx context.Context, callSID string) (*Record, error)
	// UpsertPartial updates an in-progress call's transcript and collected
	// data, setting its status to in-progress. It must not touch records
	// already in a terminal status.
	UpsertPartial(ctx context.Context, callSID string, transcript []Turn, collected map[string]any) error
	// UpsertFinal writes the complete record for a finished call. It is
	// last-writer-wins over any in-flight partial upsert.
	UpsertFinal(ctx context.Context, rec *Record) error
	// RecentByRecipient returns up to limit prior records for an
	// agent-recipient pair, most recent first.
	RecentByRecipient(ctx context.Context, agentID, recipientPhone string, limit int) ([]Record, error)
}

// Archiver copies a call recording from the telephony provider into durable
// blob storage and returns the durable URL. Failure is non-fatal to call
// finalization.
type Archiver interface {
	Archive(ctx context.Context, callSID, sourceURL string) (string, error)
}

// StoreOptions configures a Store. Zero values select the defaults noted on
// each field.
type StoreOptions struct {
	SyncThreshold   int           // partial sync every N turns (default 5)
	PastCallLimit   int           // prior calls fetched per session (default 5)
	MaxCallDuration time.Duration // orphan eviction age (default 1h)
	SweepInterval   time.Duration // orphan sweep period (default 1m)
	FinalRetention  time.Duration // finalized-record cache for duplicate events (default 5m)
	FinalizeTimeout time.Duration // overall bound on finalize's durable write (default 30s)
	SyncTimeout     time.Duration // bound on one partial sync's durable write (default 10s)
	Detector        Detector      // termination policy (default keyword detector)
	Logger          *slog.Logger
}

// Store owns the set of active call sessions. It enforces the single-fetch
// and append-only invariants and executes the periodic durable sync.
type Store struct {
	records  RecordStore
	agents   agent.Directory
	archiver Archiver
	detector Detector
	opts     StoreOptions
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	finished map[string]finishedEntry

	wg sync.WaitGroup
}

type finishedEntry struct {
	rec *Record
	at  time.Time
}

// NewStore builds a session store over its collaborators. agents and
// records are required; archiver may be nil (archival disabled).
func NewStore(records RecordStore, agents agent.Directory, archiver Archiver, opts StoreOptions) *Store {
	if opts.SyncThreshold <= 0 {
		opts.SyncThreshold = 5
	}
	if opts.PastCallLimit <= 0 {
		opts.PastCallLimit = 5
	}
	if opts.MaxCallDuration <= 0 {
		opts.MaxCallDuration = time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.FinalRetention <= 0 {
		opts.FinalRetention = 5 * time.Minute
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 30 * time.Second
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 10 * time.Second
	}
	detector := opts.Detector
	if detector == nil {
		detector = NewKeywordDetector(nil, 0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records:  records,
		agents:   agents,
		archiver: archiver,
		detector: detector,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		finished: make(map[string]finishedEntry),
	}
}

// Session is the in-memory record of one active phone call. The exported
// fields are set at creation and immutable for the session's lifetime; all
// mutable state is guarded and reached through methods.
type Session struct {
	CallSID        string
	AgentID        string
	CallerPhone    string
	RecipientPhone string

	// Agent is the configuration snapshot fetched once at call start.
	Agent *agent.Config
	// PastCalls are prior records for this agent-recipient pair, most
	// recent first. Read-only.
	PastCalls []Record

	// syncs tracks this session's in-flight partial syncs so Finalize can
	// wait them out and stay the last writer on the durable record.
	syncs sync.WaitGroup

	mu            sync.Mutex
	transcript    []Turn
	collected     map[string]any
	noInput       int
	lowConfidence int
	flush         flushPolicy
	endReason     EndReason
	startedAt     time.Time
	lastSynced    time.Time
	finalized     bool
	finalRecord   *Record
}

// Transcript returns a copy of the session transcript.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Collected returns a copy of the collected-data map.
func (s *Session) Collected() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCollected(s.collected)
}

// StartedAt returns the call start time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// EndReason returns the recorded end reason, empty while the call is live.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

func copyCollected(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Create registers a session for a call. It is idempotent: a duplicate
// start event for a known call SID returns the existing session. The agent
// snapshot and past-conversation snapshot are fetched before the session
// becomes visible, so readers never observe a partially populated session.
func (s *Store) Create(ctx context.Context, callSID, agentID, callerPhone, recipientPhone string) (*Session, error) {
	s.mu.Lock()
	if existing, ok := s.sessions[callSID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	cfg, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		s.logger.Warn("agent lookup failed, using default",
			"call_sid", callSID, "agent_id", agentID, "error", err)
		cfg = agent.Default()
	}

	past, err := s.records.RecentByRecipient(ctx, agentID, recipientPhone, s.opts.PastCallLimit)
	if err != nil {
		s.logger.Warn("past-conversation lookup failed",
			"call_sid", callSID, "agent_id", agentID, "error", err)
		past = nil
	}

	now := s.now()
	sess := &Session{
		CallSID:        callSID,
		AgentID:        agentID,
		CallerPhone:    callerPhone,
		RecipientPhone: recipientPhone,
		Agent:          cfg,
		PastCalls:      past,
		collected:      make(map[string]any),
		flush:          newFlushPolicy(s.opts.SyncThreshold),
		startedAt:      now,
	}

	s.mu.Lock()
	if existing, ok := s.sessions[callSID]; ok {
		// Lost a race with a duplicate start event.
		s.mu.Unlock()
		return existing, nil
	}
	s.sessions[callSID] = sess
	s.mu.Unlock()

	if err := s.records.Create(ctx, &Record{
		CallSID:        callSID,
		AgentID:        agentID,
		CallerPhone:    callerPhone,
		RecipientPhone: recipientPhone,
		Status:         StatusInitiated,
		StartedAt:      now,
		Transcript:     []Turn{},
		DataCollected:  map[string]any{},
	}); err != nil {
		s.logger.Error("initial call record write failed",
			"call_sid", callSID, "error", err)
	}

	s.logger.Info("session created",
		"call_sid", callSID, "agent_id", agentID, "past_calls", len(past))
	return sess, nil
}

// Get returns the session for a call, or ErrSessionNotFound. Callers must
// degrade gracefully when the session is gone (e.g. a process restart
// mid-call): proceed with a default agent rather than failing the call.
func (s *Store) Get(callSID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[callSID]; ok {
		return sess, nil
	}
	return nil, ErrSessionNotFound
}

// Recover rebuilds a session for a call the store no longer tracks, e.g.
// after a process restart mid-call. The durable record, when one exists,
// seeds the agent reference, transcript, collected data, and start time so
// the final flush does not shed earlier turns; without one the call
// continues on the default agent with an empty history. Recovering an
// active call returns the existing session.
func (s *Store) Recover(ctx context.Context, callSID, callerPhone, recipientPhone string) (*Session, error) {
	if sess, err := s.Get(callSID); err == nil {
		return sess, nil
	}

	var prior *Record
	if rec, err := s.records.Get(ctx, callSID); err == nil {
		prior = rec
	} else {
		s.logger.Warn("no durable record for recovered call",
			"call_sid", callSID, "error", err)
	}

	agentID := ""
	if prior != nil {
		agentID = prior.AgentID
		if callerPhone == "" {
			callerPhone = prior.CallerPhone
		}
		if recipientPhone == "" {
			recipientPhone = prior.RecipientPhone
		}
	}

	sess, err := s.Create(ctx, callSID, agentID, callerPhone, recipientPhone)
	if err != nil {
		return nil, err
	}

	if prior != nil {
		sess.mu.Lock()
		if len(sess.transcript) == 0 {
			sess.transcript = append(sess.transcript, prior.Transcript...)
			for k, v := range prior.DataCollected {
				sess.collected[k] = v
			}
			if !prior.StartedAt.IsZero() {
				sess.startedAt = prior.StartedAt
			}
		}
		sess.mu.Unlock()
	}

	s.logger.Warn("session recovered mid-call",
		"call_sid", callSID, "agent_id", agentID, "turns", len(sess.Transcript()))
	return sess, nil
}

// Count returns the number of active sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ActiveCallSIDs lists the call SIDs of active sessions.
func (s *Store) ActiveCallSIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for sid := range s.sessions {
		out = append(out, sid)
	}
	return out
}

// AppendTurn appends a turn to the session transcript. When the dirty-turn
// count reaches the sync threshold it dispatches a partial sync to the
// record store and resets the counter. The sync runs off the turn-response
// path; a failed sync is logged and the in-memory transcript remains the
// source of truth until the next sync or the final flush.
func (s *Store) AppendTurn(callSID string, turn Turn) error {
	sess, err := s.Get(callSID)
	if err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}

	sess.mu.Lock()
	if sess.finalized {
		sess.mu.Unlock()
		return fmt.Errorf("append to finalized call %s", callSID)
	}
	sess.transcript = append(sess.transcript, turn)
	syncDue := sess.flush.noteAppend()
	var transcript []Turn
	var collected map[string]any
	if syncDue {
		transcript = make([]Turn, len(sess.transcript))
		copy(transcript, sess.transcript)
		collected = copyCollected(sess.collected)
		sess.syncs.Add(1)
	}
	sess.mu.Unlock()

	if syncDue {
		s.wg.Add(1)
		go s.partialSync(sess, transcript, collected)
	}
	return nil
}

func (s *Store) partialSync(sess *Session, transcript []Turn, collected map[string]any) {
	defer s.wg.Done()
	defer sess.syncs.Done()

	sess.mu.Lock()
	done := sess.finalized
	sess.mu.Unlock()
	if done {
		// Finalize already snapshotted the full transcript; this sync has
		// nothing left to add.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SyncTimeout)
	defer cancel()

	if err := s.records.UpsertPartial(ctx, sess.CallSID, transcript, collected); err != nil {
		s.logger.Error("partial sync failed",
			"call_sid", sess.CallSID, "turns", len(transcript), "error", err)
		return
	}

	sess.mu.Lock()
	sess.lastSynced = s.now()
	sess.mu.Unlock()
	s.logger.Debug("partial sync", "call_sid", sess.CallSID, "turns", len(transcript))
}

// MergeCollectedData validates value against the field's declared kind and
// stores it. Invalid values are rejected with a ValidationError and the map
// is left unchanged; callers log and let the turn continue. Unknown fields
// are rejected the same way. The map never shrinks.
func (s *Store) MergeCollectedData(callSID, field, value string) error {
	sess, err := s.Get(callSID)
	if err != nil {
		return err
	}

	spec, ok := sess.Agent.DataToFill[field]
	if !ok {
		return &agent.ValidationError{Field: field, Value: value}
	}
	if err := spec.ValidateValue(field, value); err != nil {
		return err
	}

	sess.mu.Lock()
	sess.collected[field] = value
	sess.mu.Unlock()
	s.logger.Info("collected data", "call_sid", callSID, "field", field)
	return nil
}

// RecordNoInput increments the consecutive-failed-input counter and returns
// the new count.
func (s *Store) RecordNoInput(callSID string) (int, error) {
	sess, err := s.Get(callSID)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.noInput++
	return sess.noInput, nil
}

// ResetNoInput clears the consecutive-failed-input counter after usable
// input arrives.
func (s *Store) ResetNoInput(callSID string) error {
	sess, err := s.Get(callSID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.noInput = 0
	return nil
}

// RecordLowConfidence increments the consecutive low-confidence counter and
// returns the new count.
func (s *Store) RecordLowConfidence(callSID string) (int, error) {
	sess, err := s.Get(callSID)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lowConfidence++
	return sess.lowConfidence, nil
}

// ResetLowConfidence clears the low-confidence counter.
func (s *Store) ResetLowConfidence(callSID string) error {
	sess, err := s.Get(callSID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lowConfidence = 0
	return nil
}

// SetEndReason records why the turn loop stopped. The first reason set
// wins; later calls are ignored so a provider status event cannot
// overwrite a user hangup.
func (s *Store) SetEndReason(callSID string, reason EndReason) error {
	sess, err := s.Get(callSID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.endReason == "" {
		sess.endReason = reason
	}
	return nil
}

// ShouldTerminate evaluates the termination policy against the session's
// current state.
func (s *Store) ShouldTerminate(callSID string) (Decision, error) {
	sess, err := s.Get(callSID)
	if err != nil {
		return DecisionContinue, err
	}

	sess.mu.Lock()
	var lastUser string
	for i := len(sess.transcript) - 1; i >= 0; i-- {
		if sess.transcript[i].Role == RoleUser {
			lastUser = sess.transcript[i].Content
			break
		}
	}
	in := DetectInput{
		LastUserText: lastUser,
		NoInputCount: sess.noInput,
		Collected:    copyCollected(sess.collected),
		Schema:       sess.Agent.DataToFill,
	}
	sess.mu.Unlock()

	return s.detector.Decide(in), nil
}

// FinalizeOutcome carries the terminal status event's payload.
type FinalizeOutcome struct {
	Status       Status
	RecordingURL string
	RecordingSID string
	AnsweredBy   string
}

// Finalize assembles the complete call record, archives the recording as a
// best-effort side effect, issues the durable write with bounded retry, and
// removes the session from the active set. It is safe to call at most once
// per call SID: a duplicate event returns the previously computed record,
// and once the retention window passes it returns ErrSessionNotFound.
func (s *Store) Finalize(ctx context.Context, callSID string, outcome FinalizeOutcome) (*Record, error) {
	sess, err := s.Get(callSID)
	if err != nil {
		s.mu.Lock()
		entry, ok := s.finished[callSID]
		s.mu.Unlock()
		if ok {
			return entry.rec, nil
		}
		return nil, err
	}

	sess.mu.Lock()
	if sess.finalized {
		rec := sess.finalRecord
		sess.mu.Unlock()
		return rec, nil
	}
	sess.finalized = true

	endedAt := s.now()
	reason := sess.endReason
	if reason == "" {
		reason = EndedByProvider
	}
	transcript := make([]Turn, len(sess.transcript))
	copy(transcript, sess.transcript)
	rec := &Record{
		CallSID:         sess.CallSID,
		AgentID:         sess.AgentID,
		CallerPhone:     sess.CallerPhone,
		RecipientPhone:  sess.RecipientPhone,
		Status:          outcome.Status,
		StartedAt:       sess.startedAt,
		EndedAt:         endedAt,
		DurationSeconds: int(endedAt.Sub(sess.startedAt) / time.Second),
		EndedBy:         reason,
		Transcript:      transcript,
		DataCollected:   copyCollected(sess.collected),
		RecordingURL:    outcome.RecordingURL,
		RecordingSID:    outcome.RecordingSID,
		AnsweredBy:      outcome.AnsweredBy,
	}
	sess.finalRecord = rec
	sess.mu.Unlock()

	// The final write must be the last writer on the durable record. Wait
	// out any partial sync still in flight for this call; each one is
	// bounded by SyncTimeout, so this cannot stall finalize indefinitely.
	sess.syncs.Wait()

	if s.archiver != nil && outcome.RecordingURL != "" {
		if s3url, err := s.archiver.Archive(ctx, callSID, outcome.RecordingURL); err != nil {
			s.logger.Error("recording archival failed", "call_sid", callSID, "error", err)
		} else {
			rec.S3RecordingURL = s3url
		}
	}

	// Last chance to persist: bounded exponential backoff, then give up
	// and log rather than hold the record in memory indefinitely.
	writeCtx, cancel := context.WithTimeout(ctx, s.opts.FinalizeTimeout)
	defer cancel()
	backoff := retry.WithMaxDuration(s.opts.FinalizeTimeout, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(writeCtx, backoff, func(ctx context.Context) error {
		if err := s.records.UpsertFinal(ctx, rec); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("call not persisted, dropping after retries",
			"call_sid", callSID, "status", rec.Status, "turns", len(rec.Transcript), "error", err)
	}

	s.mu.Lock()
	delete(s.sessions, callSID)
	s.finished[callSID] = finishedEntry{rec: rec, at: s.now()}
	s.mu.Unlock()

	s.logger.Info("call finalized",
		"call_sid", callSID, "status", rec.Status, "ended_by", rec.EndedBy,
		"duration_seconds", rec.DurationSeconds, "turns", len(rec.Transcript))
	return rec, nil
}

// RunSweeper evicts orphaned sessions whose call started longer ago than
// the maximum call duration without a terminal event, and prunes the
// finalized-record cache. It blocks until ctx is canceled.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Store) sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var orphans []string
	for sid, sess := range s.sessions {
		sess.mu.Lock()
		age := now.Sub(sess.startedAt)
		sess.mu.Unlock()
		if age > s.opts.MaxCallDuration {
			orphans = append(orphans, sid)
		}
	}
	for sid, entry := range s.finished {
		if now.Sub(entry.at) > s.opts.FinalRetention {
			delete(s.finished, sid)
		}
	}
	s.mu.Unlock()

	for _, sid := range orphans {
		s.logger.Warn("evicting orphaned session", "call_sid", sid)
		_ = s.SetEndReason(sid, EndedByProvider)
		if _, err := s.Finalize(ctx, sid, FinalizeOutcome{Status: StatusFailed}); err != nil {
			s.logger.Error("orphan finalize failed", "call_sid", sid, "error", err)
		}
	}
}

// Wait blocks until in-flight partial syncs complete, or ctx is done.
// Used during shutdown and by tests.
func (s *Store) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
