package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/models"
	"github.com/blitzwager/backend/internal/rules"
	"github.com/blitzwager/backend/internal/settle"
)

// Manager owns all live sessions and is the single writer of their state.
// Terminal transitions route through one finish path, which calls the
// settlement engine exactly once per session; the engine's idempotence makes
// crash retries safe.
type Manager struct {
	sessions        map[int]*Session // keyed by DB session id
	byToken         map[string]int   // session token -> session id
	playerToSession map[int]int      // player id -> session id

	db      *sqlx.DB
	rdb     *redis.Client
	cfg     *config.Config
	engine  rules.Engine
	settler *settle.Engine

	mu sync.RWMutex
}

// NewManager creates a session manager.
func NewManager(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, engine rules.Engine, settler *settle.Engine) *Manager {
	return &Manager{
		sessions:        make(map[int]*Session),
		byToken:         make(map[string]int),
		playerToSession: make(map[int]int),
		db:              db,
		rdb:             rdb,
		cfg:             cfg,
		engine:          engine,
		settler:         settler,
	}
}

// CreateSession inserts the session row and registers the in-memory state.
// The session starts in 'created'; Activate locks the wagers and starts the
// clocks.
func (m *Manager) CreateSession(ctx context.Context, gameType string, wager float64, whitePlayerID, blackPlayerID int) (*Session, error) {
	token := "session_" + generateToken(8)

	var id int
	err := m.db.QueryRowxContext(ctx, `
		INSERT INTO game_sessions (session_token, game_type, white_player_id, black_player_id, wager, position, side_to_move, white_ms, black_ms, clock_running, last_tick, move_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, FALSE, NOW(), 0, $9)
		RETURNING id`,
		token, gameType, whitePlayerID, blackPlayerID, wager, rules.InitialPosition, rules.SideWhite, m.cfg.InitialClockMs, settle.StatusCreated,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	sess := &Session{
		ID:             id,
		Token:          token,
		GameType:       gameType,
		WhitePlayerID:  whitePlayerID,
		BlackPlayerID:  blackPlayerID,
		Wager:          wager,
		Position:       rules.InitialPosition,
		SideToMove:     rules.SideWhite,
		WhiteMs:        m.cfg.InitialClockMs,
		BlackMs:        m.cfg.InitialClockMs,
		LastTick:       time.Now(),
		Status:         settle.StatusCreated,
		connected:      make(map[int]bool),
		disconnectedAt: make(map[int]time.Time),
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.byToken[token] = id
	m.playerToSession[whitePlayerID] = id
	m.playerToSession[blackPlayerID] = id
	m.mu.Unlock()

	m.saveToRedis(sess)
	log.Printf("[SESSION] Created session %d (%s) white=%d black=%d wager=%.2f", id, token, whitePlayerID, blackPlayerID, wager)
	return sess, nil
}

// Activate locks both wagers and starts the clock. Retry-safe through the
// settlement engine's lock discriminant.
func (m *Manager) Activate(ctx context.Context, sessionID int) (*settle.LockResult, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res, err := m.settler.LockWager(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.Status == settle.StatusCreated {
		sess.Status = settle.StatusActive
		sess.ClockRunning = true
		sess.LastTick = time.Now()
	}
	sess.mu.Unlock()

	m.saveToRedis(sess)
	return res, nil
}

// Get returns the session, loading from Redis or the DB when this node has
// no in-memory copy (another node created it, or we restarted).
func (m *Manager) Get(ctx context.Context, sessionID int) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}
	return m.load(ctx, sessionID)
}

// GetByToken resolves a session token.
func (m *Manager) GetByToken(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	id, ok := m.byToken[token]
	m.mu.RUnlock()
	if ok {
		return m.Get(ctx, id)
	}

	var sessID int
	err := m.db.GetContext(ctx, &sessID, `SELECT id FROM game_sessions WHERE session_token=$1`, token)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, sessID)
}

// ActiveSessionForPlayer returns the player's non-finished session, if any.
func (m *Manager) ActiveSessionForPlayer(ctx context.Context, playerID int) (*Session, bool) {
	m.mu.RLock()
	id, ok := m.playerToSession[playerID]
	m.mu.RUnlock()
	if ok {
		if sess, err := m.Get(ctx, id); err == nil {
			sess.mu.RLock()
			live := !sess.finished()
			sess.mu.RUnlock()
			if live {
				return sess, true
			}
		}
	}

	var sessID int
	err := m.db.GetContext(ctx, &sessID, `SELECT id FROM game_sessions WHERE (white_player_id=$1 OR black_player_id=$1) AND status != $2 ORDER BY id DESC LIMIT 1`, playerID, settle.StatusFinished)
	if err != nil {
		return nil, false
	}
	sess, err := m.Get(ctx, sessID)
	if err != nil {
		return nil, false
	}
	return sess, true
}

// ApplyMove validates and applies one move for actorID, pushes the resulting
// state to both clients, and finishes the session when the move is terminal.
func (m *Manager) ApplyMove(ctx context.Context, sessionID, actorID int, move string) (*MoveResult, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	sess.mu.Lock()
	side := sess.sideOf(actorID)
	if side == "" {
		sess.mu.Unlock()
		return nil, ErrNotParticipant
	}
	if sess.Status != settle.StatusActive {
		sess.mu.Unlock()
		return nil, ErrNotActive
	}
	if side != sess.SideToMove {
		sess.mu.Unlock()
		return nil, ErrNotYourTurn
	}

	snap := sess.snapshotLocked(now)
	if flagged, fallen := snap.FlagFallen(); fallen {
		sess.mu.Unlock()
		// Record the time loss the move just revealed.
		if _, err := m.DeclareTimeLoss(ctx, sessionID, flagged); err != nil {
			log.Printf("[SESSION] Time loss on move for session %d failed: %v", sessionID, err)
		}
		return nil, ErrFlagFallen
	}

	newPosition, err := m.engine.ApplyMove(sess.Position, side, move)
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}

	// Settle the mover's clock at the derived remainder plus increment, then
	// restart the measurement window for the other side.
	remaining := snap.Remaining(side) + m.cfg.MoveIncrementMs
	if side == rules.SideWhite {
		sess.WhiteMs = remaining
		sess.BlackMs = snap.BlackMs
	} else {
		sess.BlackMs = remaining
		sess.WhiteMs = snap.WhiteMs
	}
	sess.Position = newPosition
	sess.SideToMove = rules.Opponent(side)
	sess.LastTick = now
	sess.MoveCount++
	moveNumber := sess.MoveCount

	verdict := m.engine.Evaluate(newPosition)
	state := m.syncStateLocked(sess, actorID, now)
	sess.mu.Unlock()

	if err := m.persistMove(ctx, sess, actorID, moveNumber, move); err != nil {
		return nil, err
	}
	m.saveToRedis(sess)

	m.PublishEvent(Event{
		Type:         EventMoveApplied,
		SessionToken: sess.Token,
		DBSessionID:  sess.ID,
		Data: map[string]interface{}{
			"move":         move,
			"position":     state.Position,
			"side_to_move": state.Clock.SideToMove,
			"move_count":   state.MoveCount,
			"clock":        state.Clock,
		},
	})

	result := &MoveResult{Move: move, State: state}
	if verdict.Terminal {
		var winnerID *int
		if verdict.Winner != "" {
			sess.mu.RLock()
			id := sess.playerOnSide(verdict.Winner)
			sess.mu.RUnlock()
			winnerID = &id
		}
		end, err := m.finish(ctx, sess, winnerID, verdict.Reason)
		if err != nil {
			return nil, err
		}
		result.End = end
		result.State.End = end
	}
	return result, nil
}

// RequestSync returns the full authoritative snapshot, unconditionally, and
// reconciles any terminal verdict a crash may have left unapplied.
func (m *Manager) RequestSync(ctx context.Context, sessionID, actorID int) (*SyncState, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.RLock()
	active := sess.Status == settle.StatusActive
	position := sess.Position
	sess.mu.RUnlock()

	if active {
		if verdict := m.engine.Evaluate(position); verdict.Terminal {
			var winnerID *int
			if verdict.Winner != "" {
				sess.mu.RLock()
				id := sess.playerOnSide(verdict.Winner)
				sess.mu.RUnlock()
				winnerID = &id
			}
			if _, err := m.finish(ctx, sess, winnerID, verdict.Reason); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now()
	sess.mu.RLock()
	state := m.syncStateLocked(sess, actorID, now)
	sess.mu.RUnlock()
	return &state, nil
}

// DeclareTimeLoss finishes the session as a time loss for loserSide. Either
// client or the server may call it; once the session is terminal it is a
// no-op returning the recorded outcome. The claim is checked against the
// derived snapshot, never trusted.
func (m *Manager) DeclareTimeLoss(ctx context.Context, sessionID int, loserSide string) (*EndState, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if loserSide != rules.SideWhite && loserSide != rules.SideBlack {
		return nil, fmt.Errorf("unknown side %q", loserSide)
	}

	now := time.Now()
	sess.mu.RLock()
	if sess.finished() {
		end := m.endStateLocked(sess)
		sess.mu.RUnlock()
		return end, nil
	}
	snap := sess.snapshotLocked(now)
	sess.mu.RUnlock()

	flagged, fallen := snap.FlagFallen()
	if !fallen || flagged != loserSide {
		return nil, ErrFlagNotFallen
	}

	sess.mu.RLock()
	winnerID := sess.playerOnSide(rules.Opponent(loserSide))
	sess.mu.RUnlock()
	return m.finish(ctx, sess, &winnerID, settle.ReasonTimeout)
}

// Resign ends the session as a loss for the actor. A resignation before any
// move was played is a no-penalty leave: both wagers are refunded.
func (m *Manager) Resign(ctx context.Context, sessionID, actorID int) (*EndState, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.RLock()
	side := sess.sideOf(actorID)
	if side == "" {
		sess.mu.RUnlock()
		return nil, ErrNotParticipant
	}
	if sess.finished() {
		end := m.endStateLocked(sess)
		sess.mu.RUnlock()
		return end, nil
	}
	noContest := sess.MoveCount == 0
	winnerID := sess.playerOnSide(rules.Opponent(side))
	sess.mu.RUnlock()

	if noContest {
		return m.finish(ctx, sess, nil, settle.ReasonNoContest)
	}
	return m.finish(ctx, sess, &winnerID, settle.ReasonResign)
}

// Abort force-finishes a session with both wagers refunded. Operator use.
func (m *Manager) Abort(ctx context.Context, sessionID int) (*EndState, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.RLock()
	if sess.finished() {
		end := m.endStateLocked(sess)
		sess.mu.RUnlock()
		return end, nil
	}
	sess.mu.RUnlock()
	return m.finish(ctx, sess, nil, settle.ReasonAbort)
}

// finish is the single terminal path. It settles funds, stamps the in-memory
// state, releases the player mappings and broadcasts session_ended.
func (m *Manager) finish(ctx context.Context, sess *Session, winnerID *int, reason string) (*EndState, error) {
	res, err := m.settler.SettleSession(ctx, sess.ID, winnerID, reason)
	if err != nil {
		if errors.Is(err, settle.ErrNotLocked) {
			// Created but never activated; nothing was escrowed. Close the row.
			if _, dbErr := m.db.ExecContext(ctx, `UPDATE game_sessions SET status=$1, end_reason=$2, updated_at=NOW() WHERE id=$3 AND settlement_id IS NULL`, settle.StatusFinished, reason, sess.ID); dbErr != nil {
				return nil, dbErr
			}
			res = &settle.SettleResult{}
		} else {
			return nil, err
		}
	}

	sess.mu.Lock()
	if !sess.finished() {
		sess.Status = settle.StatusFinished
		sess.EndReason = reason
		sess.WinnerID = winnerID
		sess.ClockRunning = false
	}
	end := m.endStateLocked(sess)
	end.CreditsUpdated = res.CreditsUpdated
	whiteID, blackID := sess.WhitePlayerID, sess.BlackPlayerID
	sess.mu.Unlock()

	m.mu.Lock()
	if m.playerToSession[whiteID] == sess.ID {
		delete(m.playerToSession, whiteID)
	}
	if m.playerToSession[blackID] == sess.ID {
		delete(m.playerToSession, blackID)
	}
	m.mu.Unlock()

	m.saveToRedis(sess)

	m.PublishEvent(Event{
		Type:         EventSessionEnded,
		SessionToken: sess.Token,
		DBSessionID:  sess.ID,
		Targets:      []int{whiteID, blackID},
		Data: map[string]interface{}{
			"reason":          end.Reason,
			"winner_side":     end.WinnerSide,
			"db_session_id":   end.SessionID,
			"wager":           end.Wager,
			"credits_updated": end.CreditsUpdated,
		},
	})

	log.Printf("[SESSION] Session %d finished: reason=%s winner=%v", sess.ID, reason, winnerID)
	return end, nil
}

// MarkConnected clears the disconnect timer for the player's live session.
func (m *Manager) MarkConnected(ctx context.Context, playerID int) {
	sess, ok := m.ActiveSessionForPlayer(ctx, playerID)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.connected[playerID] = true
	delete(sess.disconnectedAt, playerID)
	sess.mu.Unlock()
}

// MarkDisconnected starts the forfeit grace timer and tells the opponent.
func (m *Manager) MarkDisconnected(ctx context.Context, playerID int) {
	sess, ok := m.ActiveSessionForPlayer(ctx, playerID)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.connected[playerID] = false
	sess.disconnectedAt[playerID] = time.Now()
	opponentID := sess.WhitePlayerID
	if playerID == sess.WhitePlayerID {
		opponentID = sess.BlackPlayerID
	}
	sess.mu.Unlock()

	m.PublishEvent(Event{
		Type:         EventOpponentLeft,
		SessionToken: sess.Token,
		DBSessionID:  sess.ID,
		Targets:      []int{opponentID},
		Data:         map[string]interface{}{"reason": "disconnect"},
	})
}

// StartDisconnectChecker runs the forfeit sweep until ctx is cancelled.
func (m *Manager) StartDisconnectChecker(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.cfg.DisconnectPollSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkFlagFalls(ctx)
			m.checkDisconnectForfeits(ctx)
		}
	}
}

// checkFlagFalls records time losses the clients have not claimed yet.
func (m *Manager) checkFlagFalls(ctx context.Context) {
	m.mu.RLock()
	toCheck := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		toCheck = append(toCheck, sess)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, sess := range toCheck {
		sess.mu.RLock()
		active := sess.Status == settle.StatusActive
		snap := sess.snapshotLocked(now)
		sess.mu.RUnlock()
		if !active {
			continue
		}
		if flagged, fallen := snap.FlagFallen(); fallen {
			if _, err := m.DeclareTimeLoss(ctx, sess.ID, flagged); err != nil {
				log.Printf("[SESSION] Sweep time loss for session %d failed: %v", sess.ID, err)
			}
		}
	}
}

// checkDisconnectForfeits forfeits sessions where a player has been gone
// longer than the grace period.
func (m *Manager) checkDisconnectForfeits(ctx context.Context) {
	m.mu.RLock()
	toCheck := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		toCheck = append(toCheck, sess)
	}
	m.mu.RUnlock()

	now := time.Now()
	grace := time.Duration(m.cfg.DisconnectGraceSeconds) * time.Second

	for _, sess := range toCheck {
		sess.mu.RLock()
		if sess.Status != settle.StatusActive {
			sess.mu.RUnlock()
			continue
		}
		var forfeitPlayerID int
		for _, pid := range []int{sess.WhitePlayerID, sess.BlackPlayerID} {
			at, gone := sess.disconnectedAt[pid]
			if gone && now.Sub(at) > grace {
				forfeitPlayerID = pid
				break
			}
		}
		sess.mu.RUnlock()

		if forfeitPlayerID == 0 {
			continue
		}
		sess.mu.RLock()
		winnerID := sess.WhitePlayerID
		if forfeitPlayerID == sess.WhitePlayerID {
			winnerID = sess.BlackPlayerID
		}
		sess.mu.RUnlock()

		if _, err := m.finish(ctx, sess, &winnerID, settle.ReasonDisconnect); err != nil {
			log.Printf("[DISCONNECT] Failed to forfeit session %d: %v", sess.ID, err)
		} else {
			log.Printf("[DISCONNECT] Player %d forfeited session %d after grace period", forfeitPlayerID, sess.ID)
		}
	}
}

// syncStateLocked builds the snapshot payload. Callers hold sess.mu.
func (m *Manager) syncStateLocked(sess *Session, actorID int, now time.Time) SyncState {
	state := SyncState{
		SessionID: sess.ID,
		Token:     sess.Token,
		GameType:  sess.GameType,
		Wager:     sess.Wager,
		Position:  sess.Position,
		YourSide:  sess.sideOf(actorID),
		MoveCount: sess.MoveCount,
		Status:    sess.Status,
		Clock:     sess.snapshotLocked(now),
	}
	if sess.finished() {
		state.End = m.endStateLocked(sess)
	}
	return state
}

// endStateLocked builds the terminal payload. Callers hold sess.mu.
func (m *Manager) endStateLocked(sess *Session) *EndState {
	end := &EndState{
		SessionID: sess.ID,
		Token:     sess.Token,
		Reason:    sess.EndReason,
		WinnerID:  sess.WinnerID,
		Wager:     sess.Wager,
	}
	if sess.WinnerID != nil {
		side := sess.sideOf(*sess.WinnerID)
		end.WinnerSide = &side
	}
	return end
}

// persistMove writes the move row and the updated session row in one tx.
func (m *Manager) persistMove(ctx context.Context, sess *Session, actorID, moveNumber int, move string) error {
	sess.mu.RLock()
	position := sess.Position
	sideToMove := sess.SideToMove
	whiteMs, blackMs := sess.WhiteMs, sess.BlackMs
	lastTick := sess.LastTick
	sess.mu.RUnlock()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO game_moves (session_id, move_number, player_id, move, position) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (session_id, move_number) DO NOTHING`,
		sess.ID, moveNumber, actorID, move, position); err != nil {
		return fmt.Errorf("failed to insert move: %w", err)
	}
	if _, err := tx.Exec(`UPDATE game_sessions SET position=$1, side_to_move=$2, white_ms=$3, black_ms=$4, last_tick=$5, move_count=$6, updated_at=NOW() WHERE id=$7`,
		position, sideToMove, whiteMs, blackMs, lastTick, moveNumber, sess.ID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return tx.Commit()
}

// saveToRedis persists hot state with a sliding expiry.
func (m *Manager) saveToRedis(sess *Session) {
	if m.rdb == nil {
		return
	}

	sess.mu.RLock()
	state := redisSessionState{
		ID:            sess.ID,
		Token:         sess.Token,
		GameType:      sess.GameType,
		WhitePlayerID: sess.WhitePlayerID,
		BlackPlayerID: sess.BlackPlayerID,
		Wager:         sess.Wager,
		Position:      sess.Position,
		SideToMove:    sess.SideToMove,
		WhiteMs:       sess.WhiteMs,
		BlackMs:       sess.BlackMs,
		ClockRunning:  sess.ClockRunning,
		LastTick:      sess.LastTick,
		MoveCount:     sess.MoveCount,
		Status:        sess.Status,
		EndReason:     sess.EndReason,
		WinnerID:      sess.WinnerID,
	}
	sess.mu.RUnlock()

	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("[SESSION] Failed to marshal session %d for Redis: %v", sess.ID, err)
		return
	}
	key := fmt.Sprintf("session:%d:state", sess.ID)
	if err := m.rdb.SetEx(context.Background(), key, data, time.Hour).Err(); err != nil {
		log.Printf("[SESSION] Failed to save session %d to Redis: %v", sess.ID, err)
	}
}

// Discard forgets a session that never activated. Used by matchmaking to
// unwind a pairing whose wager lock failed; the caller removes the DB row.
func (m *Manager) Discard(sessionID int) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		delete(m.byToken, sess.Token)
		if m.playerToSession[sess.WhitePlayerID] == sessionID {
			delete(m.playerToSession, sess.WhitePlayerID)
		}
		if m.playerToSession[sess.BlackPlayerID] == sessionID {
			delete(m.playerToSession, sess.BlackPlayerID)
		}
	}
	m.mu.Unlock()

	if m.rdb != nil {
		key := fmt.Sprintf("session:%d:state", sessionID)
		if err := m.rdb.Del(context.Background(), key).Err(); err != nil {
			log.Printf("[SESSION] Failed to delete Redis state for session %d: %v", sessionID, err)
		}
	}
}

// load restores a session from Redis, falling back to the DB row.
func (m *Manager) load(ctx context.Context, sessionID int) (*Session, error) {
	if m.rdb != nil {
		key := fmt.Sprintf("session:%d:state", sessionID)
		data, err := m.rdb.Get(ctx, key).Result()
		if err == nil {
			var state redisSessionState
			if err := json.Unmarshal([]byte(data), &state); err == nil {
				return m.register(sessionFromRedis(state)), nil
			}
			log.Printf("[SESSION] Corrupt Redis state for session %d, falling back to DB", sessionID)
		} else if err != redis.Nil {
			log.Printf("[SESSION] Redis load for session %d failed: %v", sessionID, err)
		}
	}

	var row models.GameSession
	err := m.db.GetContext(ctx, &row, `SELECT * FROM game_sessions WHERE id=$1`, sessionID)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.register(sessionFromRow(&row)), nil
}

// register adds a loaded session to the maps, keeping an existing copy if a
// concurrent load won.
func (m *Manager) register(sess *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[sess.ID]; ok {
		return existing
	}
	m.sessions[sess.ID] = sess
	m.byToken[sess.Token] = sess.ID
	if sess.Status != settle.StatusFinished {
		m.playerToSession[sess.WhitePlayerID] = sess.ID
		m.playerToSession[sess.BlackPlayerID] = sess.ID
	}
	return sess
}

func sessionFromRedis(state redisSessionState) *Session {
	return &Session{
		ID:             state.ID,
		Token:          state.Token,
		GameType:       state.GameType,
		WhitePlayerID:  state.WhitePlayerID,
		BlackPlayerID:  state.BlackPlayerID,
		Wager:          state.Wager,
		Position:       state.Position,
		SideToMove:     state.SideToMove,
		WhiteMs:        state.WhiteMs,
		BlackMs:        state.BlackMs,
		ClockRunning:   state.ClockRunning,
		LastTick:       state.LastTick,
		MoveCount:      state.MoveCount,
		Status:         state.Status,
		EndReason:      state.EndReason,
		WinnerID:       state.WinnerID,
		connected:      make(map[int]bool),
		disconnectedAt: make(map[int]time.Time),
	}
}

func sessionFromRow(row *models.GameSession) *Session {
	sess := &Session{
		ID:             row.ID,
		Token:          row.SessionToken,
		GameType:       row.GameType,
		WhitePlayerID:  row.WhitePlayerID,
		BlackPlayerID:  row.BlackPlayerID,
		Wager:          row.Wager,
		Position:       row.Position,
		SideToMove:     row.SideToMove,
		WhiteMs:        row.WhiteMs,
		BlackMs:        row.BlackMs,
		ClockRunning:   row.ClockRunning,
		LastTick:       row.LastTick,
		MoveCount:      row.MoveCount,
		Status:         row.Status,
		connected:      make(map[int]bool),
		disconnectedAt: make(map[int]time.Time),
	}
	if row.EndReason.Valid {
		sess.EndReason = row.EndReason.String
	}
	if row.WinnerID.Valid {
		winner := int(row.WinnerID.Int64)
		sess.WinnerID = &winner
	}
	return sess
}
