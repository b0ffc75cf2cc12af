package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/history"
	"github.com/hyperjump/kaiwa/internal/index"
	"github.com/hyperjump/kaiwa/internal/keyword"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
)

// ErrEmptyMessage is returned for a blank or whitespace-only user message.
var ErrEmptyMessage = errors.New("empty message")

// maxRetryBackoff caps the delay between model call attempts.
const maxRetryBackoff = 5 * time.Second

// KeywordSearcher is the fallback retrieval used when semantic search
// returns nothing.
type KeywordSearcher interface {
	Search(query string, limit int) ([]keyword.Result, error)
}

// Manager owns the session registry and runs conversation turns.
//
// A turn's ordering guarantees: the user message is durably recorded before
// retrieval or the model run, so a failed turn never loses what the user
// said; the assistant reply is durably recorded before it is returned, so a
// delivered reply is always in the history logs.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	vectors  *index.Index
	keywords KeywordSearcher
	store    storage.Storage
	model    llm.Client
	history  *history.Store

	topK            int
	maxContextChars int
	maxHistory      int
	maxRetries      int
	retryBase       time.Duration

	logger *zap.Logger
	clock  func() time.Time
	newID  func() string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithRetryBase overrides the initial model retry delay. Tests use this to
// avoid real backoff waits.
func WithRetryBase(d time.Duration) ManagerOption {
	return func(m *Manager) { m.retryBase = d }
}

// NewManager wires the conversation orchestrator.
func NewManager(vectors *index.Index, keywords KeywordSearcher, store storage.Storage, model llm.Client, hist *history.Store, chatCfg *config.ChatConfig, maxRetries int, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:        make(map[string]*Session),
		vectors:         vectors,
		keywords:        keywords,
		store:           store,
		model:           model,
		history:         hist,
		topK:            chatCfg.TopK,
		maxContextChars: chatCfg.MaxContextChars,
		maxHistory:      chatCfg.MaxHistoryMessages,
		maxRetries:      maxRetries,
		retryBase:       500 * time.Millisecond,
		logger:          zap.NewNop(),
		clock:           func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
	if m.maxRetries < 1 {
		m.maxRetries = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession registers a new empty session.
func (m *Manager) CreateSession() (*Session, error) {
	sess := newSession(m.newID(), m.clock())
	if err := m.store.CreateSession(sess.ID, sess.CreatedAt); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	m.logger.Info("session created", zap.String("session_id", sess.ID))
	return sess, nil
}

// GetSession returns the session with the given ID.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

// SessionCount returns the number of registered sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseSession marks a session closed. Closing twice is idempotent; closing
// during an in-flight turn fails with ErrInvalidSessionState.
func (m *Manager) CloseSession(id string) error {
	sess, err := m.GetSession(id)
	if err != nil {
		return err
	}
	if sess.State() == StateClosed {
		return nil
	}
	if err := sess.close(); err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	if err := m.store.CloseSession(id, m.clock()); err != nil {
		m.logger.Warn("persist session close", zap.String("session_id", id), zap.Error(err))
	}
	m.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// AttachDocument puts an ingested document in scope for a session's retrieval.
func (m *Manager) AttachDocument(sessionID, docID string) error {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	if _, err := m.store.GetDocument(docID); err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	if err := sess.attachDocument(docID); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	return nil
}

// History returns the durably recorded messages for a session.
func (m *Manager) History(sessionID string) ([]*models.HistoryRecord, error) {
	if _, err := m.GetSession(sessionID); err != nil {
		return nil, err
	}
	return m.history.Load(sessionID)
}

// Send runs one conversation turn and returns the assistant's message.
func (m *Manager) Send(ctx context.Context, sessionID, text string) (*models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.beginTurn(); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	defer sess.endTurn()

	userMsg := &models.ChatMessage{
		ID:        m.newID(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: m.clock(),
	}
	if err := m.record(userMsg); err != nil {
		return nil, err
	}
	priorMsgs := sess.Messages()
	sess.appendMessage(userMsg)

	docIDs := sess.DocumentIDs()
	var results []index.Result
	if len(docIDs) > 0 {
		results, err = m.retrieve(ctx, text, docIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
		}
		if len(results) == 0 {
			// Nothing relevant in the attached documents. Answer without
			// consulting the model so the reply stays grounded.
			return m.deliver(sess, groundedFallback, nil)
		}
	}

	prompt := buildUserPrompt(text, results, priorMsgs, m.maxContextChars, m.maxHistory)
	reply, err := m.callModel(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelCall, err)
	}

	chunkIDs := make([]string, len(results))
	for i, r := range results {
		chunkIDs[i] = r.Chunk.ID
	}
	return m.deliver(sess, reply, chunkIDs)
}

// deliver durably records the assistant reply, appends it to the transcript,
// and returns it.
func (m *Manager) deliver(sess *Session, content string, chunkIDs []string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:        m.newID(),
		SessionID: sess.ID,
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: m.clock(),
		ChunkIDs:  chunkIDs,
	}
	if err := m.record(msg); err != nil {
		return nil, err
	}
	sess.appendMessage(msg)
	return msg, nil
}

func (m *Manager) record(msg *models.ChatMessage) error {
	err := m.history.Append(&models.HistoryRecord{
		Timestamp: msg.Timestamp,
		Role:      msg.Role,
		SessionID: msg.SessionID,
		Content:   msg.Content,
	})
	if err != nil {
		return fmt.Errorf("record %s message: %w", msg.Role, err)
	}
	return nil
}

// retrieve runs semantic search over the session's documents, falling back
// to keyword search when no chunk clears relevance.
func (m *Manager) retrieve(ctx context.Context, query string, docIDs []string) ([]index.Result, error) {
	results, err := m.vectors.Query(ctx, query, m.topK, docIDs)
	if err != nil {
		return nil, err
	}
	relevant := results[:0]
	for _, r := range results {
		if r.Score > 0 {
			relevant = append(relevant, r)
		}
	}
	if len(relevant) > 0 {
		return relevant, nil
	}
	m.logger.Debug("semantic retrieval empty, trying keyword fallback", zap.String("query", query))
	return m.keywordFallback(query, docIDs)
}

func (m *Manager) keywordFallback(query string, docIDs []string) ([]index.Result, error) {
	scope := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		scope[id] = struct{}{}
	}
	hits, err := m.keywords.Search(query, m.topK*4)
	if err != nil {
		return nil, fmt.Errorf("keyword fallback: %w", err)
	}

	filenames := make(map[string]string)
	var results []index.Result
	for _, hit := range hits {
		if _, ok := scope[hit.DocumentID]; !ok {
			continue
		}
		chunk, err := m.store.GetChunk(hit.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("keyword fallback: %w", err)
		}
		name, ok := filenames[hit.DocumentID]
		if !ok {
			doc, err := m.store.GetDocument(hit.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("keyword fallback: %w", err)
			}
			name = doc.Filename
			filenames[hit.DocumentID] = name
		}
		results = append(results, index.Result{Chunk: chunk, Filename: name, Score: hit.Score})
		if len(results) == m.topK {
			break
		}
	}
	return results, nil
}

// callModel invokes the model, retrying transient failures with exponential
// backoff. Non-transient errors fail immediately.
func (m *Manager) callModel(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			wait := m.retryBase << (attempt - 1)
			if wait > maxRetryBackoff {
				wait = maxRetryBackoff
			}
			m.logger.Warn("model call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		reply, err := m.model.Complete(ctx, systemInstruction, prompt)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !llm.IsTransient(err) {
			return "", err
		}
	}
	return "", lastErr
}
