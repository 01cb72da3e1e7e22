package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qwenstudio/internal/cache"
	"qwenstudio/internal/domain"
	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/infra"
	"qwenstudio/internal/storage"
)

const (
	// DefaultIdleTTL is how long a settled session stays in memory.
	DefaultIdleTTL = 30 * time.Minute

	cacheTimeout    = 2 * time.Second
	archiveTimeout  = 60 * time.Second
	defaultSweepGap = time.Minute
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session: not found")
	// ErrBusy is returned when retrying a session whose generation is still running.
	ErrBusy = errors.New("session: generation in progress")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("session: manager closed")
)

// SnapshotCache shares snapshots with other API replicas.
type SnapshotCache interface {
	Put(ctx context.Context, id string, state imagegen.State) error
	Get(ctx context.Context, id string) (imagegen.State, error)
	Delete(ctx context.Context, id string) error
}

// Downloader fetches a produced image.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Options configures a Manager. Only Transport is required.
type Options struct {
	Transport    imagegen.Transport
	Sink         imagegen.Sink
	Policy       *imagegen.RetryPolicy
	Sleeper      imagegen.Sleeper
	PollInterval time.Duration
	IdleTTL      time.Duration

	Cache      SnapshotCache
	Creations  domain.CreationRepository
	Store      storage.Store
	Downloader Downloader
	Logger     *infra.Logger
}

// Snapshot is the view of one session returned to API callers.
type Snapshot struct {
	ID         string
	Prompt     string
	Options    imagegen.GenerationOptions
	State      imagegen.State
	StorageKey string
	CreationID string
	// Local is false when the snapshot came from another replica via the cache.
	Local bool
}

type session struct {
	id   string
	ctrl *imagegen.Controller

	mu          sync.Mutex
	prompt      string
	options     imagegen.GenerationOptions
	storageKey  string
	creationID  string
	archivedURL string
	updatedAt   time.Time
}

// change is the latest unapplied state of one session. succeeded keeps the
// last succeeded state queued since the previous apply so archival sees it
// even when a newer state replaced it.
type change struct {
	sess      *session
	state     imagegen.State
	drop      bool
	succeeded *imagegen.State
}

// Manager owns one imagegen.Controller per generation session.
type Manager struct {
	opts   Options
	logger *infra.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	pendMu  sync.Mutex
	pending map[string]change
	order   []string
	wake    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager validates opts and starts the background writer.
func NewManager(opts Options) (*Manager, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	m := &Manager{
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
		pending:  make(map[string]change),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.loop()
	return m, nil
}

// Start opens a session and begins generating. The returned snapshot is the
// pending state; progress is observed through Get.
func (m *Manager) Start(ctx context.Context, prompt string, opts imagegen.GenerationOptions) (Snapshot, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Snapshot{}, domain.ErrInvalidPrompt
	}
	if opts.Size == "" {
		opts.Size = imagegen.DefaultSize
	}
	sess := &session{
		id:        uuid.NewString(),
		prompt:    prompt,
		options:   opts,
		updatedAt: m.now(),
	}
	ctrl, err := imagegen.NewController(imagegen.Options{
		Transport:    m.opts.Transport,
		Sink:         m.opts.Sink,
		Policy:       m.opts.Policy,
		Sleeper:      m.opts.Sleeper,
		PollInterval: m.opts.PollInterval,
		Logger:       m.logger,
		OnChange: func(state imagegen.State) {
			m.send(change{sess: sess, state: state})
		},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: new controller: %w", err)
	}
	sess.ctrl = ctrl

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	state := ctrl.Start(ctx, prompt, &opts)
	m.logger.Info().Str("session_id", sess.id).Str("size", string(opts.Size)).Msg("session: generation started")
	return sess.snapshot(state), nil
}

// Get returns the current snapshot of id. Local sessions win over cached ones.
func (m *Manager) Get(ctx context.Context, id string) (Snapshot, error) {
	if sess, ok := m.lookup(id); ok {
		return sess.snapshot(sess.ctrl.Snapshot()), nil
	}
	if m.opts.Cache == nil {
		return Snapshot{}, ErrNotFound
	}
	state, err := m.opts.Cache.Get(ctx, id)
	if errors.Is(err, cache.ErrMiss) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: read cache: %w", err)
	}
	return Snapshot{ID: id, State: state}, nil
}

// Retry re-runs the last prompt of a settled session.
func (m *Manager) Retry(ctx context.Context, id string) (Snapshot, error) {
	sess, ok := m.lookup(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	switch sess.ctrl.Snapshot().Status {
	case imagegen.StatusPending, imagegen.StatusProcessing:
		return Snapshot{}, ErrBusy
	}
	sess.mu.Lock()
	prompt, opts := sess.prompt, sess.options
	sess.mu.Unlock()

	state := sess.ctrl.Start(ctx, prompt, &opts)
	m.logger.Info().Str("session_id", id).Msg("session: manual retry")
	return sess.snapshot(state), nil
}

// Delete stops a session and forgets it, including its cached snapshot.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		sess.ctrl.Cleanup()
		m.send(change{sess: sess, drop: true})
		return nil
	}
	if m.opts.Cache == nil {
		return ErrNotFound
	}
	if _, err := m.opts.Cache.Get(ctx, id); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return ErrNotFound
		}
		return fmt.Errorf("session: read cache: %w", err)
	}
	if err := m.opts.Cache.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: delete cache: %w", err)
	}
	return nil
}

// Len reports the number of in-memory sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops settled sessions idle since before now minus IdleTTL. Cached
// snapshots are left to expire on their own.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.opts.IdleTTL)
	var stale []*session

	m.mu.Lock()
	for id, sess := range m.sessions {
		status := sess.ctrl.Snapshot().Status
		if status == imagegen.StatusPending || status == imagegen.StatusProcessing {
			continue
		}
		sess.mu.Lock()
		idle := sess.updatedAt.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			stale = append(stale, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range stale {
		sess.ctrl.Cleanup()
	}
	if len(stale) > 0 {
		m.logger.Debug().Int("count", len(stale)).Msg("session: swept idle sessions")
	}
	return len(stale)
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	gap := m.opts.IdleTTL / 4
	if gap <= 0 || gap > defaultSweepGap {
		gap = defaultSweepGap
	}
	ticker := time.NewTicker(gap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Close cancels every session and waits for the writer and archival work to
// finish. Queued snapshot writes that were not applied yet are dropped.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		sessions := make([]*session, 0, len(m.sessions))
		for id, sess := range m.sessions {
			sessions = append(sessions, sess)
			delete(m.sessions, id)
		}
		m.mu.Unlock()

		for _, sess := range sessions {
			sess.ctrl.Cleanup()
		}
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) lookup(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

func (m *Manager) registered(sess *session) bool {
	current, ok := m.lookup(sess.id)
	return ok && current == sess
}

// send queues c for the writer and never blocks. Queued states of the same
// session coalesce to the newest one.
func (m *Manager) send(c change) {
	m.pendMu.Lock()
	prev, queued := m.pending[c.sess.id]
	if !queued {
		m.order = append(m.order, c.sess.id)
	} else if !c.drop && prev.sess == c.sess {
		c.succeeded = prev.succeeded
	}
	if !c.drop && c.state.Status == imagegen.StatusSucceeded && c.state.ImageURL != "" {
		state := c.state
		c.succeeded = &state
	}
	m.pending[c.sess.id] = c
	m.pendMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) takePending() []change {
	m.pendMu.Lock()
	defer m.pendMu.Unlock()
	if len(m.order) == 0 {
		return nil
	}
	batch := make([]change, 0, len(m.order))
	for _, id := range m.order {
		batch = append(batch, m.pending[id])
	}
	m.order = nil
	clear(m.pending)
	return batch
}

// loop applies queued changes, oldest session first.
func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.wake:
			for _, c := range m.takePending() {
				if m.isClosed() {
					return
				}
				m.apply(c)
			}
		case <-m.done:
			return
		}
	}
}

func (m *Manager) apply(c change) {
	if c.drop {
		m.deleteCached(c.sess.id)
		return
	}
	if !m.registered(c.sess) {
		return
	}
	c.sess.mu.Lock()
	c.sess.updatedAt = m.now()
	c.sess.mu.Unlock()

	m.putCached(c.sess.id, c.state)
	if c.succeeded == nil || !c.sess.markArchived(c.succeeded.ImageURL) {
		return
	}
	state := *c.succeeded
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.archive(c.sess, state)
	}()
}

func (m *Manager) putCached(id string, state imagegen.State) {
	if m.opts.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := m.opts.Cache.Put(ctx, id, state); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("session: cache snapshot failed")
	}
}

func (m *Manager) deleteCached(id string) {
	if m.opts.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := m.opts.Cache.Delete(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("session: drop cached snapshot failed")
	}
}

// archive mirrors the produced image into the store and records the
// creation. Failures are logged; the session keeps the remote URL.
func (m *Manager) archive(sess *session, state imagegen.State) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	storageKey := ""
	if m.opts.Store != nil && m.opts.Downloader != nil {
		key, err := m.mirror(ctx, sess.id, state.ImageURL)
		if err != nil {
			m.logger.Warn().Err(err).Str("session_id", sess.id).Msg("session: mirror image failed")
		} else {
			storageKey = key
		}
	}

	sess.mu.Lock()
	sess.storageKey = storageKey
	prompt, opts := sess.prompt, sess.options
	sess.mu.Unlock()

	if m.opts.Creations == nil {
		return
	}
	creation := &domain.Creation{
		SessionID:    sess.id,
		Prompt:       prompt,
		Size:         string(opts.Size),
		PromptExtend: opts.PromptExtend,
		Watermark:    opts.Watermark,
		TaskID:       state.TaskID,
		ImageURL:     state.ImageURL,
		StorageKey:   storageKey,
	}
	if err := m.opts.Creations.Create(ctx, creation); err != nil {
		m.logger.Error().Err(err).Str("session_id", sess.id).Msg("session: record creation failed")
		return
	}
	sess.mu.Lock()
	sess.creationID = creation.ID
	sess.mu.Unlock()
	m.logger.Info().Str("session_id", sess.id).Str("creation_id", creation.ID).Msg("session: creation recorded")
}

func (m *Manager) mirror(ctx context.Context, id, imageURL string) (string, error) {
	data, contentType, err := m.opts.Downloader.Download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	key, err := storage.ImageKey(id, contentType)
	if err != nil {
		return "", err
	}
	return m.opts.Store.Put(ctx, key, data, contentType)
}

func (s *session) snapshot(state imagegen.State) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Prompt:     s.prompt,
		Options:    s.options,
		State:      state,
		StorageKey: s.storageKey,
		CreationID: s.creationID,
		Local:      true,
	}
}

// markArchived reports whether url has not been archived yet and records it.
func (s *session) markArchived(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.archivedURL == url {
		return false
	}
	s.archivedURL = url
	s.storageKey = ""
	s.creationID = ""
	return true
}
