// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// Key prefixes. Session-first so per-session scans and purges are a single
// prefix iteration.
const (
	prefixPreference = "pref:"
	prefixPending    = "disamb:"
	prefixLinear     = "flowlin:"
	prefixMachine    = "flowsm:"
	prefixTranscript = "msg:"
	prefixBinding    = "flowcfg:"
)

// ErrPendingExists is returned by CreatePending when a context is already
// open for the (user, session) pair. At most one may exist.
var ErrPendingExists = errors.New("pending disambiguation already exists")

// Store implements the engine's persistence contracts on one BadgerDB.
type Store struct {
	db *DB
}

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func sessionKey(prefix, sessionID, userID string) []byte {
	return []byte(prefix + sessionID + ":" + userID)
}

// getJSON loads and decodes one key. Missing keys yield (false, nil).
func (s *Store) getJSON(ctx context.Context, key []byte, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteKey(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Get implements conversation.PreferenceStore. A missing record returns
// (nil, nil); the engine treats that as a fresh conversation.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (*datatypes.PreferenceRecord, error) {
	var rec datatypes.PreferenceRecord
	ok, err := s.getJSON(ctx, sessionKey(prefixPreference, sessionID, userID), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// Upsert implements conversation.PreferenceStore.
func (s *Store) Upsert(ctx context.Context, record *datatypes.PreferenceRecord) error {
	return s.putJSON(ctx, sessionKey(prefixPreference, record.SessionID, record.UserID), record)
}

// Delete implements conversation.PreferenceStore.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	return s.deleteKey(ctx, sessionKey(prefixPreference, sessionID, userID))
}

// GetPending implements conversation.DisambiguationStore.
func (s *Store) GetPending(ctx context.Context, userID, sessionID string) (*datatypes.DisambiguationContext, error) {
	var pending datatypes.DisambiguationContext
	ok, err := s.getJSON(ctx, sessionKey(prefixPending, sessionID, userID), &pending)
	if err != nil || !ok {
		return nil, err
	}
	return &pending, nil
}

// Create implements conversation.DisambiguationStore. It enforces the
// at-most-one invariant: creating over a live context fails with
// ErrPendingExists.
func (s *Store) Create(ctx context.Context, pending *datatypes.DisambiguationContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := sessionKey(prefixPending, pending.SessionID, pending.UserID)
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrPendingExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil && !errors.Is(err, ErrPendingExists) {
		return fmt.Errorf("create pending %s: %w", key, err)
	}
	return err
}

// Update implements conversation.DisambiguationStore.
func (s *Store) Update(ctx context.Context, pending *datatypes.DisambiguationContext) error {
	return s.putJSON(ctx, sessionKey(prefixPending, pending.SessionID, pending.UserID), pending)
}

func (s *Store) deletePending(ctx context.Context, userID, sessionID string) error {
	return s.deleteKey(ctx, sessionKey(prefixPending, sessionID, userID))
}

// PendingStore returns the store's disambiguation view. The conversation
// contracts both name their remover Delete, so the pending view is a
// separate value.
func (s *Store) PendingStore() *PendingStore {
	return &PendingStore{s: s}
}

// PendingStore adapts Store to conversation.DisambiguationStore.
type PendingStore struct {
	s *Store
}

func (p *PendingStore) GetPending(ctx context.Context, userID, sessionID string) (*datatypes.DisambiguationContext, error) {
	return p.s.GetPending(ctx, userID, sessionID)
}

func (p *PendingStore) Create(ctx context.Context, pending *datatypes.DisambiguationContext) error {
	return p.s.Create(ctx, pending)
}

func (p *PendingStore) Update(ctx context.Context, pending *datatypes.DisambiguationContext) error {
	return p.s.Update(ctx, pending)
}

func (p *PendingStore) Delete(ctx context.Context, userID, sessionID string) error {
	return p.s.deletePending(ctx, userID, sessionID)
}

// FlowStateStore returns the store's flow-cursor view.
func (s *Store) FlowStateStore() *FlowStateStore {
	return &FlowStateStore{s: s}
}

// FlowStateStore adapts Store to conversation.FlowStateStore.
type FlowStateStore struct {
	s *Store
}

func (f *FlowStateStore) GetLinear(ctx context.Context, userID, sessionID string) (*datatypes.LinearFlowState, error) {
	var state datatypes.LinearFlowState
	ok, err := f.s.getJSON(ctx, sessionKey(prefixLinear, sessionID, userID), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

func (f *FlowStateStore) SaveLinear(ctx context.Context, userID, sessionID string, state *datatypes.LinearFlowState) error {
	return f.s.putJSON(ctx, sessionKey(prefixLinear, sessionID, userID), state)
}

func (f *FlowStateStore) GetMachine(ctx context.Context, userID, sessionID string) (*datatypes.StateMachineContext, error) {
	var state datatypes.StateMachineContext
	ok, err := f.s.getJSON(ctx, sessionKey(prefixMachine, sessionID, userID), &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

func (f *FlowStateStore) SaveMachine(ctx context.Context, userID, sessionID string, state *datatypes.StateMachineContext) error {
	return f.s.putJSON(ctx, sessionKey(prefixMachine, sessionID, userID), state)
}

func (f *FlowStateStore) Delete(ctx context.Context, userID, sessionID string) error {
	if err := f.s.deleteKey(ctx, sessionKey(prefixLinear, sessionID, userID)); err != nil {
		return err
	}
	return f.s.deleteKey(ctx, sessionKey(prefixMachine, sessionID, userID))
}

// Record implements conversation.TranscriptLog. Keys are time-ordered per
// session so the transcript reads back in conversation order.
func (s *Store) Record(ctx context.Context, entry *datatypes.TranscriptEntry) error {
	key := fmt.Sprintf("%s%s:%s:%s", prefixTranscript, entry.SessionID,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano), entry.ID)
	return s.putJSON(ctx, []byte(key), entry)
}

// Transcript returns every recorded message for a session, oldest first.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]datatypes.TranscriptEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(prefixTranscript + sessionID + ":")
	var entries []datatypes.TranscriptEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var entry datatypes.TranscriptEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan transcript %s: %w", sessionID, err)
	}
	return entries, nil
}

// SessionSummary is one row of the session listing. Collecting reports
// whether the conversation is still gathering initial preferences.
type SessionSummary struct {
	SessionID  string                     `json:"sessionId"`
	UserID     string                     `json:"userId"`
	Step       datatypes.ConversationStep `json:"step"`
	Collecting bool                       `json:"collecting"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
}

// ListSessions scans every preference record and returns one summary per
// (user, session) pair.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(prefixPreference)
	var out []SessionSummary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec datatypes.PreferenceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, SessionSummary{
				SessionID:  rec.SessionID,
				UserID:     rec.UserID,
				Step:       rec.Step,
				Collecting: conversation.AwaitingCollection(rec.Step),
				UpdatedAt:  rec.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

// PurgeSession deletes every key belonging to a session: preference
// records, pending disambiguations, flow cursors, transcript, binding.
func (s *Store) PurgeSession(ctx context.Context, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefixes := []string{
		prefixPreference + sessionID + ":",
		prefixPending + sessionID + ":",
		prefixLinear + sessionID + ":",
		prefixMachine + sessionID + ":",
		prefixTranscript + sessionID + ":",
		prefixBinding + sessionID,
	}
	deleted := 0
	for _, p := range prefixes {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(p)
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.ValidForPrefix([]byte(p)); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("scan purge %s: %w", p, err)
		}
		for _, key := range keys {
			if err := s.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(key)
			}); err != nil {
				return deleted, fmt.Errorf("purge %s: %w", key, err)
			}
			deleted++
		}
	}
	return deleted, nil
}

// PutFlowBinding binds a session to a flow template by name.
func (s *Store) PutFlowBinding(ctx context.Context, cfg *datatypes.SessionFlowConfig) error {
	return s.putJSON(ctx, []byte(prefixBinding+cfg.SessionID), cfg)
}

// GetFlowBinding returns the session's flow binding, or nil when the
// session runs the legacy flow.
func (s *Store) GetFlowBinding(ctx context.Context, sessionID string) (*datatypes.SessionFlowConfig, error) {
	var cfg datatypes.SessionFlowConfig
	ok, err := s.getJSON(ctx, []byte(prefixBinding+sessionID), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}
