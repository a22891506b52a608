// Package store persists document records, image artifacts and live
// processing status in redis. Scalar fields live in hashes, nested
// structures ride along as JSON strings, and everything expires after a
// week so the store never needs manual cleanup.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/docpipeline/internal/document"
)

// keepTTL bounds how long processed documents stay in redis.
const keepTTL = 7 * 24 * time.Hour

// Connect dials redis and verifies the connection.
func Connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// DocumentStore persists document records.
type DocumentStore struct {
	client *redis.Client
}

func NewDocumentStore(client *redis.Client) *DocumentStore {
	return &DocumentStore{client: client}
}

func (s *DocumentStore) docKey(id string) string { return fmt.Sprintf("doc:%s", id) }

// Save writes the full record.
func (s *DocumentStore) Save(ctx context.Context, rec *document.Record) error {
	m, err := recordToMap(rec)
	if err != nil {
		return err
	}
	key := s.docKey(rec.ID)
	if err := s.client.HSet(ctx, key, m).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, keepTTL).Err()
}

// Get loads a record by id. The second return is false when the record
// does not exist.
func (s *DocumentStore) Get(ctx context.Context, id string) (*document.Record, bool, error) {
	res, err := s.client.HGetAll(ctx, s.docKey(id)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(res) == 0 {
		return nil, false, nil
	}
	rec, err := recordFromMap(id, res)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// SetState advances the stored state. Illegal transitions are rejected
// so a crashed retry cannot walk a document backwards.
func (s *DocumentStore) SetState(ctx context.Context, id string, st document.State) error {
	cur, err := s.client.HGet(ctx, s.docKey(id), "state").Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if err == nil && !document.State(cur).CanAdvance(st) {
		return fmt.Errorf("illegal state transition %s -> %s for document %s", cur, st, id)
	}
	return s.client.HSet(ctx, s.docKey(id), map[string]interface{}{
		"state":      string(st),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
}

// MarkFailed moves the document to the failed state with its fault kind
// and message.
func (s *DocumentStore) MarkFailed(ctx context.Context, id, kind, msg string) error {
	return s.client.HSet(ctx, s.docKey(id), map[string]interface{}{
		"state":        string(document.StateFailed),
		"failure_kind": kind,
		"failure_msg":  msg,
		"updated_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
}

func recordToMap(rec *document.Record) (map[string]interface{}, error) {
	pages, err := json.Marshal(rec.Pages)
	if err != nil {
		return nil, err
	}
	counts, err := json.Marshal(rec.Counts)
	if err != nil {
		return nil, err
	}
	prov, err := json.Marshal(rec.Provenance)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"filename":      rec.Filename,
		"size_bytes":    rec.SizeBytes,
		"declared_mime": rec.DeclaredMIME,
		"input_class":   string(rec.InputClass),
		"markdown":      rec.Markdown,
		"pages":         string(pages),
		"counts":        string(counts),
		"provenance":    string(prov),
		"state":         string(rec.State),
		"failure_kind":  rec.FailureKind,
		"failure_msg":   rec.FailureMsg,
		"created_at":    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func recordFromMap(id string, m map[string]string) (*document.Record, error) {
	rec := &document.Record{
		ID:           id,
		Filename:     m["filename"],
		DeclaredMIME: m["declared_mime"],
		InputClass:   document.InputClass(m["input_class"]),
		Markdown:     m["markdown"],
		State:        document.State(m["state"]),
		FailureKind:  m["failure_kind"],
		FailureMsg:   m["failure_msg"],
	}
	// ignore parse errors, default zero
	rec.SizeBytes, _ = strconv.ParseInt(m["size_bytes"], 10, 64)
	if v := m["pages"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Pages); err != nil {
			return nil, fmt.Errorf("document %s pages: %w", id, err)
		}
	}
	if v := m["counts"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Counts); err != nil {
			return nil, fmt.Errorf("document %s counts: %w", id, err)
		}
	}
	if v := m["provenance"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Provenance); err != nil {
			return nil, fmt.Errorf("document %s provenance: %w", id, err)
		}
	}
	if v := m["created_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.CreatedAt = t
		}
	}
	if v := m["updated_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, nil
}
