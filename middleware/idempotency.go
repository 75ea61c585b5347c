package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"emporium/apperr"
	"emporium/db"
	"emporium/models"
	"emporium/utils"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrKeyExists is returned by IdempotencyStore.Reserve when the key is taken.
var ErrKeyExists = errors.New("idempotency key exists")

type IdempotencyStore interface {
	// Reserve inserts rec. When the key is already present it returns the
	// stored record together with ErrKeyExists.
	Reserve(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, status int, body []byte) error
	Release(ctx context.Context, key string) error
}

// MongoIdempotencyStore keeps records in the idempotency collection, which
// carries a unique index on key and a TTL index on expires_at.
type MongoIdempotencyStore struct {
	coll *mongo.Collection
}

func NewMongoIdempotencyStore(store *db.Store) *MongoIdempotencyStore {
	return &MongoIdempotencyStore{coll: store.IdempotencyCollection}
}

func (s *MongoIdempotencyStore) Reserve(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	_, err := s.coll.InsertOne(ctx, rec)
	if err == nil {
		return nil, nil
	}
	if !db.IsDuplicateKey(err) {
		return nil, err
	}
	var existing models.IdempotencyRecord
	if err := s.coll.FindOne(ctx, bson.M{"key": rec.Key}).Decode(&existing); err != nil {
		return nil, err
	}
	return &existing, ErrKeyExists
}

func (s *MongoIdempotencyStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"status": status, "body": body}},
	)
	return err
}

func (s *MongoIdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"key": key})
	return err
}

func computeRequestHash(r *http.Request, body []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func retryable(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// captureWriter passes the response through while keeping a copy.
type captureWriter struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	wroteHeader bool
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
		c.ResponseWriter.WriteHeader(status)
	}
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

// Idempotency replays the stored response when a client repeats a request
// with the same Idempotency-Key. Requests without the header pass through.
//
//   - first use: the handler runs and its response is stored, unless it is a
//     5xx or a 429, which the client is expected to retry
//   - same key, different body or caller: 409
//   - same key while the first request is still running: 409
//   - same key after completion: the stored status and body are written back
func Idempotency(store IdempotencyStore, ttl time.Duration) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next(w, r, ps)
				return
			}

			userID := utils.GetUserIDFromRequest(r)
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				utils.RespondWithError(w, apperr.Validation("Failed to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			now := time.Now()
			rec := models.IdempotencyRecord{
				Key:         userID + ":" + key,
				Method:      r.Method,
				Path:        r.URL.Path,
				UserID:      userID,
				RequestHash: computeRequestHash(r, body, userID),
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}

			ctx := r.Context()
			existing, err := store.Reserve(ctx, rec)
			switch {
			case err == nil:
			case errors.Is(err, ErrKeyExists):
				if existing.RequestHash != rec.RequestHash {
					utils.RespondWithError(w, apperr.Conflict("Idempotency-Key reused with a different request"))
					return
				}
				if existing.Status == 0 {
					utils.RespondWithError(w, apperr.Conflict("A request with this Idempotency-Key is in progress"))
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.Status)
				_, _ = w.Write(existing.Body)
				return
			default:
				utils.RespondWithError(w, apperr.Internal("Idempotency lookup failed", err))
				return
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next(cw, r, ps)

			// Use a fresh context so a client disconnect does not lose the record.
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if retryable(cw.status) {
				if err := store.Release(saveCtx, rec.Key); err != nil {
					log.Printf("idempotency: release %s: %v", rec.Key, err)
				}
				return
			}
			if err := store.Complete(saveCtx, rec.Key, cw.status, cw.buf.Bytes()); err != nil {
				log.Printf("idempotency: store response %s: %v", rec.Key, err)
			}
		}
	}
}
