package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/credshield/internal/util"
	"github.com/jmcleod/credshield/storage"
)

const (
	// Bucket holds the session records.
	Bucket = "session"
	// KeyAccessToken and KeyUser are the fixed record names.
	KeyAccessToken = "access_token"
	KeyUser        = "user"

	recordVersion  = 1
	sealingKeyInfo = "credshield/v1/session-at-rest"
)

// storedUser is the "user" record. The session expiry rides along with it.
type storedUser struct {
	User
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// PersistentStore keeps the session in a storage.Repository so it survives
// process restarts. With a sealing secret, both records are encrypted at
// rest with AES-256-GCM under a key derived from that secret.
type PersistentStore struct {
	repo storage.Repository
	key    *memguard.Enclave // nil when records are stored in the clear
	now    func() time.Time
	logger *slog.Logger
}

var _ Store = (*PersistentStore)(nil)

// PersistentOption configures a PersistentStore.
type PersistentOption func(*PersistentStore) error

// WithSealingSecret encrypts records at rest. The record key is derived
// from secret with HKDF-SHA256 and kept in a memguard enclave.
func WithSealingSecret(secret []byte) PersistentOption {
	return func(s *PersistentStore) error {
		if len(secret) == 0 {
			return errors.New("sealing secret must not be empty")
		}
		key, err := util.HKDF(secret, nil, []byte(sealingKeyInfo))
		if err != nil {
			return fmt.Errorf("deriving session key: %w", err)
		}
		s.key = memguard.NewEnclave(key)
		return nil
	}
}

// WithStoreLogger sets the logger for records that fail to read or clear.
func WithStoreLogger(logger *slog.Logger) PersistentOption {
	return func(s *PersistentStore) error {
		s.logger = logger
		return nil
	}
}

// NewPersistentStore creates a session store backed by repo.
func NewPersistentStore(repo storage.Repository, opts ...PersistentOption) (*PersistentStore, error) {
	if repo == nil {
		return nil, errors.New("nil repository")
	}
	s := &PersistentStore{repo: repo, now: time.Now}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

func (s *PersistentStore) Save(sess Session) error {
	userData, err := json.Marshal(storedUser{User: sess.User, ExpiresAt: sess.ExpiresAt})
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	tokenRec, err := s.seal(KeyAccessToken, []byte(sess.Token))
	if err != nil {
		return err
	}
	userRec, err := s.seal(KeyUser, userData)
	if err != nil {
		return err
	}
	return s.repo.Batch(Bucket, func(tx storage.BatchTx) error {
		if err := tx.Put(KeyAccessToken, tokenRec); err != nil {
			return err
		}
		return tx.Put(KeyUser, userRec)
	})
}

func (s *PersistentStore) Clear() error {
	return s.repo.Batch(Bucket, deleteRecords)
}

// Current loads both records from one consistent snapshot. A half-present,
// unreadable or expired session is reported as absent and removed, unless
// a concurrent Save replaced it in the meantime.
func (s *PersistentStore) Current() (Session, bool) {
	for range maxReadAttempts {
		var tokenRec, userRec []byte
		err := s.repo.View(Bucket, func(tx storage.ReadTx) error {
			var err error
			if tokenRec, err = getRecord(tx, KeyAccessToken); err != nil {
				return err
			}
			userRec, err = getRecord(tx, KeyUser)
			return err
		})
		if err != nil {
			s.logger.Warn("reading session", "error", err)
			return Session{}, false
		}
		if tokenRec == nil && userRec == nil {
			return Session{}, false
		}

		sess, err := s.decode(tokenRec, userRec)
		if err == nil {
			return sess, true
		}
		s.logger.Debug("discarding stored session", "reason", err)
		err = s.discard(tokenRec, userRec)
		if errors.Is(err, errSessionReplaced) {
			continue
		}
		if err != nil {
			s.logger.Warn("clearing stored session", "error", err)
		}
		return Session{}, false
	}
	return Session{}, false
}

// maxReadAttempts bounds how often Current re-reads a session that was
// replaced while it was being discarded.
const maxReadAttempts = 3

var errSessionReplaced = errors.New("session replaced concurrently")

// getRecord returns nil, nil for a missing record.
func getRecord(tx storage.ReadTx, name string) ([]byte, error) {
	rec, err := tx.Get(name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (s *PersistentStore) decode(tokenRec, userRec []byte) (Session, error) {
	if tokenRec == nil || userRec == nil {
		return Session{}, errors.New("half-written session")
	}
	token, err := s.open(KeyAccessToken, tokenRec)
	if err != nil {
		return Session{}, fmt.Errorf("opening %s: %w", KeyAccessToken, err)
	}
	defer util.WipeBytes(token)
	userData, err := s.open(KeyUser, userRec)
	if err != nil {
		return Session{}, fmt.Errorf("opening %s: %w", KeyUser, err)
	}
	var su storedUser
	err = json.Unmarshal(userData, &su)
	util.WipeBytes(userData)
	if err != nil {
		return Session{}, fmt.Errorf("decoding %s: %w", KeyUser, err)
	}

	sess := Session{Token: string(token), User: su.User, ExpiresAt: su.ExpiresAt}
	if sess.Expired(s.now()) {
		return Session{}, errors.New("session expired")
	}
	return sess, nil
}

// discard deletes both records only if they still hold exactly what the
// caller read. Otherwise it returns errSessionReplaced and writes nothing.
func (s *PersistentStore) discard(tokenRec, userRec []byte) error {
	return s.repo.Batch(Bucket, func(tx storage.BatchTx) error {
		curToken, err := getRecord(tx, KeyAccessToken)
		if err != nil {
			return err
		}
		curUser, err := getRecord(tx, KeyUser)
		if err != nil {
			return err
		}
		if !bytes.Equal(curToken, tokenRec) || !bytes.Equal(curUser, userRec) {
			return errSessionReplaced
		}
		return deleteRecords(tx)
	})
}

func deleteRecords(tx storage.BatchTx) error {
	for _, k := range []string{KeyAccessToken, KeyUser} {
		if err := tx.Delete(k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *PersistentStore) seal(name string, data []byte) ([]byte, error) {
	if s.key == nil {
		return util.CopyBytes(data), nil
	}
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key: %w", err)
	}
	defer buf.Destroy()
	env, err := storage.SealRecord(nil, buf.Bytes(), data, storage.RecordAAD(Bucket, name, recordVersion))
	if err != nil {
		return nil, fmt.Errorf("sealing %s: %w", name, err)
	}
	return env.Marshal()
}

func (s *PersistentStore) open(name string, rec []byte) ([]byte, error) {
	if s.key == nil {
		return util.CopyBytes(rec), nil
	}
	env, err := storage.UnmarshalEnvelope(rec)
	if err != nil {
		return nil, err
	}
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key: %w", err)
	}
	defer buf.Destroy()
	return storage.OpenRecord(buf.Bytes(), env, storage.RecordAAD(Bucket, name, recordVersion))
}
