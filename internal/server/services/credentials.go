// Package services contains server-side business logic. This file implements
// CredentialService, which enrolls users, authenticates them and rotates or
// resets their credentials.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/envelope"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/passwordx"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/repomanager"
)

// AuthResult is returned by a successful Authenticate. The caller owns DEK
// and should wipe it when done.
type AuthResult struct {
	UserID string
	DEK    []byte
	// DEKReplaced is true on the first login after a reset: data the
	// caller held under the previous DEK can no longer be decrypted.
	DEKReplaced bool
}

// ResetResult describes the consequences of ResetPassword.
type ResetResult struct {
	InvalidatesDependentCiphertext bool
	DEKGeneration                  int64
}

// CredentialService drives the credential lifecycle:
// - Enroll: create an active record with a fresh DEK
// - Authenticate: verify the password and unwrap the DEK
// - ChangePassword: re-wrap the same DEK under a new password
// - ResetPassword: replace the DEK when the old password is unknown
type CredentialService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	envelope    *envelope.Envelope
	hasher      *passwordx.Hasher
	logger      logging.Logger

	// user ids with a rotation or reset being computed in this process
	inProgress sync.Map

	dummyMu   sync.Mutex
	dummyHash string
}

// NewCredentialService wires a CredentialService. hasher must be the one the
// envelope hashes with.
func NewCredentialService(db *sql.DB, m repomanager.RepositoryManager, env *envelope.Envelope,
	hasher *passwordx.Hasher, logger logging.Logger) *CredentialService {
	return &CredentialService{
		db:          db,
		repomanager: m,
		envelope:    env,
		hasher:      hasher,
		logger:      logger.With("module", "credentials"),
	}
}

// Enroll creates credentials for a new user.
func (s *CredentialService) Enroll(ctx context.Context, username string, password []byte) (*models.CredentialRecord, error) {
	if username == "" || len(password) == 0 {
		return nil, common.ErrorInvalidArgument
	}

	creds, err := s.envelope.CreateCredentials(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("error creating credentials: %w", err)
	}

	rec := &models.CredentialRecord{
		Username:      username,
		PasswordHash:  creds.PasswordHash,
		PersonalSalt:  creds.PersonalSalt,
		WrappedDEK:    creds.WrappedDEK,
		State:         models.StateActive,
		DEKGeneration: 1,
	}
	out, err := s.repomanager.Credentials(s.db).Create(ctx, rec)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error storing credentials: %w", err)
	}

	s.logger.Info(ctx, "credentials enrolled", "user_id", out.ID, "dek_generation", out.DEKGeneration)
	return out, nil
}

// Authenticate checks password and returns the user's DEK. Unknown users,
// wrong passwords and undecryptable DEKs all yield ErrorUnauthorized.
//
// A record in the reset state moves back to active here, and the result
// reports DEKReplaced once.
func (s *CredentialService) Authenticate(ctx context.Context, username string, password []byte) (*AuthResult, error) {
	repo := s.repomanager.Credentials(s.db)

	rec, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// spend the same work as a real verification
			s.hasher.Verify(ctx, password, s.getDummyHash(ctx))
			return nil, common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "credential lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	if !s.hasher.Verify(ctx, password, rec.PasswordHash) {
		s.logger.Warn(ctx, "authentication failed", "user_id", rec.ID, "reason", "password")
		return nil, common.ErrorUnauthorized
	}

	dek, err := s.envelope.UnwrapDEK(ctx, password, rec.PersonalSalt, rec.WrappedDEK)
	if err != nil {
		if errors.Is(err, common.ErrAuthenticationFailed) {
			s.logger.Warn(ctx, "authentication failed", "user_id", rec.ID, "reason", "wrapped dek")
			return nil, common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "unwrap dek failed", "user_id", rec.ID, "error", err)
		return nil, common.ErrorInternal
	}

	if s.hasher.NeedsRehash(rec.PasswordHash) {
		s.logger.Info(ctx, "password hash uses outdated parameters", "user_id", rec.ID)
	}

	res := &AuthResult{UserID: rec.ID, DEK: dek}
	if rec.State != models.StateReset {
		return res, nil
	}

	_, err = repo.Update(ctx, rec.ID, rec.Version, models.CredentialUpdate{
		State: models.SetTo(models.StateActive),
	})
	switch {
	case err == nil:
		res.DEKReplaced = true
		s.logger.Info(ctx, "credential state changed", "user_id", rec.ID,
			"from", models.StateReset, "to", models.StateActive, "dek_generation", rec.DEKGeneration)
	case errors.Is(err, common.ErrVersionConflict):
		// a concurrent login already completed the transition
	default:
		common.WipeByteArray(dek)
		s.logger.Error(ctx, "credential state update failed", "user_id", rec.ID, "error", err)
		return nil, common.ErrorInternal
	}
	return res, nil
}

// ChangePassword re-wraps the user's DEK under newPassword. The record must
// be active. Nothing is written unless every step succeeds, and the write
// fails with ErrVersionConflict if the record changed meanwhile.
func (s *CredentialService) ChangePassword(ctx context.Context, userID string, oldPassword, newPassword []byte) error {
	if len(newPassword) == 0 {
		return common.ErrorInvalidArgument
	}
	release, err := s.begin(userID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if !rec.State.CanTransition(models.StateRotationInProgress) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidStateTransition, rec.State, models.StateRotationInProgress)
	}
	if !s.hasher.Verify(ctx, oldPassword, rec.PasswordHash) {
		return common.ErrorUnauthorized
	}

	creds, err := s.envelope.RotatePassword(ctx, oldPassword, newPassword, rec.PersonalSalt, rec.WrappedDEK)
	if err != nil {
		if errors.Is(err, common.ErrAuthenticationFailed) {
			return common.ErrorUnauthorized
		}
		return fmt.Errorf("error rotating credentials: %w", err)
	}

	if err := s.write(ctx, rec, models.CredentialUpdate{
		PasswordHash: models.SetTo(creds.PasswordHash),
		PersonalSalt: models.SetTo(creds.PersonalSalt),
		WrappedDEK:   models.SetTo(creds.WrappedDEK),
	}); err != nil {
		return err
	}

	s.logger.Info(ctx, "password changed", "user_id", rec.ID, "state", models.StateActive)
	return nil
}

// ResetPassword sets newPassword without knowing the old one. The DEK is
// replaced, so anything encrypted under the previous one is lost; the
// result says so explicitly.
func (s *CredentialService) ResetPassword(ctx context.Context, userID string, newPassword []byte) (*ResetResult, error) {
	if len(newPassword) == 0 {
		return nil, common.ErrorInvalidArgument
	}
	release, err := s.begin(userID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.State.CanTransition(models.StateReset) {
		return nil, fmt.Errorf("%w: %s -> %s", common.ErrInvalidStateTransition, rec.State, models.StateReset)
	}

	creds, err := s.envelope.ResetPassword(ctx, newPassword)
	if err != nil {
		return nil, fmt.Errorf("error issuing credentials: %w", err)
	}

	generation := rec.DEKGeneration + 1
	if err := s.write(ctx, rec, models.CredentialUpdate{
		PasswordHash:  models.SetTo(creds.PasswordHash),
		PersonalSalt:  models.SetTo(creds.PersonalSalt),
		WrappedDEK:    models.SetTo(creds.WrappedDEK),
		State:         models.SetTo(models.StateReset),
		DEKGeneration: models.SetTo(generation),
	}); err != nil {
		return nil, err
	}

	s.logger.Warn(ctx, "password reset, previous dek discarded", "user_id", rec.ID,
		"state", models.StateReset, "dek_generation", generation)
	return &ResetResult{InvalidatesDependentCiphertext: true, DEKGeneration: generation}, nil
}

// --- helpers below ---

// begin marks userID as rotating in this process. The returned func clears
// the mark.
func (s *CredentialService) begin(userID string) (func(), error) {
	if _, busy := s.inProgress.LoadOrStore(userID, struct{}{}); busy {
		return nil, common.ErrRotationInProgress
	}
	return func() { s.inProgress.Delete(userID) }, nil
}

func (s *CredentialService) load(ctx context.Context, userID string) (*models.CredentialRecord, error) {
	rec, err := s.repomanager.Credentials(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error loading credentials: %w", err)
	}
	return rec, nil
}

func (s *CredentialService) write(ctx context.Context, rec *models.CredentialRecord, u models.CredentialUpdate) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repomanager.Credentials(tx).Update(ctx, rec.ID, rec.Version, u)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("error updating credentials: %w", err)
	}
	return nil
}

// getDummyHash returns the hash unknown usernames are verified against. It
// is computed outside the request's cancellation and retried until it
// succeeds, so one aborted request cannot leave unknown users unhashed.
func (s *CredentialService) getDummyHash(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash == "" {
		h, err := s.hasher.Hash(context.WithoutCancel(ctx), common.GenerateRandByteArray(16))
		if err != nil {
			s.logger.Error(ctx, "dummy hash failed", "error", err)
			return ""
		}
		s.dummyHash = h
	}
	return s.dummyHash
}
