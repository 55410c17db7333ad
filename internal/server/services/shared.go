package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/keys"
	"github.com/dmitrijs2005/vaultcore/internal/legacy"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/repomanager"
)

// MFAPurpose is the SharedCodec purpose of TOTP seeds.
const MFAPurpose = "mfa"

// SharedCodec returns the codec for system-key values of one purpose: a
// SecretKind, or "mfa" for TOTP seeds. Values sealed for one purpose do not
// open as another.
func SharedCodec(purpose string) legacy.Codec {
	return legacy.NewCodec("vaultcore/shared/" + purpose)
}

// MigrationReport summarizes a MigrateLegacy sweep.
type MigrationReport struct {
	Scanned          int
	Migrated         int
	AlreadyEnveloped int
	// Conflicts counts rows changed by another writer during the sweep.
	// They are left for the next run.
	Conflicts int
}

// SharedSecretService protects values every user may need under the system
// key: machine credentials and MFA seeds. Values written before encryption
// was introduced are still readable and are upgraded by MigrateLegacy.
type SharedSecretService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	keys        *keys.Manager
	logger      logging.Logger
}

func NewSharedSecretService(db *sql.DB, m repomanager.RepositoryManager, km *keys.Manager, logger logging.Logger) *SharedSecretService {
	return &SharedSecretService{
		db:          db,
		repomanager: m,
		keys:        km,
		logger:      logger.With("module", "shared_secrets"),
	}
}

// StoreMachineCredential encrypts value and stores it under name, replacing
// any previous value.
func (s *SharedSecretService) StoreMachineCredential(ctx context.Context, name string, kind models.SecretKind, value string) (*models.SharedSecret, error) {
	if name == "" || !kind.Valid() {
		return nil, common.ErrorInvalidArgument
	}
	key, err := s.keys.SystemKey(ctx)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	sealed, err := SharedCodec(string(kind)).Seal(value, key)
	if err != nil {
		return nil, fmt.Errorf("error sealing secret: %w", err)
	}

	out, err := s.repomanager.Secrets(s.db).Upsert(ctx, &models.SharedSecret{Name: name, Kind: kind, Value: sealed})
	if err != nil {
		return nil, fmt.Errorf("error storing secret: %w", err)
	}
	s.logger.Info(ctx, "machine credential stored", "name", name, "kind", kind)
	return out, nil
}

// RevealMachineCredential returns the plaintext of the named secret. Legacy
// plaintext rows are returned as stored; an envelope that fails to open is
// an error.
func (s *SharedSecretService) RevealMachineCredential(ctx context.Context, name string) (string, error) {
	sec, err := s.repomanager.Secrets(s.db).GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	key, err := s.keys.SystemKey(ctx)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)

	plain, err := SharedCodec(string(sec.Kind)).DecryptOrPassthrough(sec.Value, key)
	if err != nil {
		s.logger.Error(ctx, "machine credential failed to decrypt", "name", name, "error", err)
		return "", err
	}
	return plain, nil
}

func (s *SharedSecretService) DeleteMachineCredential(ctx context.Context, name string) error {
	if err := s.repomanager.Secrets(s.db).Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info(ctx, "machine credential deleted", "name", name)
	return nil
}

// SetMFASecret encrypts seed and attaches it to the user's record.
func (s *SharedSecretService) SetMFASecret(ctx context.Context, userID, seed string) error {
	if seed == "" {
		return common.ErrorInvalidArgument
	}
	rec, err := s.repomanager.Credentials(s.db).GetByID(ctx, userID)
	if err != nil {
		return err
	}
	key, err := s.keys.SystemKey(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	sealed, err := SharedCodec(MFAPurpose).Seal(seed, key)
	if err != nil {
		return fmt.Errorf("error sealing mfa secret: %w", err)
	}
	if err := s.updateCredential(ctx, rec, models.CredentialUpdate{MFASecret: models.SetTo(sealed)}); err != nil {
		return err
	}
	s.logger.Info(ctx, "mfa enabled", "user_id", userID)
	return nil
}

// MFASecret returns the user's TOTP seed, and false if MFA is not enabled.
func (s *SharedSecretService) MFASecret(ctx context.Context, userID string) (string, bool, error) {
	rec, err := s.repomanager.Credentials(s.db).GetByID(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if rec.MFASecret == nil {
		return "", false, nil
	}
	key, err := s.keys.SystemKey(ctx)
	if err != nil {
		return "", false, err
	}
	defer common.WipeByteArray(key)

	seed, err := SharedCodec(MFAPurpose).DecryptOrPassthrough(*rec.MFASecret, key)
	if err != nil {
		s.logger.Error(ctx, "mfa secret failed to decrypt", "user_id", userID, "error", err)
		return "", false, err
	}
	return seed, true, nil
}

// DisableMFA removes the user's seed.
func (s *SharedSecretService) DisableMFA(ctx context.Context, userID string) error {
	rec, err := s.repomanager.Credentials(s.db).GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if rec.MFASecret == nil {
		return nil
	}
	if err := s.updateCredential(ctx, rec, models.CredentialUpdate{MFASecret: models.Cleared[string]()}); err != nil {
		return err
	}
	s.logger.Info(ctx, "mfa disabled", "user_id", userID)
	return nil
}

// MigrateLegacy encrypts every legacy plaintext machine credential and MFA
// seed in place. Each row is rewritten in its own transaction and only if
// it is unchanged since it was read. Running it again is a no-op.
func (s *SharedSecretService) MigrateLegacy(ctx context.Context) (*MigrationReport, error) {
	key, err := s.keys.SystemKey(ctx)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	report := &MigrationReport{}

	secrets, err := s.repomanager.Secrets(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing secrets: %w", err)
	}
	for _, sec := range secrets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		out, migrated, err := SharedCodec(string(sec.Kind)).MigrateToEnvelope(sec.Value, key)
		if err != nil {
			return report, err
		}
		if !migrated {
			report.AlreadyEnveloped++
			continue
		}

		var changed bool
		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			changed, err = s.repomanager.Secrets(tx).UpdateValue(ctx, sec.ID, sec.Value, out)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("error migrating secret %q: %w", sec.Name, err)
		}
		if changed {
			report.Migrated++
		} else {
			report.Conflicts++
		}
	}

	records, err := s.repomanager.Credentials(s.db).ListMFASecrets(ctx)
	if err != nil {
		return report, fmt.Errorf("error listing mfa secrets: %w", err)
	}
	codec := SharedCodec(MFAPurpose)
	for i := range records {
		rec := &records[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if rec.MFASecret == nil {
			continue
		}
		report.Scanned++

		out, migrated, err := codec.MigrateToEnvelope(*rec.MFASecret, key)
		if err != nil {
			return report, err
		}
		if !migrated {
			report.AlreadyEnveloped++
			continue
		}

		err = s.updateCredential(ctx, rec, models.CredentialUpdate{MFASecret: models.SetTo(out)})
		switch {
		case err == nil:
			report.Migrated++
		case errors.Is(err, common.ErrVersionConflict):
			report.Conflicts++
		default:
			return report, fmt.Errorf("error migrating mfa secret of %s: %w", rec.ID, err)
		}
	}

	s.logger.Info(ctx, "legacy migration finished",
		"scanned", report.Scanned, "migrated", report.Migrated,
		"already_enveloped", report.AlreadyEnveloped, "conflicts", report.Conflicts)
	return report, nil
}

func (s *SharedSecretService) updateCredential(ctx context.Context, rec *models.CredentialRecord, u models.CredentialUpdate) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repomanager.Credentials(tx).Update(ctx, rec.ID, rec.Version, u)
		return err
	})
}
