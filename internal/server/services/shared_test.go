package services

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/keys"
	"github.com/dmitrijs2005/vaultcore/internal/legacy"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sharedFixture struct {
	svc   *SharedSecretService
	creds *fakeCredentialsRepo
	secs  *fakeSecretsRepo
	mock  sqlmock.Sqlmock
}

func newSharedFixture(t *testing.T, pepper string) *sharedFixture {
	t.Helper()
	db, mock := newSQLMockDB(t)
	f := &sharedFixture{creds: newFakeCredentialsRepo(), secs: newFakeSecretsRepo(), mock: mock}
	km := keys.NewManager(keys.StaticPepper(pepper), logging.NewNopLogger(), keys.WithKDFParams(testKDF))
	f.svc = NewSharedSecretService(db, &fakeRepoManager{c: f.creds, s: f.secs}, km, logging.NewNopLogger())
	return f
}

func (f *sharedFixture) addUser(t *testing.T, mfa *string) string {
	t.Helper()
	rec, err := f.creds.Create(context.Background(), &models.CredentialRecord{
		Username: "alice", PasswordHash: "h", PersonalSalt: "s", WrappedDEK: "d",
		MFASecret: mfa, State: models.StateActive, DEKGeneration: 1,
	})
	require.NoError(t, err)
	return rec.ID
}

func TestMachineCredential_RoundTrip(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	ctx := context.Background()

	_, err := f.svc.StoreMachineCredential(ctx, "db-host", models.SecretSSHPassword, "s3cr3t-ssh-pass")
	require.NoError(t, err)

	stored, err := f.secs.GetByName(ctx, "db-host")
	require.NoError(t, err)
	assert.True(t, legacy.IsEnvelopeFormat(stored.Value))
	assert.NotContains(t, stored.Value, "s3cr3t-ssh-pass")

	got, err := f.svc.RevealMachineCredential(ctx, "db-host")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-ssh-pass", got)
}

func TestMachineCredential_InvalidArguments(t *testing.T) {
	f := newSharedFixture(t, "pepper")

	_, err := f.svc.StoreMachineCredential(context.Background(), "", models.SecretSSHKey, "v")
	assert.ErrorIs(t, err, common.ErrorInvalidArgument)
	_, err = f.svc.StoreMachineCredential(context.Background(), "x", models.SecretKind("gpg"), "v")
	assert.ErrorIs(t, err, common.ErrorInvalidArgument)
}

func TestMachineCredential_LegacyPassthrough(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	f.secs.put(models.SharedSecret{ID: "s-9", Name: "old", Kind: models.SecretAPIToken, Value: "plain-unencrypted-value"})

	got, err := f.svc.RevealMachineCredential(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "plain-unencrypted-value", got)
}

func TestMachineCredential_KindIsBound(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	ctx := context.Background()

	_, err := f.svc.StoreMachineCredential(ctx, "tok", models.SecretAPIToken, "value")
	require.NoError(t, err)

	s, _ := f.secs.GetByName(ctx, "tok")
	s.Kind = models.SecretSSHPassword
	f.secs.put(*s)

	_, err = f.svc.RevealMachineCredential(ctx, "tok")
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)
}

func TestMachineCredential_WrongPepper(t *testing.T) {
	f := newSharedFixture(t, "pepper-1")
	ctx := context.Background()
	_, err := f.svc.StoreMachineCredential(ctx, "x", models.SecretSSHKey, "v")
	require.NoError(t, err)

	other := newSharedFixture(t, "pepper-2")
	other.svc.repomanager = &fakeRepoManager{c: other.creds, s: f.secs}

	_, err = other.svc.RevealMachineCredential(ctx, "x")
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)
}

func TestMachineCredential_MissingPepper(t *testing.T) {
	f := newSharedFixture(t, "")
	ctx := context.Background()

	_, err := f.svc.StoreMachineCredential(ctx, "x", models.SecretSSHKey, "v")
	assert.ErrorIs(t, err, common.ErrMissingSystemSecret)
	_, err = f.secs.GetByName(ctx, "x")
	assert.ErrorIs(t, err, common.ErrorNotFound, "nothing may be stored without a key")

	_, err = f.svc.MigrateLegacy(ctx)
	assert.ErrorIs(t, err, common.ErrMissingSystemSecret)
}

func TestMachineCredential_Delete(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	ctx := context.Background()
	_, err := f.svc.StoreMachineCredential(ctx, "x", models.SecretSSHKey, "v")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMachineCredential(ctx, "x"))
	_, err = f.svc.RevealMachineCredential(ctx, "x")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMFASecret_Lifecycle(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	ctx := context.Background()
	id := f.addUser(t, nil)

	_, ok, err := f.svc.MFASecret(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.SetMFASecret(ctx, id, "JBSWY3DPEHPK3PXP"))

	stored := f.creds.get(id)
	require.NotNil(t, stored.MFASecret)
	assert.True(t, legacy.IsEnvelopeFormat(*stored.MFASecret))

	seed, ok, err := f.svc.MFASecret(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", seed)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.DisableMFA(ctx, id))
	assert.Nil(t, f.creds.get(id).MFASecret)

	// disabling again is a no-op
	require.NoError(t, f.svc.DisableMFA(ctx, id))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMFASecret_LegacySeedStillReads(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	seed := "JBSWY3DPEHPK3PXP"
	id := f.addUser(t, &seed)

	got, ok, err := f.svc.MFASecret(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, seed, got)
}

func TestMigrateLegacy(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	ctx := context.Background()

	_, err := f.svc.StoreMachineCredential(ctx, "new", models.SecretSSHKey, "already-sealed")
	require.NoError(t, err)
	f.secs.put(models.SharedSecret{ID: "s-legacy", Name: "old", Kind: models.SecretSSHPassword, Value: "plain-unencrypted-value"})
	seed := "JBSWY3DPEHPK3PXP"
	id := f.addUser(t, &seed)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	report, err := f.svc.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, &MigrationReport{Scanned: 3, Migrated: 2, AlreadyEnveloped: 1}, report)
	require.NoError(t, f.mock.ExpectationsWereMet())

	old, _ := f.secs.GetByName(ctx, "old")
	assert.True(t, legacy.IsEnvelopeFormat(old.Value))
	assert.True(t, legacy.IsEnvelopeFormat(*f.creds.get(id).MFASecret))

	plain, err := f.svc.RevealMachineCredential(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "plain-unencrypted-value", plain)
	got, _, err := f.svc.MFASecret(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, seed, got)

	// second pass finds nothing to do and opens no transactions
	again, err := f.svc.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, &MigrationReport{Scanned: 3, AlreadyEnveloped: 3}, again)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMigrateLegacy_ConcurrentWriteIsNotOverwritten(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	ctx := context.Background()
	f.secs.put(models.SharedSecret{ID: "s-1", Name: "old", Kind: models.SecretAPIToken, Value: "legacy"})
	f.secs.beforeUpdate = func() {
		f.secs.beforeUpdate = nil
		f.secs.put(models.SharedSecret{ID: "s-1", Name: "old", Kind: models.SecretAPIToken, Value: "rewritten"})
	}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	report, err := f.svc.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 0, report.Migrated)

	s, _ := f.secs.GetByName(ctx, "old")
	assert.Equal(t, "rewritten", s.Value)
}

func TestMigrateLegacy_CanceledContext(t *testing.T) {
	f := newSharedFixture(t, "pepper")
	f.secs.put(models.SharedSecret{ID: "s-1", Name: "old", Kind: models.SecretAPIToken, Value: "legacy"})

	// derive the key first so cancellation hits the sweep itself
	_, err := f.svc.keys.SystemKey(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.MigrateLegacy(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	s, _ := f.secs.GetByName(context.Background(), "old")
	assert.False(t, strings.HasPrefix(s.Value, "{"))
}
