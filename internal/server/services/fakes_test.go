package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/secrets"
)

var testKDF = cryptox.KDFParams{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: common.KeySize}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// fakeCredentialsRepo keeps records in memory and enforces the version
// check the Postgres repository does.
type fakeCredentialsRepo struct {
	mu     sync.Mutex
	byID   map[string]models.CredentialRecord
	nextID int

	getErr    error
	updateErr error
}

func newFakeCredentialsRepo() *fakeCredentialsRepo {
	return &fakeCredentialsRepo{byID: map[string]models.CredentialRecord{}}
}

func (f *fakeCredentialsRepo) Create(ctx context.Context, rec *models.CredentialRecord) (*models.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.byID {
		if r.Username == rec.Username {
			return nil, common.ErrorAlreadyExists
		}
	}
	if rec.ID == "" {
		f.nextID++
		rec.ID = fmt.Sprintf("u-%d", f.nextID)
	}
	rec.Version = 1
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	f.byID[rec.ID] = *rec
	out := *rec
	return &out, nil
}

func (f *fakeCredentialsRepo) GetByID(ctx context.Context, id string) (*models.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &r, nil
}

func (f *fakeCredentialsRepo) GetByUsername(ctx context.Context, username string) (*models.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.byID {
		if r.Username == username {
			return &r, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeCredentialsRepo) Update(ctx context.Context, id string, expectedVersion int64, u models.CredentialUpdate) (int64, error) {
	if err := u.Validate(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	r, ok := f.byID[id]
	if !ok || r.Version != expectedVersion {
		return 0, common.ErrVersionConflict
	}
	if v, ok := u.PasswordHash.Value(); ok {
		r.PasswordHash = v
	}
	if v, ok := u.PersonalSalt.Value(); ok {
		r.PersonalSalt = v
	}
	if v, ok := u.WrappedDEK.Value(); ok {
		r.WrappedDEK = v
	}
	if v, ok := u.MFASecret.Value(); ok {
		r.MFASecret = &v
	} else if u.MFASecret.IsCleared() {
		r.MFASecret = nil
	}
	if v, ok := u.State.Value(); ok {
		r.State = v
	}
	if v, ok := u.DEKGeneration.Value(); ok {
		r.DEKGeneration = v
	}
	r.Version++
	f.byID[id] = r
	return r.Version, nil
}

func (f *fakeCredentialsRepo) ListMFASecrets(ctx context.Context) ([]models.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CredentialRecord
	for _, r := range f.byID {
		if r.MFASecret != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// set overwrites a stored record, bypassing the version check.
func (f *fakeCredentialsRepo) set(rec models.CredentialRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[rec.ID] = rec
}

func (f *fakeCredentialsRepo) get(id string) models.CredentialRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

type fakeSecretsRepo struct {
	mu     sync.Mutex
	byName map[string]models.SharedSecret
	nextID int

	// beforeUpdate runs before UpdateValue compares values.
	beforeUpdate func()
}

func newFakeSecretsRepo() *fakeSecretsRepo {
	return &fakeSecretsRepo{byName: map[string]models.SharedSecret{}}
}

func (f *fakeSecretsRepo) Upsert(ctx context.Context, s *models.SharedSecret) (*models.SharedSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.byName[s.Name]; ok {
		s.ID = old.ID
	} else if s.ID == "" {
		f.nextID++
		s.ID = fmt.Sprintf("s-%d", f.nextID)
	}
	f.byName[s.Name] = *s
	out := *s
	return &out, nil
}

func (f *fakeSecretsRepo) GetByName(ctx context.Context, name string) (*models.SharedSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byName[name]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &s, nil
}

func (f *fakeSecretsRepo) List(ctx context.Context) ([]models.SharedSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SharedSecret
	for _, s := range f.byName {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSecretsRepo) UpdateValue(ctx context.Context, id, oldValue, newValue string) (bool, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, s := range f.byName {
		if s.ID == id && s.Value == oldValue {
			s.Value = newValue
			f.byName[name] = s
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSecretsRepo) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byName[name]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byName, name)
	return nil
}

func (f *fakeSecretsRepo) put(s models.SharedSecret) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[s.Name] = s
}

type fakeRepoManager struct {
	c *fakeCredentialsRepo
	s *fakeSecretsRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Credentials(dbx.DBTX) credentials.Repository  { return m.c }
func (m *fakeRepoManager) Secrets(dbx.DBTX) secrets.Repository          { return m.s }
