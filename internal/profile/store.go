package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/cryptox"
	"github.com/brightnest/haven/internal/filex"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
)

const (
	familyFile  = "family.json"
	profileFile = "profile.enc"
	profilesDir = "profiles"

	// failed-login backoff: 2s doubling per consecutive failure, capped
	backoffBase = 2 * time.Second
	backoffMax  = 5 * time.Minute
)

var nameRe = regexp.MustCompile(`^[\p{L}\p{N} .'-]+$`)

// envelope is the on-disk framing of an encrypted profile record.
type envelope struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Store owns the family account file and the per-profile directories under
// dataDir. All methods are safe for concurrent use.
//
// The store starts locked: parent-gated operations and profile decryption
// are unavailable until Setup or Login succeeds.
type Store struct {
	dataDir  string
	profRoot string
	pepper   []byte
	log      logging.Logger

	mu          sync.Mutex
	family      *FamilyAccount
	recordKey   []byte
	failed      int
	lockedUntil time.Time

	now func() time.Time
}

// NewStore opens (or initializes) the data directory and loads the family
// account if one exists.
func NewStore(dataDir string, log logging.Logger) (*Store, error) {
	if _, err := filex.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	root, err := filex.EnsureDir(filepath.Join(dataDir, profilesDir))
	if err != nil {
		return nil, err
	}
	pepper, err := cryptox.LoadOrCreatePepper(dataDir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dataDir:  dataDir,
		profRoot: root,
		pepper:   pepper,
		log:      log.With("component", "profile_store"),
		now:      time.Now,
	}

	b, err := os.ReadFile(filepath.Join(dataDir, familyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read family account: %w", err)
	}
	var fam FamilyAccount
	if err := json.Unmarshal(b, &fam); err != nil {
		return nil, fmt.Errorf("parse family account: %w", common.ErrConfiguration)
	}
	s.family = &fam
	return s, nil
}

// HasFamily reports whether a family account has been created.
func (s *Store) HasFamily() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.family != nil
}

// FamilyID returns the family account ID, or "" before setup.
func (s *Store) FamilyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.family == nil {
		return ""
	}
	return s.family.ID
}

// Unlocked reports whether the record key is available.
func (s *Store) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordKey != nil
}

// Setup creates the family account and leaves the store unlocked. The
// password slice is wiped before returning.
func (s *Store) Setup(ctx context.Context, password []byte) error {
	defer common.WipeByteArray(password)

	if len(password) < 8 {
		return fmt.Errorf("parent password must be at least 8 characters: %w", common.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.family != nil {
		return fmt.Errorf("family account already exists: %w", common.ErrValidation)
	}

	salt := common.GenerateRandByteArray(16)
	master := cryptox.DeriveMasterKey(password, salt)
	key := cryptox.DeriveRecordKey(master, s.pepper)
	common.WipeByteArray(master)

	now := s.now().UTC()
	fam := &FamilyAccount{
		ID:        uuid.NewString(),
		Salt:      salt,
		Verifier:  cryptox.MakeVerifier(key),
		Children:  []ChildRef{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.saveFamilyLocked(fam); err != nil {
		common.WipeByteArray(key)
		return err
	}
	s.family = fam
	s.recordKey = key

	s.log.Info(ctx, "family account created", "family_id", fam.ID)
	return nil
}

// Login verifies the parent password and unlocks the store. Consecutive
// failures impose an exponentially growing lockout window. The password
// slice is wiped before returning.
func (s *Store) Login(ctx context.Context, password []byte) error {
	defer common.WipeByteArray(password)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.family == nil {
		return fmt.Errorf("no family account: %w", common.ErrNotFound)
	}
	if now := s.now(); now.Before(s.lockedUntil) {
		s.log.Warn(ctx, "login attempt during lockout",
			"retry_in", s.lockedUntil.Sub(now).Round(time.Second).String())
		return fmt.Errorf("too many failed attempts, retry later: %w", common.ErrAuthentication)
	}

	master := cryptox.DeriveMasterKey(password, s.family.Salt)
	key := cryptox.DeriveRecordKey(master, s.pepper)
	common.WipeByteArray(master)

	if !cryptox.VerifierMatches(s.family.Verifier, cryptox.MakeVerifier(key)) {
		common.WipeByteArray(key)
		s.failed++
		delay := backoffBase << (s.failed - 1)
		if delay > backoffMax || delay <= 0 {
			delay = backoffMax
		}
		s.lockedUntil = s.now().Add(delay)
		s.log.Warn(ctx, "parent login failed", "consecutive_failures", s.failed)
		return fmt.Errorf("wrong parent password: %w", common.ErrAuthentication)
	}

	s.failed = 0
	s.lockedUntil = time.Time{}
	s.recordKey = key
	s.log.Info(ctx, "parent login ok", "family_id", s.family.ID)
	return nil
}

// Lock wipes the record key. Profile decryption is unavailable until the
// next Login.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.recordKey)
	s.recordKey = nil
}

// ChangePassword re-derives the record key from the new password and
// re-encrypts every profile under it. Requires the current password.
func (s *Store) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	if err := s.Login(ctx, oldPassword); err != nil {
		common.WipeByteArray(newPassword)
		return err
	}
	defer common.WipeByteArray(newPassword)

	if len(newPassword) < 8 {
		return fmt.Errorf("parent password must be at least 8 characters: %w", common.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := make([]*ChildProfile, 0, len(s.family.Children))
	for _, ref := range s.family.Children {
		p, err := s.loadProfileLocked(ref.ID)
		if err != nil {
			return err
		}
		profiles = append(profiles, p)
	}

	salt := common.GenerateRandByteArray(16)
	master := cryptox.DeriveMasterKey(newPassword, salt)
	key := cryptox.DeriveRecordKey(master, s.pepper)
	common.WipeByteArray(master)

	oldKey, oldSalt, oldVerifier := s.recordKey, s.family.Salt, s.family.Verifier
	s.recordKey = key
	s.family.Salt = salt
	s.family.Verifier = cryptox.MakeVerifier(key)
	s.family.UpdatedAt = s.now().UTC()

	for _, p := range profiles {
		if err := s.writeProfileLocked(p); err != nil {
			s.recordKey, s.family.Salt, s.family.Verifier = oldKey, oldSalt, oldVerifier
			return err
		}
	}
	if err := s.saveFamilyLocked(s.family); err != nil {
		s.recordKey, s.family.Salt, s.family.Verifier = oldKey, oldSalt, oldVerifier
		return err
	}
	common.WipeByteArray(oldKey)

	s.log.Info(ctx, "parent password changed", "profiles_reencrypted", len(profiles))
	return nil
}

// SealBlob encrypts an arbitrary payload under the record key, framed the
// same way as profile records. Used for backup archives.
func (s *Store) SealBlob(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	ciphertext, nonce, err := cryptox.EncryptBytes(data, s.recordKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Nonce: nonce, Ciphertext: ciphertext})
}

// OpenBlob reverses SealBlob.
func (s *Store) OpenBlob(sealed []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("backup envelope: %w", common.ErrValidation)
	}
	data, err := cryptox.DecryptBytes(env.Ciphertext, env.Nonce, s.recordKey)
	if err != nil {
		return nil, fmt.Errorf("backup decrypt: %w", errors.Join(common.ErrAuthentication, err))
	}
	return data, nil
}

// CreateProfile validates the inputs, assigns a UUID, and writes the
// encrypted record plus the family index entry.
func (s *Store) CreateProfile(ctx context.Context, name string, age int, sessionLimit time.Duration) (*ChildProfile, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := policy.TierForAge(age); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	if len(s.family.Children) >= MaxProfiles {
		return nil, fmt.Errorf("at most %d profiles per family: %w", MaxProfiles, common.ErrLimitExceeded)
	}
	for _, ref := range s.family.Children {
		if ref.Name == name {
			return nil, fmt.Errorf("profile name %q already in use: %w", name, common.ErrValidation)
		}
	}

	now := s.now().UTC()
	p := &ChildProfile{
		ID:           uuid.NewString(),
		Name:         name,
		Age:          age,
		AgeUpdatedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.SessionLimit.Duration = sessionLimit

	dir, err := s.profileDirLocked(p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := filex.EnsureDir(dir); err != nil {
		return nil, err
	}
	if err := s.writeProfileLocked(p); err != nil {
		return nil, err
	}

	s.family.Children = append(s.family.Children, p.Ref())
	s.family.UpdatedAt = now
	if err := s.saveFamilyLocked(s.family); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "profile created", "profile_id", p.ID, "age", age)
	return p, nil
}

// LoadProfile decrypts and returns the profile record.
func (s *Store) LoadProfile(ctx context.Context, id string) (*ChildProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	return s.loadProfileLocked(id)
}

// UpdateProfile applies the non-nil fields of u and persists the record.
func (s *Store) UpdateProfile(ctx context.Context, id string, u Updates) (*ChildProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	p, err := s.loadProfileLocked(id)
	if err != nil {
		return nil, err
	}

	if u.Name != nil {
		if err := validateName(*u.Name); err != nil {
			return nil, err
		}
		p.Name = *u.Name
	}
	if u.Age != nil {
		if _, err := policy.TierForAge(*u.Age); err != nil {
			return nil, err
		}
		p.Age = *u.Age
		p.AgeUpdatedAt = s.now().UTC()
	}
	if u.BlockedTopics != nil {
		p.BlockedTopics = *u.BlockedTopics
	}
	if u.SessionLimit != nil {
		p.SessionLimit.Duration = *u.SessionLimit
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.writeProfileLocked(p); err != nil {
		return nil, err
	}
	if u.Name != nil {
		for i := range s.family.Children {
			if s.family.Children[i].ID == id {
				s.family.Children[i].Name = p.Name
			}
		}
		s.family.UpdatedAt = p.UpdatedAt
		if err := s.saveFamilyLocked(s.family); err != nil {
			return nil, err
		}
	}

	s.log.Info(ctx, "profile updated", "profile_id", id)
	return p, nil
}

// DeleteProfile securely erases the profile directory and drops the index
// entry. Audit and strike files under the directory go with it.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}
	dir, err := s.profileDirLocked(id)
	if err != nil {
		return err
	}

	idx := -1
	for i, ref := range s.family.Children {
		if ref.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("profile %s: %w", id, common.ErrNotFound)
	}

	if err := filex.SecureRemoveAll(dir); err != nil {
		return fmt.Errorf("erase profile %s: %w", id, err)
	}

	s.family.Children = append(s.family.Children[:idx], s.family.Children[idx+1:]...)
	s.family.UpdatedAt = s.now().UTC()
	if err := s.saveFamilyLocked(s.family); err != nil {
		return err
	}

	s.log.Info(ctx, "profile deleted", "profile_id", id)
	return nil
}

// ListProfiles returns the public index entries. Does not require the
// record key.
func (s *Store) ListProfiles() []ChildRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.family == nil {
		return nil
	}
	out := make([]ChildRef, len(s.family.Children))
	copy(out, s.family.Children)
	return out
}

// ApplyBirthdays bumps each profile's age by one for every full year since
// its last age update, capped at 18. Returns how many profiles changed.
func (s *Store) ApplyBirthdays(ctx context.Context) (int, error) {
	const year = 365 * 24 * time.Hour

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlockedLocked(); err != nil {
		return 0, err
	}

	changed := 0
	now := s.now().UTC()
	for _, ref := range s.family.Children {
		p, err := s.loadProfileLocked(ref.ID)
		if err != nil {
			return changed, err
		}
		bumped := false
		for p.Age < 18 && now.Sub(p.AgeUpdatedAt) >= year {
			p.Age++
			p.AgeUpdatedAt = p.AgeUpdatedAt.Add(year)
			bumped = true
		}
		if !bumped {
			continue
		}
		p.UpdatedAt = now
		if err := s.writeProfileLocked(p); err != nil {
			return changed, err
		}
		changed++
		s.log.Info(ctx, "profile age advanced", "profile_id", p.ID, "age", p.Age)
	}
	return changed, nil
}

// ProfileDir resolves the directory for a profile ID, rejecting any ID
// that would escape the profiles root.
func (s *Store) ProfileDir(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileDirLocked(id)
}

func (s *Store) profileDirLocked(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", fmt.Errorf("profile id %q: %w", id, common.ErrIsolationViolation)
	}
	dir := filepath.Join(s.profRoot, id)
	rel, err := filepath.Rel(s.profRoot, dir)
	if err != nil || rel != id {
		return "", fmt.Errorf("profile id %q: %w", id, common.ErrIsolationViolation)
	}
	return dir, nil
}

func (s *Store) requireUnlockedLocked() error {
	if s.family == nil {
		return fmt.Errorf("no family account: %w", common.ErrNotFound)
	}
	if s.recordKey == nil {
		return fmt.Errorf("store is locked: %w", common.ErrAuthentication)
	}
	return nil
}

func (s *Store) loadProfileLocked(id string) (*ChildProfile, error) {
	dir, err := s.profileDirLocked(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(dir, profileFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("read profile %s: %w", id, err)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("profile %s envelope: %w", id, common.ErrConfiguration)
	}
	var p ChildProfile
	if err := cryptox.DecryptRecord(env.Ciphertext, env.Nonce, s.recordKey, &p); err != nil {
		return nil, fmt.Errorf("decrypt profile %s: %w", id, errors.Join(common.ErrAuthentication, err))
	}
	return &p, nil
}

func (s *Store) writeProfileLocked(p *ChildProfile) error {
	dir, err := s.profileDirLocked(p.ID)
	if err != nil {
		return err
	}
	ciphertext, nonce, err := cryptox.EncryptRecord(p, s.recordKey)
	if err != nil {
		return fmt.Errorf("encrypt profile %s: %w", p.ID, err)
	}
	b, err := json.Marshal(envelope{Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return err
	}
	return filex.AtomicWrite(filepath.Join(dir, profileFile), b, 0o600)
}

func (s *Store) saveFamilyLocked(fam *FamilyAccount) error {
	b, err := json.MarshalIndent(fam, "", "  ")
	if err != nil {
		return err
	}
	return filex.AtomicWrite(filepath.Join(s.dataDir, familyFile), b, 0o600)
}

func validateName(name string) error {
	runes := []rune(name)
	if len(runes) == 0 || len(runes) > MaxNameLen {
		return fmt.Errorf("name must be 1-%d characters: %w", MaxNameLen, common.ErrValidation)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("name contains unsupported characters: %w", common.ErrValidation)
	}
	return nil
}
