package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"taskhub.org/internal/ids"
	"taskhub.org/internal/obs"
)

// Authenticator verifies credentials, provisions accounts and changes
// passwords. It is safe for concurrent use.
type Authenticator struct {
	store    CredentialStore
	hasher   PasswordHasher
	recorder AccessRecorder
	limiter  *AttemptLimiter
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger

	// verified against on unknown users so both paths pay for one hash
	dummyHash string
}

// AuthResult is delivered by AuthenticateAsync.
type AuthResult struct {
	User User
	Err  error
}

type newUserInput struct {
	Name     string `validate:"required,max=200"`
	Email    string `validate:"required,email,max=320"`
	Password string `validate:"required,max=72"`
}

// NewAuthenticator wires an Authenticator. recorder may be nil.
func NewAuthenticator(store CredentialStore, hasher PasswordHasher, recorder AccessRecorder, opts ...Option) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	if recorder == nil {
		recorder = discardRecorder{}
	}
	o := buildOptions("authn", opts)

	dummy, err := hasher.Hash(ids.New())
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
	}
	return &Authenticator{
		store:     store,
		hasher:    hasher,
		recorder:  recorder,
		limiter:   o.limiter,
		validate:  validator.New(),
		now:       o.now,
		log:       o.log,
		dummyHash: dummy,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Authenticate checks email and password against the active user's
// credential. Unknown, inactive and wrong-password attempts all return
// ErrAuthFailed; only the access log tells them apart. Store faults return an
// error matching ErrInfrastructure.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || blank(password) {
		return User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	start := a.now()
	user, detail, err := a.authenticate(ctx, email, password, start)
	obs.ObserveAuthAttempt(detail, a.now().Sub(start))

	a.recorder.Record(ctx, AccessLogEntry{
		Action:    ActionLogin,
		UserID:    user.ID,
		Succeeded: err == nil,
		Detail:    detail,
	})

	switch {
	case err == nil:
		a.limiter.Forget(email)
		a.log.Info().Str("user_id", user.ID).Msg("login succeeded")
		return user, nil
	case errors.Is(err, ErrInfrastructure):
		a.log.Error().Err(err).Msg("login aborted by store error")
		return User{}, err
	default:
		a.log.Info().Str("detail", detail).Msg("login rejected")
		return User{}, err
	}
}

// authenticate returns the matched user (possibly inactive or unverified, for
// audit purposes), the access log detail and the caller-facing error.
func (a *Authenticator) authenticate(ctx context.Context, email, password string, at time.Time) (User, string, error) {
	if a.limiter != nil && !a.limiter.AllowAt(email, at) {
		return User{}, DetailThrottled, ErrThrottled
	}

	user, err := a.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		a.hasher.Verify(password, a.dummyHash)
		return User{}, DetailUnknownUser, ErrAuthFailed
	}
	if err != nil {
		return User{}, DetailStoreError, infraError("find user", err)
	}
	if !user.Active {
		a.hasher.Verify(password, a.dummyHash)
		return User{ID: user.ID}, DetailInactiveUser, ErrAuthFailed
	}

	cred, err := a.store.FindCredentialByUserID(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		a.hasher.Verify(password, a.dummyHash)
		return User{ID: user.ID}, DetailUnknownUser, ErrAuthFailed
	}
	if err != nil {
		return User{ID: user.ID}, DetailStoreError, infraError("find credential", err)
	}
	if !a.hasher.Verify(password, cred.HashedSecret) {
		return User{ID: user.ID}, DetailBadPassword, ErrAuthFailed
	}
	return user, DetailOK, nil
}

// AuthenticateAsync runs Authenticate on its own goroutine. The channel
// receives exactly one result and is then closed.
func (a *Authenticator) AuthenticateAsync(ctx context.Context, email, password string) <-chan AuthResult {
	out := make(chan AuthResult, 1)
	go func() {
		defer close(out)
		user, err := a.Authenticate(ctx, email, password)
		out <- AuthResult{User: user, Err: err}
	}()
	return out
}

// UserExists reports whether an active user owns email.
func (a *Authenticator) UserExists(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := a.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, infraError("find user", err)
	}
	return user.Active, nil
}

// CreateUser provisions an active user and its credential in one unit of
// work. The returned user carries no credential material.
func (a *Authenticator) CreateUser(ctx context.Context, name, email, password string) (User, error) {
	in := newUserInput{
		Name:     strings.TrimSpace(name),
		Email:    normalizeEmail(email),
		Password: password,
	}
	if blank(in.Password) {
		in.Password = ""
	}
	if err := a.validate.Struct(in); err != nil {
		return User{}, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	exists, err := a.UserExists(ctx, in.Email)
	if err != nil {
		return User{}, err
	}
	if exists {
		a.recordProvisioning(ctx, "", DetailConflict, false)
		return User{}, fmt.Errorf("%w: email %s is already registered", ErrConflict, in.Email)
	}

	hash, err := a.hasher.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := a.now().UTC()
	user := User{
		ID:          ids.NewAt(now),
		DisplayName: in.Name,
		Email:       in.Email,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cred := Credential{
		ID:           ids.NewAt(now),
		UserID:       user.ID,
		HashedSecret: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = a.store.InTx(ctx, func(tx ProvisioningTx) error {
		if err := tx.InsertUser(ctx, &user); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if err := tx.InsertCredential(ctx, &cred); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrConflict):
		a.recordProvisioning(ctx, "", DetailConflict, false)
		return User{}, fmt.Errorf("%w: email %s is already registered", ErrConflict, in.Email)
	case err != nil:
		a.recordProvisioning(ctx, "", DetailStoreError, false)
		a.log.Error().Err(err).Msg("provisioning rolled back")
		return User{}, infraError("create user", err)
	}

	a.recordProvisioning(ctx, user.ID, DetailOK, true)
	a.log.Info().Str("user_id", user.ID).Msg("user provisioned")
	return user, nil
}

func (a *Authenticator) recordProvisioning(ctx context.Context, userID, detail string, ok bool) {
	a.recorder.Record(ctx, AccessLogEntry{
		Action:    ActionUserCreate,
		UserID:    userID,
		Succeeded: ok,
		Detail:    detail,
	})
}

// ChangePassword replaces the user's credential after verifying current. It
// returns false without error when current does not match or the user has no
// credential.
func (a *Authenticator) ChangePassword(ctx context.Context, userID, current, next string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || blank(current) || blank(next) {
		return false, fmt.Errorf("%w: user id, current and new password are required", ErrInvalidInput)
	}

	cred, err := a.store.FindCredentialByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		a.recordPasswordChange(ctx, userID, DetailUnknownUser, false)
		return false, nil
	}
	if err != nil {
		a.recordPasswordChange(ctx, userID, DetailStoreError, false)
		return false, infraError("find credential", err)
	}
	if !a.hasher.Verify(current, cred.HashedSecret) {
		a.recordPasswordChange(ctx, userID, DetailBadPassword, false)
		return false, nil
	}

	hash, err := a.hasher.Hash(next)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	err = a.store.UpdateCredentialHash(ctx, userID, hash, a.now().UTC())
	if errors.Is(err, ErrNotFound) {
		a.recordPasswordChange(ctx, userID, DetailUnknownUser, false)
		return false, nil
	}
	if err != nil {
		a.recordPasswordChange(ctx, userID, DetailStoreError, false)
		return false, infraError("update credential", err)
	}

	a.recordPasswordChange(ctx, userID, DetailOK, true)
	return true, nil
}

func (a *Authenticator) recordPasswordChange(ctx context.Context, userID, detail string, ok bool) {
	a.recorder.Record(ctx, AccessLogEntry{
		Action:    ActionPasswordChange,
		UserID:    userID,
		Succeeded: ok,
		Detail:    detail,
	})
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, field+" must be a valid email address")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
