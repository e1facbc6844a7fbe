package domain

import "errors"

var (
	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken indicates the email address belongs to another user.
	ErrEmailTaken = errors.New("email address already in use")

	// ErrPlanNotFound indicates the plan key is not in the catalog.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrAddonNotFound indicates the addon key is not in the catalog.
	ErrAddonNotFound = errors.New("addon not found")

	// ErrAlreadySubscribed indicates the user is already on the requested plan.
	ErrAlreadySubscribed = errors.New("user is already subscribed to this plan")

	// ErrAddonOwned indicates the user already holds the addon.
	ErrAddonOwned = errors.New("user already has this addon")

	// ErrAddonNotOwned indicates the user does not hold the addon.
	ErrAddonNotOwned = errors.New("user does not have this addon")

	// ErrNoPlan indicates the user record carries no plan snapshot.
	ErrNoPlan = errors.New("user has no plan")

	// ErrTokenNotFound indicates no token matched the lookup value.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExhausted indicates the bounded unique-value search gave up.
	// With 32 bytes of entropy per candidate this is practically unreachable,
	// but the loop must terminate rather than spin forever.
	ErrTokenExhausted = errors.New("unable to generate a unique token value")

	// ErrTokenValueConflict indicates the storage layer rejected a token value
	// as a duplicate at persist time.
	ErrTokenValueConflict = errors.New("token value already exists")

	// ErrRemoteBilling indicates a billing-provider call failed or timed out.
	// Local state is never partially applied when this is returned.
	ErrRemoteBilling = errors.New("billing provider call failed")

	// ErrUnknownPrice indicates a checkout price id resolved to neither a plan
	// nor an addon. This is an operator escalation, not a user error.
	ErrUnknownPrice = errors.New("price id matches no plan or addon")

	// ErrCatalogMisconfigured indicates an addon has no price entry for a
	// resolvable plan tier. Operations abort instead of defaulting.
	ErrCatalogMisconfigured = errors.New("addon price missing for plan tier")

	// ErrVersionConflict indicates the document changed under a concurrent
	// writer. Callers reload and retry.
	ErrVersionConflict = errors.New("user document version conflict")

	// ErrStoreUnavailable indicates the document store could not be reached.
	ErrStoreUnavailable = errors.New("document store unavailable")

	// ErrUserDisabled indicates the operation is blocked on a disabled account.
	ErrUserDisabled = errors.New("user account is disabled")

	// ErrInvalidCredentials indicates the email or password did not match.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrCaptchaFailed indicates the signup challenge response was rejected.
	ErrCaptchaFailed = errors.New("captcha verification failed")

	// ErrBadAuthToken indicates a signed token failed validation.
	ErrBadAuthToken = errors.New("invalid or expired token")

	// ErrTokenLimit indicates the user already holds the maximum number of
	// tokens.
	ErrTokenLimit = errors.New("token limit reached")
)
