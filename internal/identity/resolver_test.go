package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/federation"
	"github.com/fidelio/fidelio/internal/logging"
)

const testPhone = "+237650000001"

// codeBook accepts exactly the codes it was given, once each.
type codeBook struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBook) Verify(_ context.Context, phone, code string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes[phone] != code || code == "" {
		return false, nil
	}
	delete(b.codes, phone)
	return true, nil
}

type stubMinter struct{ minted []Account }

func (m *stubMinter) Mint(a Account) (Session, error) {
	m.minted = append(m.minted, a)
	return Session{AccessToken: "access-" + a.ID, RefreshToken: "refresh-" + a.ID, ExpiresIn: 900}, nil
}

type fixture struct {
	repo     Repository
	service  *Service
	resolver *Resolver
	codes    *codeBook
	provider *federation.StaticProvider
	minter   *stubMinter
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMemoryRepository(),
		codes:    &codeBook{codes: map[string]string{}},
		provider: federation.NewStaticProvider("http://localhost/oauth"),
		minter:   &stubMinter{},
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	hasher := BcryptHasher{Cost: bcrypt.MinCost}
	f.service = NewService(f.repo, hasher, f.clock, logging.Discard())
	f.resolver = NewResolver(f.repo, hasher, f.codes, f.provider, f.minter, f.clock, logging.Discard())
	return f
}

func TestResolvePhoneOTPCreatesVerifiedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.codes.codes[testPhone] = "123456"

	res, err := f.resolver.Resolve(ctx, PhoneOTP{Phone: "+237 650-000-001", Code: "123456"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created || res.Account.Phone != testPhone || !res.Account.PhoneVerified {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Account.Role != RoleCustomer || res.Session.AccessToken == "" {
		t.Fatalf("expected customer session, got %+v", res)
	}
	stored, _ := f.repo.FindByID(ctx, res.Account.ID)
	if !stored.LastLoginAt.Equal(f.clock.Now()) {
		t.Fatalf("expected last login stamped, got %s", stored.LastLoginAt)
	}

	f.codes.codes[testPhone] = "654321"
	again, err := f.resolver.Resolve(ctx, PhoneOTP{Phone: testPhone, Code: "654321"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.Created || again.Account.ID != res.Account.ID {
		t.Fatalf("expected the same account, got %+v", again)
	}
}

func TestResolvePhoneOTPRejectsBadCode(t *testing.T) {
	f := newFixture(t)
	f.codes.codes[testPhone] = "123456"
	_, err := f.resolver.Resolve(context.Background(), PhoneOTP{Phone: testPhone, Code: "000000"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if len(f.minter.minted) != 0 {
		t.Fatalf("no session may be minted")
	}
}

func TestResolvePhoneOTPVerifiesRegisteredAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.service.Register(ctx, RegisterInput{Phone: testPhone, FullName: "Ada"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.codes.codes[testPhone] = "123456"
	res, err := f.resolver.Resolve(ctx, PhoneOTP{Phone: testPhone, Code: "123456"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Created || res.Account.ID != acc.ID || !res.Account.PhoneVerified {
		t.Fatalf("expected registered account to become verified, got %+v", res.Account)
	}
}

func TestResolveEmailPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.service.Register(ctx, RegisterInput{Phone: testPhone, Email: "Ada@Example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := f.resolver.Resolve(ctx, EmailPassword{Email: " ada@example.com ", Password: "correct horse"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Account.ID != acc.ID || res.Created {
		t.Fatalf("unexpected account %+v", res.Account)
	}

	cases := []EmailPassword{
		{Email: "ada@example.com", Password: "wrong password"},
		{Email: "nobody@example.com", Password: "correct horse"},
	}
	for _, c := range cases {
		if _, err := f.resolver.Resolve(ctx, c); !errors.Is(err, apperr.ErrInvalidCredentials) {
			t.Fatalf("%s: expected invalid credentials, got %v", c.Email, err)
		}
	}
}

func TestResolveLegacyPhonePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, _ := f.service.Register(ctx, RegisterInput{Phone: testPhone, Password: "s3cret-pass"})

	res, err := f.resolver.Resolve(ctx, PhonePassword{Phone: testPhone, Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Account.ID != acc.ID {
		t.Fatalf("expected the OTP account, got %+v", res.Account)
	}

	f.codes.codes["+237650000002"] = "111111"
	otpOnly, _ := f.resolver.Resolve(ctx, PhoneOTP{Phone: "+237650000002", Code: "111111"})
	if _, err := f.resolver.Resolve(ctx, PhonePassword{Phone: otpOnly.Account.Phone, Password: "anything-at-all"}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials without a password, got %v", err)
	}
}

func TestResolveFederationCreatesThenRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.Register("code-1", federation.Profile{Email: "Grace@Example.com", Name: "Grace", AvatarURL: "https://a/1.png", EmailVerified: true})

	res, err := f.resolver.Resolve(ctx, FederatedCode{Code: "code-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created || res.Account.Email != "grace@example.com" || !res.Account.EmailVerified || res.Account.HasPassword() {
		t.Fatalf("unexpected federated account %+v", res.Account)
	}

	f.provider.Register("code-2", federation.Profile{Email: "grace@example.com", Name: "Grace Hopper", AvatarURL: "https://a/2.png", EmailVerified: true})
	again, err := f.resolver.Resolve(ctx, FederatedCode{Code: "code-2"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.Created || again.Account.ID != res.Account.ID {
		t.Fatalf("expected the same account, got %+v", again.Account)
	}
	stored, _ := f.repo.FindByID(ctx, res.Account.ID)
	if stored.FullName != "Grace Hopper" || stored.AvatarURL != "https://a/2.png" {
		t.Fatalf("profile not refreshed: %+v", stored)
	}

	if _, err := f.resolver.Resolve(ctx, FederatedCode{Code: "code-2"}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}
}

func TestResolveFederationKeepsProfileWhenProviderOmitsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.Register("code-1", federation.Profile{Email: "grace@example.com", Name: "Grace", AvatarURL: "https://a/1.png", EmailVerified: true})
	res, err := f.resolver.Resolve(ctx, FederatedCode{Code: "code-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	f.provider.Register("code-2", federation.Profile{Email: "grace@example.com", EmailVerified: true})
	if _, err := f.resolver.Resolve(ctx, FederatedCode{Code: "code-2"}); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, res.Account.ID)
	if stored.FullName != "Grace" || stored.AvatarURL != "https://a/1.png" {
		t.Fatalf("empty provider fields overwrote the profile: %+v", stored)
	}
}

func TestResolveFederationClaimsUnverifiedRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	squatter, err := f.service.Register(ctx, RegisterInput{Phone: testPhone, Email: "victim@example.com", Password: "squatter-pw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.resolver.Resolve(ctx, EmailPassword{Email: "victim@example.com", Password: "squatter-pw"}); err != nil {
		t.Fatalf("password login before claim: %v", err)
	}

	f.provider.Register("owner", federation.Profile{Email: "victim@example.com", Name: "Victim", EmailVerified: true})
	res, err := f.resolver.Resolve(ctx, FederatedCode{Code: "owner"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Account.ID != squatter.ID || res.Account.HasPassword() || !res.Account.EmailVerified {
		t.Fatalf("unexpected claimed account %+v", res.Account)
	}
	if res.Account.TokenVersion != squatter.TokenVersion+1 {
		t.Fatalf("earlier sessions must be revoked, token version %d", res.Account.TokenVersion)
	}
	stored, _ := f.repo.FindByID(ctx, squatter.ID)
	if stored.HasPassword() || stored.TokenVersion != res.Account.TokenVersion {
		t.Fatalf("claim not persisted: %+v", stored)
	}
	if _, err := f.resolver.Resolve(ctx, EmailPassword{Email: "victim@example.com", Password: "squatter-pw"}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}

	f.provider.Register("again", federation.Profile{Email: "victim@example.com", EmailVerified: true})
	again, err := f.resolver.Resolve(ctx, FederatedCode{Code: "again"})
	if err != nil || again.Account.TokenVersion != res.Account.TokenVersion {
		t.Fatalf("verified account must not be reset again: %+v %v", again.Account, err)
	}
}

func TestResolveFederationOnlyAccountHasNoPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.Register("code-1", federation.Profile{Email: "fed@example.com", EmailVerified: true})
	if _, err := f.resolver.Resolve(ctx, FederatedCode{Code: "code-1"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err := f.resolver.Resolve(ctx, EmailPassword{Email: "fed@example.com", Password: "guess-guess"})
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	_, missing := f.resolver.Resolve(ctx, EmailPassword{Email: "none@example.com", Password: "guess-guess"})
	if err.Error() != missing.Error() {
		t.Fatalf("errors must not distinguish accounts: %q vs %q", err, missing)
	}
}

func TestResolveFederationUnverifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Register(ctx, RegisterInput{Phone: testPhone, Email: "owner@example.com"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.provider.Register("claim", federation.Profile{Email: "owner@example.com", Name: "Mallory"})
	if _, err := f.resolver.Resolve(ctx, FederatedCode{Code: "claim"}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected unverified email to be refused, got %v", err)
	}

	f.provider.Register("fresh", federation.Profile{Email: "new@example.com", Name: "New"})
	res, err := f.resolver.Resolve(ctx, FederatedCode{Code: "fresh"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Account.EmailVerified {
		t.Fatalf("unverified provider email must not be marked verified")
	}
}

func TestResolveRejectsDeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, _ := f.service.Register(ctx, RegisterInput{Phone: testPhone, Email: "ada@example.com", Password: "correct horse"})
	if _, err := f.service.Deactivate(ctx, acc.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := f.resolver.Resolve(ctx, EmailPassword{Email: "ada@example.com", Password: "correct horse"})
	if !errors.Is(err, apperr.ErrAccountDeactivated) {
		t.Fatalf("expected deactivated, got %v", err)
	}
	f.codes.codes[testPhone] = "123456"
	if _, err := f.resolver.Resolve(ctx, PhoneOTP{Phone: testPhone, Code: "123456"}); !errors.Is(err, apperr.ErrAccountDeactivated) {
		t.Fatalf("expected deactivated on phone path, got %v", err)
	}
	if len(f.minter.minted) != 0 {
		t.Fatalf("deactivated accounts must not receive sessions")
	}
}

func TestResolveNilFactor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.resolver.Resolve(context.Background(), nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
