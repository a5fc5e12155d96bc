package fanclub

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/metrics"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
	"github.com/thousandfans/fanclub/pkg/poll"
)

const (
	testRelayer   = "1000fans.near"
	testPublicKey = "ed25519:6E8sCci9badyRkXb3JoRpBj5p8C6Tw41ELDZoiihKEtp"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu       sync.Mutex
	accounts []*models.Account
	payments map[string]*models.Payment
	runs     map[string]*models.ProvisioningRun

	lastQuery        models.AccountQuery
	createAccountErr error
	lockHeld         bool
	runWrites        int
}

func newMemRepo() *memRepo {
	return &memRepo{
		payments: map[string]*models.Payment{},
		runs:     map[string]*models.ProvisioningRun{},
	}
}

func matches(value, want string) bool {
	return want == "" || value == want
}

func (r *memRepo) FindAccount(_ context.Context, q models.AccountQuery) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQuery = q
	for _, a := range r.accounts {
		if matches(a.AccountID, q.AccountID) && matches(a.Email, q.Email) && matches(a.PublicKey, q.PublicKey) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memRepo) FindAccountByAnyIdentity(_ context.Context, q models.AccountQuery) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if (q.AccountID != "" && a.AccountID == q.AccountID) ||
			(q.Email != "" && a.Email == q.Email) ||
			(q.PublicKey != "" && a.PublicKey == q.PublicKey) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memRepo) CreateAccount(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createAccountErr != nil {
		return r.createAccountErr
	}
	copied := *account
	r.accounts = append(r.accounts, &copied)
	return nil
}

func (r *memRepo) SaveAccount(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.accounts {
		if a.AccountID == account.AccountID {
			copied := *account
			r.accounts[i] = &copied
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *memRepo) CreatePayment(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *payment
	r.payments[payment.Reference] = &copied
	return nil
}

func (r *memRepo) GetPayment(_ context.Context, reference string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *memRepo) UpsertPayment(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[payment.Reference]; ok {
		p.Status = payment.Status
		p.ProviderStatus = payment.ProviderStatus
		return nil
	}
	copied := *payment
	r.payments[payment.Reference] = &copied
	return nil
}

func (r *memRepo) UpdatePaymentStatus(_ context.Context, update models.PaymentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[update.Reference]
	if !ok {
		return models.ErrNotFound
	}
	p.Status = update.Status
	p.ProviderStatus = update.ProviderStatus
	return nil
}

func (r *memRepo) UpdatePayoutStatus(_ context.Context, reference, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok {
		return models.ErrNotFound
	}
	p.PayoutStatus = status
	return nil
}

func (r *memRepo) SetPaymentTransfer(_ context.Context, reference, transferID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok {
		return models.ErrNotFound
	}
	p.TransferID = transferID
	return nil
}

func (r *memRepo) payment(reference string) *models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.payments[reference]
	if p == nil {
		return nil
	}
	copied := *p
	return &copied
}

func (r *memRepo) CreateRun(_ context.Context, run *models.ProvisioningRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *run
	copied.UpdatedAt = time.Now()
	r.runs[run.ID] = &copied
	return nil
}

func (r *memRepo) UpdateRun(_ context.Context, run *models.ProvisioningRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return models.ErrNotFound
	}
	copied := *run
	copied.UpdatedAt = time.Now()
	r.runs[run.ID] = &copied
	r.runWrites++
	return nil
}

func (r *memRepo) StaleRuns(_ context.Context, before time.Time) ([]*models.ProvisioningRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ProvisioningRun
	for _, run := range r.runs {
		if run.State == models.RunRunning && run.UpdatedAt.Before(before) {
			copied := *run
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memRepo) onlyRun(t *testing.T) *models.ProvisioningRun {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) != 1 {
		t.Fatalf("want exactly one run, have %d", len(r.runs))
	}
	for _, run := range r.runs {
		return run
	}
	return nil
}

func (r *memRepo) AcquireLock(context.Context, string, string, time.Duration) (bool, error) {
	return !r.lockHeld, nil
}

func (r *memRepo) ReleaseLock(context.Context, string, string) error { return nil }

func (r *memRepo) Close() error { return nil }

// fakeChain records every call and answers through optional func fields.
type fakeChain struct {
	mu    sync.Mutex
	calls []string

	balance      *big.Int
	balanceErr   error
	tokens       map[string][]models.NFTToken
	members      map[string]bool
	accessKeys   map[string][]string
	deleteCtxErr error

	createFn  func(accountID string) error
	mintFn    func(ownerID string) (string, error)
	deleteFn  func(accountID, beneficiaryID string) error
	releaseFn func(accountID string) error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balance: big.NewInt(1000),
		tokens:     map[string][]models.NFTToken{},
		members:    map[string]bool{},
		accessKeys: map[string][]string{},
	}
}

func (c *fakeChain) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeChain) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeChain) RelayerAccountID() string { return testRelayer }

func (c *fakeChain) AccountBalance(_ context.Context, accountID string) (*big.Int, error) {
	c.record("balance " + accountID)
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return c.balance, nil
}

func (c *fakeChain) CreateAccount(_ context.Context, accountID, _ string, _ *big.Int) error {
	c.record("create " + accountID)
	if c.createFn != nil {
		return c.createFn(accountID)
	}
	return nil
}

func (c *fakeChain) DeleteAccount(ctx context.Context, accountID, beneficiaryID string) error {
	c.record("delete " + accountID + " -> " + beneficiaryID)
	c.deleteCtxErr = ctx.Err()
	if c.deleteFn != nil {
		return c.deleteFn(accountID, beneficiaryID)
	}
	return nil
}

func (c *fakeChain) ReleaseCustody(_ context.Context, accountID string) error {
	c.record("release " + accountID)
	if c.releaseFn != nil {
		return c.releaseFn(accountID)
	}
	return nil
}

func (c *fakeChain) MintToken(_ context.Context, ownerID string, _ models.TokenMetadata) (string, error) {
	c.record("mint " + ownerID)
	if c.mintFn != nil {
		return c.mintFn(ownerID)
	}
	return "fan001", nil
}

func (c *fakeChain) AddGroupMember(_ context.Context, accountID string) error {
	c.record("add_member " + accountID)
	return nil
}

func (c *fakeChain) HasAccessKey(_ context.Context, accountID, publicKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.accessKeys[accountID] {
		if key == publicKey {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeChain) TokensForOwner(_ context.Context, accountID string, _ int) ([]models.NFTToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[accountID], nil
}

func (c *fakeChain) IsGroupMember(_ context.Context, accountID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[accountID], nil
}

// fakeCards answers through func fields; unset ones fail the test when called.
type fakeCards struct {
	t *testing.T

	createCardFn      func(req models.CardRequest) (*models.ProviderPayment, error)
	createPaymentFn   func(req models.CardPaymentRequest) (*models.ProviderPayment, error)
	getPaymentFn      func(id string) (*models.ProviderPayment, error)
	createRecipientFn func(chain, address string) (*models.Recipient, error)
	getRecipientFn    func(id string) (*models.Recipient, error)
	createTransferFn  func(req models.TransferRequest) (*models.Transfer, error)
	getTransferFn     func(id string) (*models.Transfer, error)
	publicKeyFn       func(keyID string) (string, error)
}

func (c *fakeCards) unexpected(name string) {
	c.t.Errorf("unexpected call to %s", name)
}

func (c *fakeCards) CreateCard(_ context.Context, req models.CardRequest) (*models.ProviderPayment, error) {
	if c.createCardFn == nil {
		c.unexpected("CreateCard")
		return nil, models.ErrNotConfigured
	}
	return c.createCardFn(req)
}

func (c *fakeCards) CreatePayment(_ context.Context, req models.CardPaymentRequest) (*models.ProviderPayment, error) {
	if c.createPaymentFn == nil {
		c.unexpected("CreatePayment")
		return nil, models.ErrNotConfigured
	}
	return c.createPaymentFn(req)
}

func (c *fakeCards) GetPayment(_ context.Context, id string) (*models.ProviderPayment, error) {
	if c.getPaymentFn == nil {
		c.unexpected("GetPayment")
		return nil, models.ErrNotConfigured
	}
	return c.getPaymentFn(id)
}

func (c *fakeCards) CreateRecipient(_ context.Context, _, chain, address, _ string) (*models.Recipient, error) {
	if c.createRecipientFn == nil {
		c.unexpected("CreateRecipient")
		return nil, models.ErrNotConfigured
	}
	return c.createRecipientFn(chain, address)
}

func (c *fakeCards) GetRecipient(_ context.Context, id string) (*models.Recipient, error) {
	if c.getRecipientFn == nil {
		c.unexpected("GetRecipient")
		return nil, models.ErrNotConfigured
	}
	return c.getRecipientFn(id)
}

func (c *fakeCards) MasterWalletID(context.Context) (string, error) {
	return "1000216185", nil
}

func (c *fakeCards) CreateTransfer(_ context.Context, req models.TransferRequest) (*models.Transfer, error) {
	if c.createTransferFn == nil {
		c.unexpected("CreateTransfer")
		return nil, models.ErrNotConfigured
	}
	return c.createTransferFn(req)
}

func (c *fakeCards) GetTransfer(_ context.Context, id string) (*models.Transfer, error) {
	if c.getTransferFn == nil {
		c.unexpected("GetTransfer")
		return nil, models.ErrNotConfigured
	}
	return c.getTransferFn(id)
}

func (c *fakeCards) NotificationPublicKey(_ context.Context, keyID string) (string, error) {
	if c.publicKeyFn == nil {
		c.unexpected("NotificationPublicKey")
		return "", models.ErrNotConfigured
	}
	return c.publicKeyFn(keyID)
}

type fakeOnramp struct {
	createFn func(req models.OnrampRequest) (*models.OnrampSession, error)
	getFn    func(id string) (*models.OnrampSession, error)
}

func (o *fakeOnramp) CreateOnrampSession(_ context.Context, req models.OnrampRequest) (*models.OnrampSession, error) {
	return o.createFn(req)
}

func (o *fakeOnramp) GetOnrampSession(_ context.Context, id string) (*models.OnrampSession, error) {
	return o.getFn(id)
}

type fakeStorage struct {
	presigned []string
}

func (s *fakeStorage) List(context.Context, string) ([]string, error) { return nil, nil }

func (s *fakeStorage) GetJSON(context.Context, string, interface{}) error { return models.ErrNotFound }

func (s *fakeStorage) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	s.presigned = append(s.presigned, key)
	return "https://media.example.com/" + key + "?X-Amz-Signature=abc", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (n *fakeNotifier) SendAlert(_ context.Context, alert *models.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type testEnv struct {
	fanclub  *Fanclub
	repo     *memRepo
	chain    *fakeChain
	cards    *fakeCards
	onramp   *fakeOnramp
	storage  *fakeStorage
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		AccountSuffix:     "1000fans.near",
		RelayerAccountID:  testRelayer,
		InitialBalance:    big.NewInt(10),
		MinRelayerBalance: big.NewInt(100),
		TokenTitle:        "1000fans membership",
		ProvisioningStale: 10 * time.Minute,
		ReconcileInterval: time.Minute,
		TreasuryAddress:   "1000fans.near",
		PresignExpiry:     15 * time.Minute,
	}
	env := &testEnv{
		repo:     newMemRepo(),
		chain:    newFakeChain(),
		cards:    &fakeCards{t: t},
		onramp:   &fakeOnramp{},
		storage:  &fakeStorage{},
		notifier: &fakeNotifier{},
	}
	env.fanclub = NewFanclub(env.repo, env.chain, env.cards, env.onramp, env.storage, env.notifier, metrics.Nop{}, logger.NewNop(), cfg)
	env.fanclub.polls = pollPolicy{
		payment:   poll.Config{Attempts: 10},
		recipient: poll.Config{Attempts: 12},
		transfer:  poll.Config{Attempts: 12},
	}
	return env
}
