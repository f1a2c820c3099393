package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coursedrip/models"
	"coursedrip/transport"
	"coursedrip/utils"
)

// in-memory store double with the same claim semantics as the Postgres
// implementation: a claim wins iff no record exists for the key yet

type memStore struct {
	mu   sync.Mutex
	subs map[string]*models.Subscriber
	recs map[string]*models.DeliveryRecord
}

func newMemStore() *memStore {
	return &memStore{
		subs: make(map[string]*models.Subscriber),
		recs: make(map[string]*models.DeliveryRecord),
	}
}

func (m *memStore) addSubscriber(sub models.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = &sub
}

func (m *memStore) setStatus(id string, status models.SubscriberStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[id].Status = status
}

func (m *memStore) setTokens(id string, tokens map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[id].Tokens = tokens
}

func (m *memStore) record(key models.DeliveryKey) *models.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key.String()]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (m *memStore) Schedulable(ctx context.Context) ([]models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []models.Subscriber
	for _, s := range m.subs {
		subs = append(subs, *s)
	}
	return subs, nil
}

func (m *memStore) Get(ctx context.Context, id string) (*models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) Status(ctx context.Context, id string) (models.SubscriberStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return "", errors.New("not found")
	}
	return s.Status, nil
}

func (m *memStore) Records(ctx context.Context, subscriberID string) ([]models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []models.DeliveryRecord
	for _, r := range m.recs {
		if r.SubscriberID == subscriberID {
			recs = append(recs, *r)
		}
	}
	return recs, nil
}

func (m *memStore) claim(key models.DeliveryKey, status models.DeliveryStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.recs[key.String()]; exists {
		return false, nil
	}
	m.recs[key.String()] = &models.DeliveryRecord{
		SubscriberID: key.SubscriberID,
		SequenceID:   key.SequenceID,
		DayOffset:    key.DayOffset,
		Kind:         key.Kind,
		Status:       status,
		ClaimedAt:    time.Now().UTC(),
	}
	return true, nil
}

func (m *memStore) ClaimPrimary(ctx context.Context, subID, seqID string, dayOffset int) (bool, error) {
	return m.claim(models.DeliveryKey{SubscriberID: subID, SequenceID: seqID, DayOffset: dayOffset, Kind: models.KindPrimary}, models.DeliveryClaimed)
}

func (m *memStore) ClaimSecondary(ctx context.Context, subID, seqID string, dayOffset, index int) (bool, error) {
	return m.claim(models.DeliveryKey{SubscriberID: subID, SequenceID: seqID, DayOffset: dayOffset, Kind: models.KindSecondary(index)}, models.DeliveryClaimed)
}

func (m *memStore) CancelSecondary(ctx context.Context, subID, seqID string, dayOffset, index int) (bool, error) {
	return m.claim(models.DeliveryKey{SubscriberID: subID, SequenceID: seqID, DayOffset: dayOffset, Kind: models.KindSecondary(index)}, models.DeliveryCancelled)
}

func (m *memStore) MarkDelivered(ctx context.Context, key models.DeliveryKey, deliveredAt time.Time, variantIndex *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key.String()]
	if !ok || rec.Status != models.DeliveryClaimed {
		return errors.New("record not claimed")
	}
	rec.Status = models.DeliveryDelivered
	rec.DeliveredAt = &deliveredAt
	rec.ChosenVariantIndex = variantIndex
	return nil
}

func (m *memStore) MarkFailed(ctx context.Context, key models.DeliveryKey, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key.String()]
	if !ok || rec.Status != models.DeliveryClaimed {
		return errors.New("record not claimed")
	}
	rec.Status = models.DeliveryFailed
	rec.Attempts = attempts
	rec.LastError = lastError
	return nil
}

// ChooseVariant mirrors the Postgres implementation: selection and the
// used-variant append are one critical section per subscriber.
func (m *memStore) ChooseVariant(ctx context.Context, subscriberID, sequenceID string, dayOffset, index int, candidates []string) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subscriberID]
	if !ok {
		return "", 0, errors.New("not found")
	}
	choice, variantIdx := utils.SelectVariant(subscriberID, sequenceID, dayOffset, index, candidates, sub.UsedVariants)
	for _, v := range sub.UsedVariants {
		if v == choice {
			return choice, variantIdx, nil
		}
	}
	sub.UsedVariants = append(sub.UsedVariants, choice)
	return choice, variantIdx, nil
}

// transport double recording every send, optionally failing

type fakeTransport struct {
	mu       sync.Mutex
	sent     []transport.Message
	attempts int
	failures int // fail the first N attempts
}

func (t *fakeTransport) Send(ctx context.Context, msg transport.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.attempts <= t.failures {
		return errors.New("transport unavailable")
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) messages() []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Message(nil), t.sent...)
}

// settable clock

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// harness wiring a driver against the fakes

type harness struct {
	store *memStore
	dm    *fakeTransport
	feed  *fakeTransport
	clock *fakeClock
	pool  *Pool
	drv   *Driver
}

func newHarness(cat *catalogFixture) *harness {
	return newHarnessWithStore(cat, newMemStore())
}

func newHarnessWithStore(cat *catalogFixture, st *memStore) *harness {
	dm := &fakeTransport{}
	feed := &fakeTransport{}
	clock := &fakeClock{t: cat.t0}
	pool := NewPool(4)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := Config{
		TickInterval:    time.Minute,
		Workers:         4,
		CatchUpPerTick:  1,
		MaxSendAttempts: 3,
		RetryBackoff:    time.Millisecond,
		SendTimeout:     time.Second,
	}
	transports := transport.Registry{"dm": dm, "feed": feed}
	primary := NewPrimaryDispatcher(st, transports, clock, logger, cfg)
	secondary := NewSecondaryDispatcher(st, transports, clock, logger, cfg)

	return &harness{
		store: st,
		dm:    dm,
		feed:  feed,
		clock: clock,
		pool:  pool,
		drv:   NewDriver(st, cat.catalog, primary, secondary, pool, clock, logger, cfg),
	}
}

// tick runs one driver tick and waits for every dispatched job to finish.
func (h *harness) tick() {
	h.drv.Tick(context.Background())
	h.pool.Wait()
}
