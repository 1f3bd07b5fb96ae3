package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"course-bot/internal/models"
	"course-bot/internal/store"
)

type quotaKey struct {
	userID int64
	day    string
}

// Store is an in-process ledger with the same semantics as the postgres
// store. Used by tests and by STORE_DRIVER=memory.
type Store struct {
	mu sync.RWMutex

	nextPurchaseID int64
	purchases      map[int64]*models.Purchase

	users     map[int64]string
	referrals map[int64]*models.Referral
	quotas    map[quotaKey]*models.DailyQuota
	events    []models.Event
	processed map[string]string

	courses map[string]*models.Course

	now func() time.Time
}

func New() *Store {
	return &Store{
		purchases: make(map[int64]*models.Purchase),
		users:     make(map[int64]string),
		referrals: make(map[int64]*models.Referral),
		quotas:    make(map[quotaKey]*models.DailyQuota),
		processed: make(map[string]string),
		courses:   make(map[string]*models.Course),
		now:       time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) AddUser(_ context.Context, userID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		s.users[userID] = username
	}
	return nil
}

// Purchases

func (s *Store) CreatePurchase(_ context.Context, userID int64, courseID string, amount int64) (*models.Purchase, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid amount %d", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPurchaseID++
	now := s.now()
	p := &models.Purchase{
		ID:        s.nextPurchaseID,
		UserID:    userID,
		CourseID:  courseID,
		Amount:    amount,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.purchases[p.ID] = p
	return clonePurchase(p), nil
}

func (s *Store) GetPurchase(_ context.Context, id int64) (*models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (s *Store) ListPurchasesForUser(_ context.Context, userID int64) ([]models.Purchase, error) {
	list := s.filter(func(p *models.Purchase) bool { return p.UserID == userID })
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

func (s *Store) ListPendingForUser(_ context.Context, userID int64) ([]models.Purchase, error) {
	list := s.filter(func(p *models.Purchase) bool {
		return p.UserID == userID && p.Status == models.StatusPending
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *Store) ListAwaitingProcessor(_ context.Context, limit int) ([]models.Purchase, error) {
	list := s.filter(func(p *models.Purchase) bool {
		return p.Status == models.StatusPending && p.TransactionID != nil
	})
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.Before(list[j].UpdatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *Store) filter(keep func(*models.Purchase) bool) []models.Purchase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Purchase
	for _, p := range s.purchases {
		if keep(p) {
			out = append(out, *clonePurchase(p))
		}
	}
	return out
}

func (s *Store) SetStatus(_ context.Context, id int64, upd store.StatusUpdate) (*models.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status != upd.From {
		return nil, store.ErrStatusConflict
	}

	p.Status = upd.To
	if upd.TxID != nil {
		tx := *upd.TxID
		p.TransactionID = &tx
	}
	if upd.Method != "" {
		p.PaymentMethod = upd.Method
	}
	p.UpdatedAt = s.now()
	return clonePurchase(p), nil
}

func (s *Store) AttachTransaction(_ context.Context, id int64, method, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return store.ErrNotFound
	}
	if p.Status != models.StatusPending {
		return store.ErrStatusConflict
	}
	p.PaymentMethod = method
	p.TransactionID = &txID
	p.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeletePendingPurchase(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return store.ErrNotFound
	}
	if p.Status != models.StatusPending {
		return store.ErrStatusConflict
	}
	delete(s.purchases, id)
	return nil
}

func (s *Store) CompletePurchase(_ context.Context, id int64, txID *string, rate decimal.Decimal) (*models.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status == models.StatusCompleted {
		return &models.Completion{Purchase: clonePurchase(p), AlreadyCompleted: true}, nil
	}
	if !models.CanTransition(p.Status, models.StatusCompleted) {
		return nil, fmt.Errorf("%w: purchase %d is %s", store.ErrStatusConflict, id, p.Status)
	}

	p.Status = models.StatusCompleted
	if txID != nil {
		tx := *txID
		p.TransactionID = &tx
	}
	p.UpdatedAt = s.now()

	return &models.Completion{
		Purchase: clonePurchase(p),
		Credit:   s.creditLocked(p.UserID, p.Amount, rate),
	}, nil
}

func (s *Store) HasCompletedAccess(_ context.Context, userID int64, courseID string) (bool, error) {
	list := s.filter(func(p *models.Purchase) bool {
		return p.UserID == userID && p.CourseID == courseID && p.Status == models.StatusCompleted
	})
	return len(list) > 0, nil
}

func (s *Store) HasAnyCompletedAccess(_ context.Context, userID int64) (bool, error) {
	list := s.filter(func(p *models.Purchase) bool {
		return p.UserID == userID && p.Status == models.StatusCompleted
	})
	return len(list) > 0, nil
}

// Referrals

func (s *Store) SaveReferrer(_ context.Context, referredID, referrerID int64) (bool, error) {
	if referredID == referrerID {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.referrals[referredID]; exists {
		return false, nil
	}
	s.referrals[referredID] = &models.Referral{
		ReferrerID: referrerID,
		ReferredID: referredID,
		Commission: decimal.Zero,
		PaidOut:    decimal.Zero,
		CreatedAt:  s.now(),
	}
	return true, nil
}

func (s *Store) GetReferral(_ context.Context, referredID int64) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.referrals[referredID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) CreditReferralCommission(_ context.Context, referredID, amount int64, rate decimal.Decimal) (*models.ReferralCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.creditLocked(referredID, amount, rate), nil
}

func (s *Store) creditLocked(referredID, amount int64, rate decimal.Decimal) *models.ReferralCredit {
	ref, ok := s.referrals[referredID]
	if !ok {
		return nil
	}
	commission := models.Commission(amount, rate)
	if !commission.IsPositive() {
		return nil
	}
	ref.Commission = ref.Commission.Add(commission)
	ref.Paid = false
	return &models.ReferralCredit{
		ReferrerID: ref.ReferrerID,
		ReferredID: ref.ReferredID,
		Commission: commission,
	}
}

func (s *Store) MarkCommissionPaid(_ context.Context, referrerID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, r := range s.referrals {
		if r.ReferrerID != referrerID || !r.Commission.IsPositive() {
			continue
		}
		total = total.Add(r.Commission)
		r.PaidOut = r.PaidOut.Add(r.Commission)
		r.Commission = decimal.Zero
		r.Paid = true
	}
	return total, nil
}

func (s *Store) ReferralStats(_ context.Context, referrerID int64) (*models.ReferralStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &models.ReferralStats{Unpaid: decimal.Zero, PaidOut: decimal.Zero}
	for _, r := range s.referrals {
		if r.ReferrerID != referrerID {
			continue
		}
		st.Referred++
		st.Unpaid = st.Unpaid.Add(r.Commission)
		st.PaidOut = st.PaidOut.Add(r.PaidOut)
	}
	return st, nil
}

// Quotas

func (s *Store) IncrementDailyQuota(_ context.Context, userID int64, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := quotaKey{userID: userID, day: day}
	q, ok := s.quotas[k]
	if !ok {
		q = &models.DailyQuota{UserID: userID, Day: day}
		s.quotas[k] = q
	}
	q.Count++
	return q.Count, nil
}

func (s *Store) DailyQuota(_ context.Context, userID int64, day string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q, ok := s.quotas[quotaKey{userID: userID, day: day}]; ok {
		return q.Count, nil
	}
	return 0, nil
}

// Analytics

func (s *Store) RecordEvent(_ context.Context, userID int64, eventType string, courseID *string, metadata map[string]any) error {
	var raw json.RawMessage
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		raw = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, models.Event{
		ID:        int64(len(s.events) + 1),
		UserID:    userID,
		Type:      eventType,
		CourseID:  courseID,
		Metadata:  raw,
		CreatedAt: s.now(),
	})
	return nil
}

// Events returns a copy of the recorded analytics events
func (s *Store) Events() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) FunnelStats(_ context.Context) ([]models.FunnelRow, error) {
	s.mu.RLock()
	counts := make(map[string]int64)
	for _, e := range s.events {
		counts[e.Type]++
	}
	s.mu.RUnlock()

	rows := make([]models.FunnelRow, 0, len(counts))
	for t, n := range counts {
		rows = append(rows, models.FunnelRow{EventType: t, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].EventType < rows[j].EventType
	})
	return rows, nil
}

func (s *Store) PopularCourses(_ context.Context, limit int) ([]models.CoursePopularity, error) {
	s.mu.RLock()
	byCourse := make(map[string]*models.CoursePopularity)
	for id := range s.courses {
		byCourse[id] = &models.CoursePopularity{CourseID: id}
	}
	for _, e := range s.events {
		if e.Type != models.EventClickCourse || e.CourseID == nil {
			continue
		}
		if row, ok := byCourse[*e.CourseID]; ok {
			row.Clicks++
		}
	}
	for _, p := range s.purchases {
		if p.Status != models.StatusCompleted {
			continue
		}
		if row, ok := byCourse[p.CourseID]; ok {
			row.Purchases++
		}
	}
	s.mu.RUnlock()

	rows := make([]models.CoursePopularity, 0, len(byCourse))
	for _, r := range byCourse {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Purchases != rows[j].Purchases {
			return rows[i].Purchases > rows[j].Purchases
		}
		if rows[i].Clicks != rows[j].Clicks {
			return rows[i].Clicks > rows[j].Clicks
		}
		return rows[i].CourseID < rows[j].CourseID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) SalesSummary(_ context.Context) (*models.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &models.SalesSummary{Users: int64(len(s.users))}
	for _, p := range s.purchases {
		switch p.Status {
		case models.StatusCompleted:
			sum.Completed++
			sum.Revenue += p.Amount
		case models.StatusPending, models.StatusPendingAdmin:
			sum.Pending++
		}
	}
	return sum, nil
}

func (s *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[eventID]; !ok {
		s.processed[eventID] = eventType
	}
	return nil
}

// Catalog

func (s *Store) SeedCatalog(_ context.Context, courses []models.Course) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.courses) > 0 {
		return false, nil
	}
	for _, c := range courses {
		cp := c
		cp.Lessons = append([]models.Lesson(nil), c.Lessons...)
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = s.now()
		}
		s.courses[c.ID] = &cp
	}
	return true, nil
}

func (s *Store) ListCourses(_ context.Context) ([]models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []models.Course
	for _, c := range s.courses {
		if c.Active {
			cp := *c
			cp.Lessons = nil
			list = append(list, cp)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Price != list[j].Price {
			return list[i].Price < list[j].Price
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Store) GetCourse(_ context.Context, id string) (*models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	cp.Lessons = append([]models.Lesson(nil), c.Lessons...)
	return &cp, nil
}

func (s *Store) ListLessons(ctx context.Context, courseID string) ([]models.Lesson, error) {
	c, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return c.Lessons, nil
}

func (s *Store) GetLesson(ctx context.Context, courseID string, number int) (*models.Lesson, error) {
	c, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	for _, l := range c.Lessons {
		if l.Number == number {
			cp := l
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func clonePurchase(p *models.Purchase) *models.Purchase {
	cp := *p
	if p.TransactionID != nil {
		tx := *p.TransactionID
		cp.TransactionID = &tx
	}
	return &cp
}
