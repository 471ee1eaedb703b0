package pinstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/database"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/metrics"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//MaxCommentLength is the longest comment, in characters, a pin may carry
const MaxCommentLength = 500

//EventPublisher tells other instances about pin changes. Publishing is best effort.
type EventPublisher interface {
	PinCreated(pin domain.Pin) error
	PinDeleted(id string) error
}

//Hub owns the pins collection on behalf of all connected viewers. Every write goes through
//the hub, which then pushes a fresh, whole snapshot to every open subscription.
type Hub struct {
	db        database.Datastore
	catalog   *catalog.Catalog
	policy    domain.DeletePolicy
	publisher EventPublisher
	now       func() time.Time

	// pushMu serialises snapshot computation and delivery so that
	// subscribers never observe an older snapshot after a newer one
	pushMu sync.Mutex

	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	lastCreated time.Time
	closed      bool
}

//Option configures a Hub
type Option func(*Hub)

//WithDeletePolicy selects who may delete a pin
func WithDeletePolicy(policy domain.DeletePolicy) Option {
	return func(h *Hub) {
		h.policy = policy
	}
}

//WithPublisher makes the hub announce its writes
func WithPublisher(publisher EventPublisher) Option {
	return func(h *Hub) {
		h.publisher = publisher
	}
}

//WithClock replaces the wall clock used for creation timestamps
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

//NewHub creates a hub on top of a datastore and a category catalog
func NewHub(db database.Datastore, c *catalog.Catalog, options ...Option) *Hub {
	h := &Hub{
		db:      db,
		catalog: c,
		policy:  domain.DeleteOwnPins,
		now:     time.Now,
		subs:    map[*Subscription]struct{}{},
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

//Catalog returns the catalog pins are validated against
func (h *Hub) Catalog() *catalog.Catalog {
	return h.catalog
}

//Policy returns the active delete policy
func (h *Hub) Policy() domain.DeletePolicy {
	return h.policy
}

//Snapshot returns the full, newest first list of pins matching the query
func (h *Hub) Snapshot(ctx context.Context, query domain.PinQuery) ([]domain.Pin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.db.GetPins(query)
}

//Subscribe opens a live subscription. The current snapshot is available right away and a new
//one follows every change. The subscription is released by Close or when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, query domain.PinQuery) (*Subscription, error) {
	h.pushMu.Lock()
	defer h.pushMu.Unlock()

	pins, err := h.db.GetPins(query)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(h, query)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("pin hub is shut down")
	}
	h.subs[sub] = struct{}{}
	sub.deliver(pins)
	h.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
		metrics.ActiveSubscriptions.Dec()
	}
}

//Create validates the new pin against the catalog, stores it as authored by identity and
//pushes fresh snapshots. Callers should observe the pin through their subscription.
func (h *Hub) Create(ctx context.Context, identity *domain.Identity, draft domain.NewPin) (domain.Pin, error) {
	if identity == nil || identity.ID == "" {
		return domain.Pin{}, domain.ErrAuthRequired
	}

	pin, err := h.newPin(identity, draft)
	if err != nil {
		metrics.WriteErrors.WithLabelValues("create").Inc()
		return domain.Pin{}, domain.NewWriteError("create", err)
	}

	if err = h.db.CreatePin(pin); err != nil {
		log.Errorf("Failed to store pin: %s", err.Error())
		metrics.WriteErrors.WithLabelValues("create").Inc()
		return domain.Pin{}, domain.NewWriteError("create", err)
	}

	log.WithFields(log.Fields{
		"pin":      pin.ID,
		"author":   pin.AuthorID,
		"category": pin.Category,
		"problem":  pin.ProblemID,
	}).Info("Pin created")

	metrics.PinsCreated.Inc()

	if h.publisher != nil {
		if err := h.publisher.PinCreated(pin); err != nil {
			log.Errorf("Failed to publish pin created event: %s", err.Error())
		}
	}

	h.Refresh(ctx)

	return pin, nil
}

func (h *Hub) newPin(identity *domain.Identity, draft domain.NewPin) (domain.Pin, error) {
	if !draft.Location.Valid() {
		return domain.Pin{}, fmt.Errorf("%w: location (%f,%f) is out of range", domain.ErrInvalidPin, draft.Location.Lat, draft.Location.Lng)
	}

	_, problem, err := h.catalog.Resolve(draft.Category, draft.ProblemID, draft.ProblemLabel)
	if err != nil {
		return domain.Pin{}, err
	}

	severity, err := domain.ParseSeverity(string(draft.Severity))
	if err != nil {
		return domain.Pin{}, err
	}

	comment := strings.TrimSpace(draft.Comment)
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return domain.Pin{}, fmt.Errorf("%w: comment is longer than %d characters", domain.ErrInvalidPin, MaxCommentLength)
	}

	newest, err := h.db.GetNewestPinTime()
	if err != nil {
		return domain.Pin{}, fmt.Errorf("failed to read the newest pin time: %w", err)
	}

	return domain.Pin{
		ID:                uuid.New().String(),
		Lat:               draft.Location.Lat,
		Lng:               draft.Location.Lng,
		Category:          draft.Category,
		ProblemID:         problem.ID,
		ProblemLabel:      problem.Label,
		Glyph:             problem.Glyph,
		Severity:          severity,
		Comment:           comment,
		AuthorID:          identity.ID,
		AuthorDisplayName: identity.DisplayName,
		CreatedAt:         h.nextTimestamp(newest),
	}, nil
}

//nextTimestamp returns a millisecond precision timestamp that is strictly later than both the
//previous one handed out here and the newest pin already stored. The stored pin may have been
//written before a restart, by another instance or under a clock that has since stepped back.
func (h *Hub) nextTimestamp(newestStored time.Time) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	if newestStored.After(h.lastCreated) {
		h.lastCreated = newestStored.UTC().Truncate(time.Millisecond)
	}

	ts := h.now().UTC().Truncate(time.Millisecond)
	if !ts.After(h.lastCreated) {
		ts = h.lastCreated.Add(time.Millisecond)
	}
	h.lastCreated = ts

	return ts
}

//CanDelete returns true if the identity may delete the pin under the active policy
func (h *Hub) CanDelete(identity *domain.Identity, pin domain.Pin) bool {
	return h.policy.Allows(identity, pin)
}

//Delete removes a pin if the identity is allowed to, and pushes fresh snapshots
func (h *Hub) Delete(ctx context.Context, identity *domain.Identity, id string) error {
	if identity == nil || identity.ID == "" {
		return domain.ErrAuthRequired
	}

	pin, err := h.db.GetPinByID(id)
	if err != nil {
		metrics.WriteErrors.WithLabelValues("delete").Inc()
		return domain.NewWriteError("delete", err)
	}

	if !h.CanDelete(identity, pin) {
		log.Infof("Refused to let %s delete pin %s authored by %s", identity.ID, pin.ID, pin.AuthorID)
		metrics.WriteErrors.WithLabelValues("delete").Inc()
		return domain.NewWriteError("delete", domain.ErrForbidden)
	}

	if err = h.db.DeletePin(id); err != nil {
		metrics.WriteErrors.WithLabelValues("delete").Inc()
		return domain.NewWriteError("delete", err)
	}

	log.WithFields(log.Fields{"pin": id, "by": identity.ID}).Info("Pin deleted")

	metrics.PinsDeleted.Inc()

	if h.publisher != nil {
		if err := h.publisher.PinDeleted(id); err != nil {
			log.Errorf("Failed to publish pin deleted event: %s", err.Error())
		}
	}

	h.Refresh(ctx)

	return nil
}

//Refresh recomputes the snapshot of every open subscription and pushes it
func (h *Hub) Refresh(ctx context.Context) {
	h.pushMu.Lock()
	defer h.pushMu.Unlock()

	h.mu.Lock()
	queries := map[string]domain.PinQuery{}
	for sub := range h.subs {
		queries[sub.query.Key()] = sub.query
	}
	h.mu.Unlock()

	snapshots := map[string][]domain.Pin{}
	for key, query := range queries {
		pins, err := h.db.GetPins(query)
		if err != nil {
			log.Errorf("Failed to compute snapshot for %s: %s", key, err.Error())
			continue
		}
		snapshots[key] = pins
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if pins, ok := snapshots[sub.query.Key()]; ok {
			sub.deliver(pins)
		}
	}
}

//Close releases every open subscription and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

//SubscriptionCount returns the number of open subscriptions
func (h *Hub) SubscriptionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
