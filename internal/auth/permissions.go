package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"regdesk.org/internal/obs"
)

// Capabilities used by the compliance screens. Grants may name any string;
// these are the ones the application ships with.
const (
	PermLegalRegisterView   = "legal-register:view"
	PermLegalRegisterEdit   = "legal-register:edit"
	PermLegalRegisterUpload = "legal-register:upload"
	PermProceduresEdit      = "procedures:edit"
	PermRegistersEdit       = "registers:edit"
	PermHSEGuidanceCreate   = "hse-guidance:create"
	PermEnvGuidanceCreate   = "environmental-guidance:create"
)

// BuiltinPermissions lists the capabilities known to the application.
var BuiltinPermissions = []string{
	PermLegalRegisterView,
	PermLegalRegisterEdit,
	PermLegalRegisterUpload,
	PermProceduresEdit,
	PermRegistersEdit,
	PermHSEGuidanceCreate,
	PermEnvGuidanceCreate,
}

// EffectivePermissions returns the union of the record's unexpired direct
// grants and the unexpired grants of every group it belongs to.
func EffectivePermissions(rec *UserRecord, now time.Time) map[string]struct{} {
	set := make(map[string]struct{})
	if rec == nil {
		return set
	}
	for _, g := range rec.Grants {
		addGrant(set, g, now)
	}
	for _, group := range rec.Groups {
		for _, g := range group.Grants {
			addGrant(set, g, now)
		}
	}
	return set
}

func addGrant(set map[string]struct{}, g Grant, now time.Time) {
	id := strings.TrimSpace(g.SystemID)
	if id == "" || !g.ActiveAt(now) {
		return
	}
	set[id] = struct{}{}
}

// Aggregator resolves the effective permissions of a user from live store
// state. Nothing is cached between calls.
type Aggregator struct {
	store Store
	clock abtime.AbstractTime
}

// NewAggregator constructs an Aggregator. A nil clock means wall time.
func NewAggregator(store Store, clock abtime.AbstractTime) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &Aggregator{store: store, clock: clock}, nil
}

// Resolve loads userID and computes its effective permission set. It fails
// with ErrNoActiveUser when the user is missing, inactive or suspended, or
// when the store cannot be read.
func (a *Aggregator) Resolve(ctx context.Context, userID string) (Principal, error) {
	rec, err := a.loadActive(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(rec.Identity(), EffectivePermissions(rec, a.clock.Now())), nil
}

// loadActive fetches the record and enforces the account status.
func (a *Aggregator) loadActive(ctx context.Context, userID string) (*UserRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrNoActiveUser
	}
	rec, err := a.store.UserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Logger().Error("load user for authorization", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, ErrNoActiveUser
	}
	if rec == nil || !rec.Status.Active() {
		return nil, ErrNoActiveUser
	}
	return rec, nil
}
