package screens

import (
	"context"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// DefaultRecent is how many requests the dashboard lists.
const DefaultRecent = 5

// Summary is what the dashboard renders.
type Summary struct {
	viewstate.Snapshot[request.Request]
	Counts map[request.Status]int
	Recent []request.Request
}

// Dashboard shows the requests of the signed-in user, or the ones assigned
// to a designer.
type Dashboard struct {
	deps   Deps
	recent int
	view   *viewstate.Container[request.Request]
}

// NewDashboard creates the dashboard.
func NewDashboard(deps Deps) *Dashboard {
	d := &Dashboard{deps: deps, recent: DefaultRecent}
	d.view = viewstate.New(d.fetch,
		viewstate.WithName[request.Request]("dashboard"),
		viewstate.WithLogger[request.Request](deps.logger()))
	return d
}

func (d *Dashboard) fetch(ctx context.Context, _ string) ([]request.Request, error) {
	u, ok := d.deps.Identity.Current()
	if !ok {
		return nil, apperr.ErrNotSignedIn
	}
	if u.Role == user.RoleDesigner {
		return d.deps.Requests.ForDesigner(ctx, u.ID, "")
	}
	return d.deps.Requests.ForOwner(ctx, u.ID, "")
}

// Load fetches the requests.
func (d *Dashboard) Load(ctx context.Context) error { return d.view.Load(ctx) }

// Retry re-runs the last failed load.
func (d *Dashboard) Retry(ctx context.Context) error { return d.view.Retry(ctx) }

// Subscribe forwards container changes.
func (d *Dashboard) Subscribe(fn func(viewstate.Snapshot[request.Request])) func() {
	return d.view.Subscribe(fn)
}

// Summary returns counts per status and the newest requests.
func (d *Dashboard) Summary() Summary {
	snap := d.view.Snapshot()
	recent := snap.Items
	if len(recent) > d.recent {
		recent = recent[:d.recent]
	}
	return Summary{
		Snapshot: snap,
		Counts:   request.CountByStatus(snap.Items),
		Recent:   recent,
	}
}

// Close unmounts the screen.
func (d *Dashboard) Close() { d.view.Close() }
