package actors

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-hail/internal/availability"
	"github.com/example/ride-hail/internal/cache"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/store"
)

// Registry handles rider and driver registration and profile upkeep.
// Deletion is guarded: an actor with a ride still in a non-terminal
// status cannot be removed, and a driver's open availability is closed
// before its record goes away.
type Registry struct {
	Store        store.Store
	Availability *availability.Registry
	Cache        cache.Invalidator
	Logger       *slog.Logger
}

func (r *Registry) RegisterRider(ctx context.Context, rider *models.Rider) error {
	if rider.ID == "" || rider.Name == "" {
		return models.Invalid("rider id and name are required")
	}
	if rider.Home != nil {
		if err := rider.Home.Validate(); err != nil {
			return err
		}
	}
	if rider.Work != nil {
		if err := rider.Work.Validate(); err != nil {
			return err
		}
	}
	if err := r.Store.CreateRider(ctx, rider); err != nil {
		return err
	}
	r.Logger.Info("rider registered", "rider_id", rider.ID)
	return nil
}

func (r *Registry) GetRider(ctx context.Context, id string) (*models.Rider, error) {
	return r.Store.GetRider(ctx, id)
}

func (r *Registry) UpdateRiderProfile(ctx context.Context, rider *models.Rider) error {
	if rider.Home != nil {
		if err := rider.Home.Validate(); err != nil {
			return err
		}
	}
	if rider.Work != nil {
		if err := rider.Work.Validate(); err != nil {
			return err
		}
	}
	if err := r.Store.UpdateRider(ctx, rider); err != nil {
		return err
	}
	r.invalidate(ctx, rider.ID)
	return nil
}

func (r *Registry) DeleteRider(ctx context.Context, id string) error {
	if err := r.Store.DeleteRider(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	r.Logger.Info("rider deleted", "rider_id", id)
	return nil
}

func (r *Registry) RegisterDriver(ctx context.Context, driver *models.Driver) error {
	if driver.ID == "" || driver.Name == "" {
		return models.Invalid("driver id and name are required")
	}
	// availability is registered separately, never at signup
	driver.Availability = models.Availability{}
	driver.CurrentRideID = ""
	if err := r.Store.CreateDriver(ctx, driver); err != nil {
		return err
	}
	r.Logger.Info("driver registered", "driver_id", driver.ID)
	return nil
}

func (r *Registry) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	return r.Store.GetDriver(ctx, id)
}

func (r *Registry) UpdateDriverProfile(ctx context.Context, driver *models.Driver) error {
	if err := r.Store.UpdateDriver(ctx, driver); err != nil {
		return err
	}
	r.invalidate(ctx, driver.ID)
	return nil
}

// DeleteDriver closes any open availability first, then removes the
// record if no non-terminal ride references it.
func (r *Registry) DeleteDriver(ctx context.Context, id string) error {
	d, err := r.Store.GetDriver(ctx, id)
	if err != nil {
		return err
	}
	if d.Availability.IsAvailable || d.Availability.Expired(time.Now()) {
		if err := r.Availability.SetUnavailable(ctx, id); err != nil {
			return err
		}
	}
	if err := r.Store.DeleteDriver(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	r.Logger.Info("driver deleted", "driver_id", id)
	return nil
}

func (r *Registry) invalidate(ctx context.Context, actorID string) {
	if err := r.Cache.Invalidate(ctx, actorID); err != nil {
		r.Logger.Warn("session cache invalidation failed", "actor_id", actorID, "error", err)
	}
}
