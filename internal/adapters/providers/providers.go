// Package providers wires the supported booking providers into a factory.
package providers

import (
	"bookingsync/internal/adapters"
	"bookingsync/internal/adapters/bookeo"
	"bookingsync/internal/adapters/googlecal"
	"bookingsync/internal/adapters/simplybook"
	"bookingsync/internal/models"
)

// Register adds Bookeo, SimplyBook and Google Calendar to f.
func Register(f *adapters.Factory) {
	f.Register(models.ProviderBookeo, bookeo.New)
	f.Register(models.ProviderSimplyBook, simplybook.New)
	f.Register(models.ProviderGoogle, googlecal.New)
}

// NewFactory returns a factory with every supported provider registered.
func NewFactory(opts adapters.Options) *adapters.Factory {
	f := adapters.NewFactory(opts)
	Register(f)
	return f
}
